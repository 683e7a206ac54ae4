// Package httpcall provides an executable that performs an HTTP request
// as a step's unit of work. The input payload is a map describing the
// request; the result is a map with status and decoded body.
package httpcall

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"

	"gateflow/runtime"
)

// Config holds the plugin configuration with declarative tags.
type Config struct {
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
	Debug       bool          `yaml:"debug" default:"false"`
}

// CallInput is the typed request description decoded from the payload.
type CallInput struct {
	URL         string            `json:"url" validate:"required,url"`
	Method      string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_parameters"`
	Body        map[string]any    `json:"body"`
}

// Plugin implements runtime.Executable over a shared resty client. It
// keeps no per-call state, so a single instance may back several steps.
type Plugin struct {
	Config Config
	client *resty.Client
}

var validate = validator.New()

// New builds the plugin from raw config values (defaults applied,
// then validated).
func New(rawConfig map[string]any) (*Plugin, error) {
	p := &Plugin{}
	if err := runtime.InitializeConfig(&p.Config, rawConfig); err != nil {
		return nil, fmt.Errorf("httpcall config: %w", err)
	}
	return p, nil
}

// Initialize sets up the shared HTTP client.
func (p *Plugin) Initialize() error {
	p.client = resty.New().
		SetTimeout(p.Config.Timeout).
		SetRetryCount(p.Config.MaxRetries).
		SetRetryWaitTime(time.Duration(p.Config.RetryWaitMS) * time.Millisecond).
		SetDebug(p.Config.Debug)
	return nil
}

// Invoke performs the HTTP request described by the input payload.
func (p *Plugin) Invoke(ctx context.Context, input any) (any, error) {
	if p.client == nil {
		if err := p.Initialize(); err != nil {
			return nil, err
		}
	}

	m, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("httpcall expects a map payload, got %T", input)
	}

	var call CallInput
	if err := decodeInput(m, &call); err != nil {
		return nil, fmt.Errorf("httpcall: invalid input: %w", err)
	}
	if err := validate.Struct(call); err != nil {
		return nil, fmt.Errorf("httpcall: invalid input: %w", err)
	}

	req := p.client.R().SetContext(ctx)
	if len(call.Headers) > 0 {
		req.SetHeaders(call.Headers)
	}
	if len(call.QueryParams) > 0 {
		req.SetQueryParams(call.QueryParams)
	}
	if call.Body != nil {
		req.SetBody(call.Body)
	}

	var body map[string]any
	req.SetResult(&body).SetError(&body)

	resp, err := req.Execute(call.Method, call.URL)
	if err != nil {
		return nil, fmt.Errorf("httpcall: request failed: %w", err)
	}

	return map[string]any{
		"status":      resp.Status(),
		"status_code": resp.StatusCode(),
		"is_error":    resp.IsError(),
		"body":        body,
	}, nil
}

func decodeInput(m map[string]any, target *CallInput) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}
