package runtime

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New()

// Config carries engine-wide settings. There is no global state: the
// config object is passed into Flow at assembly time.
type Config struct {
	// DefaultMaxAttempts bounds automatic retries for steps that do not
	// set their own limit.
	DefaultMaxAttempts int `yaml:"default_max_attempts" default:"3" validate:"gte=1"`

	// RollbackBudget caps consecutive rollbacks that make no forward
	// progress. 0 means unlimited.
	RollbackBudget int `yaml:"rollback_budget" default:"0" validate:"gte=0"`

	// DebugArtifacts logs artifact provenance and payload at every hop.
	DebugArtifacts bool `yaml:"debug_artifacts" default:"false"`

	// InitialInputPrompt is the question asked when no initial input was
	// preset and none was passed to Run.
	InitialInputPrompt string `yaml:"initial_input_prompt" default:"Please provide the initial input:"`
}

// DefaultConfig returns a config with all tag defaults applied.
func DefaultConfig() Config {
	var cfg Config
	// Tag defaults are static; this cannot fail.
	_ = defaults.Set(&cfg)
	return cfg
}

// InitializeConfig prepares a config struct: apply tag defaults, merge raw
// values (e.g. from a YAML file), then validate the final result.
func InitializeConfig(config any, rawValues map[string]any) error {
	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	if len(rawValues) > 0 {
		if err := mapToStructFromYAML(rawValues, config); err != nil {
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// mapToStructFromYAML decodes a raw value map into a struct using yaml
// tags for field mapping, with weak typing for scalar coercion.
func mapToStructFromYAML(m map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(m)
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax.
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// ResolveEnvVar resolves ${VAR} / ${VAR:default} references in property
// values. Non-string values and plain strings pass through unchanged.
func ResolveEnvVar(value any) (any, error) {
	strValue, ok := value.(string)
	if !ok {
		return value, nil
	}

	matches := envVarPattern.FindStringSubmatch(strValue)
	if matches == nil {
		return value, nil
	}

	varName := matches[1]
	defaultPart := matches[2]

	if envValue, exists := os.LookupEnv(varName); exists {
		return envValue, nil
	}

	if defaultPart != "" {
		return strings.TrimPrefix(defaultPart, ":"), nil
	}

	return nil, fmt.Errorf("required environment variable not set: %s", varName)
}
