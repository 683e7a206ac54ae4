package httpcall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew_Config(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, expected the 30s default", p.Config.Timeout)
	}
	if p.Config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, expected 3", p.Config.MaxRetries)
	}

	p, err = New(map[string]any{"timeout": "5s", "max_retries": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Config.Timeout != 5*time.Second || p.Config.MaxRetries != 1 {
		t.Errorf("overrides not applied: %+v", p.Config)
	}

	if _, err := New(map[string]any{"max_retries": 99}); err == nil {
		t.Error("out-of-range max_retries must fail validation")
	}
}

func TestInvoke_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "ping" {
			t.Errorf("query q = %q", r.URL.Query().Get("q"))
		}
		if r.Header.Get("X-Trace") != "abc" {
			t.Errorf("header X-Trace = %q", r.Header.Get("X-Trace"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"pong": true})
	}))
	defer srv.Close()

	p, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Invoke(context.Background(), map[string]any{
		"url":              srv.URL,
		"method":           "GET",
		"headers":          map[string]any{"X-Trace": "abc"},
		"query_parameters": map[string]any{"q": "ping"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("result is %T", out)
	}
	if result["status_code"] != 200 {
		t.Errorf("status_code = %v", result["status_code"])
	}
	if result["is_error"] != false {
		t.Errorf("is_error = %v", result["is_error"])
	}
	body, _ := result["body"].(map[string]any)
	if body["pong"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestInvoke_PostBody(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "42"})
	}))
	defer srv.Close()

	p, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Invoke(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "POST",
		"body":   map[string]any{"name": "widget"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received["name"] != "widget" {
		t.Errorf("server received %v", received)
	}
	result := out.(map[string]any)
	if result["status_code"] != 201 {
		t.Errorf("status_code = %v", result["status_code"])
	}
}

func TestInvoke_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{"message": "upstream down"})
	}))
	defer srv.Close()

	p, err := New(map[string]any{"max_retries": 0})
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Invoke(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "GET",
	})
	if err != nil {
		t.Fatalf("non-2xx is a result, not an error: %v", err)
	}
	result := out.(map[string]any)
	if result["is_error"] != true || result["status_code"] != 502 {
		t.Errorf("result = %v", result)
	}
	body, _ := result["body"].(map[string]any)
	if body["message"] != "upstream down" {
		t.Errorf("error body = %v", body)
	}
}

func TestInvoke_InvalidInput(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name  string
		input any
	}{
		{"not a map", "https://example.com"},
		{"missing url", map[string]any{"method": "GET"}},
		{"bad method", map[string]any{"url": "https://example.com", "method": "BREW"}},
		{"bad url", map[string]any{"url": "not a url", "method": "GET"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Invoke(context.Background(), tc.input); err == nil {
				t.Error("expected an error")
			} else if !strings.Contains(err.Error(), "httpcall") {
				t.Errorf("error not attributed to the plugin: %v", err)
			}
		})
	}
}
