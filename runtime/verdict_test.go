package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	testCases := []struct {
		name        string
		raw         string
		shouldRetry bool
		reason      string
	}{
		{
			name:        "plain json pass",
			raw:         `{"should_retry": false, "reason": "", "issues": [], "suggestions": []}`,
			shouldRetry: false,
		},
		{
			name:        "plain json retry",
			raw:         `{"should_retry": true, "reason": "incomplete", "issues": [], "suggestions": []}`,
			shouldRetry: true,
			reason:      "incomplete",
		},
		{
			name:        "fenced with language tag",
			raw:         "```json\n{\"should_retry\": true, \"reason\": \"bad format\"}\n```",
			shouldRetry: true,
			reason:      "bad format",
		},
		{
			name:        "fenced without language tag",
			raw:         "```\n{\"should_retry\": false}\n```",
			shouldRetry: false,
		},
		{
			name:        "surrounding prose with fence",
			raw:         "Here is my verdict:\n```json\n{\"should_retry\": true, \"reason\": \"x\"}\n```\nthanks",
			shouldRetry: true,
			reason:      "x",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVerdict(tc.raw)
			if v.ShouldRetry != tc.shouldRetry {
				t.Errorf("ShouldRetry = %v, expected %v", v.ShouldRetry, tc.shouldRetry)
			}
			if tc.reason != "" && v.Reason != tc.reason {
				t.Errorf("Reason = %q, expected %q", v.Reason, tc.reason)
			}
		})
	}
}

func TestParseVerdict_FailsSafe(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"not json", "I think it looks fine!"},
		{"array not object", `[1, 2, 3]`},
		{"empty", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVerdict(tc.raw)
			if !v.ShouldRetry {
				t.Error("unparseable verdict must demand a retry")
			}
			if !strings.Contains(v.Reason, "validator error") {
				t.Errorf("reason should flag the validator error, got %q", v.Reason)
			}
		})
	}
}

func TestVerdict_DetailedReason(t *testing.T) {
	v := Verdict{
		ShouldRetry: true,
		Reason:      "output is incomplete",
		Issues:      []string{"missing header", "no summary"},
		Suggestions: []string{"add a title"},
	}

	out := v.DetailedReason()
	for _, expected := range []string{"output is incomplete", "Issues found:", "  - missing header", "  - no summary", "Suggestions:", "  - add a title"} {
		if !strings.Contains(out, expected) {
			t.Errorf("DetailedReason missing %q:\n%s", expected, out)
		}
	}
}

func TestValidator_Func(t *testing.T) {
	v := NewValidatorFunc(func(result any) (bool, string) {
		s, _ := result.(string)
		return len(s) < 5, "too short"
	})

	if verdict := v.Validate(context.Background(), "hi"); !verdict.ShouldRetry || verdict.Reason != "too short" {
		t.Errorf("expected retry verdict, got %+v", verdict)
	}
	if verdict := v.Validate(context.Background(), "long enough"); verdict.ShouldRetry {
		t.Errorf("expected pass verdict, got %+v", verdict)
	}
}

func TestValidator_Delegated(t *testing.T) {
	judge := Func(func(ctx context.Context, input any) (any, error) {
		prompt, _ := input.(string)
		if !strings.Contains(prompt, "draft result") {
			return nil, fmt.Errorf("prompt does not include the result: %q", prompt)
		}
		return "```json\n{\"should_retry\": true, \"reason\": \"weak\", \"issues\": [\"vague\"]}\n```", nil
	})

	verdict := NewDelegatedValidator(judge).Validate(context.Background(), "draft result")
	if !verdict.ShouldRetry || verdict.Reason != "weak" {
		t.Errorf("unexpected verdict: %+v", verdict)
	}
	if len(verdict.Issues) != 1 || verdict.Issues[0] != "vague" {
		t.Errorf("issues not parsed: %+v", verdict.Issues)
	}
}

func TestValidator_DelegatedFailure(t *testing.T) {
	failing := Func(func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("judge unavailable")
	})

	verdict := NewDelegatedValidator(failing).Validate(context.Background(), "anything")
	if !verdict.ShouldRetry {
		t.Error("a failing delegated validator must demand a retry")
	}
	if !strings.Contains(verdict.Reason, "judge unavailable") {
		t.Errorf("reason should carry the error, got %q", verdict.Reason)
	}
}
