package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Verdict is the structured outcome of validating a step result.
type Verdict struct {
	ShouldRetry bool     `json:"should_retry"`
	Reason      string   `json:"reason"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// DetailedReason flattens the verdict into a single message suitable for
// feedback history and user display.
func (v Verdict) DetailedReason() string {
	var b strings.Builder
	b.WriteString(v.Reason)
	if len(v.Issues) > 0 {
		b.WriteString("\n\nIssues found:\n")
		for _, issue := range v.Issues {
			b.WriteString("  - ")
			b.WriteString(issue)
			b.WriteString("\n")
		}
	}
	if len(v.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range v.Suggestions {
			b.WriteString("  - ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ValidatorFunc is the plain-function validator form: it inspects a raw
// result and reports whether the step should retry, and why.
type ValidatorFunc func(result any) (shouldRetry bool, reason string)

// Validator is a tagged variant over the two supported validator forms:
// a plain function, or a delegated unit whose textual output is parsed as
// a structured verdict. Exactly one of the two fields is set.
type Validator struct {
	fn       ValidatorFunc
	delegate Executable
}

// NewValidatorFunc wraps a plain validation function.
func NewValidatorFunc(fn ValidatorFunc) *Validator {
	return &Validator{fn: fn}
}

// NewDelegatedValidator wraps an executable-like unit (typically an LLM
// judge) whose output must conform to the verdict JSON schema.
func NewDelegatedValidator(delegate Executable) *Validator {
	return &Validator{delegate: delegate}
}

const validationPrompt = `You are a validation expert. Validate the following result and determine if it needs to be retried.

Result to validate:
%s

Check that the result is complete, well-formed, contains all required information, and meets the expected quality standards.

You MUST respond with ONLY a JSON object of this shape:
{"should_retry": true/false, "reason": "why a retry is needed (empty if validation passed)", "issues": ["specific issues found"], "suggestions": ["suggestions for improvement"]}`

// Validate runs the configured validator against a raw result. A delegated
// validator that fails or returns an unparseable verdict yields a retry
// verdict rather than an error: unparseable approval is never trusted.
func (v *Validator) Validate(ctx context.Context, result any) Verdict {
	if v.fn != nil {
		retry, reason := v.fn(result)
		return Verdict{ShouldRetry: retry, Reason: reason}
	}

	prompt := fmt.Sprintf(validationPrompt, RenderPayload(result))
	out, err := v.delegate.Invoke(ctx, prompt)
	if err != nil {
		return Verdict{ShouldRetry: true, Reason: fmt.Sprintf("validator error: %v", err)}
	}
	return ParseVerdict(RenderPayload(out))
}

// ParseVerdict parses a delegated validator's textual output into a
// Verdict. Code fences around the JSON are stripped first. Parse failure
// fails safe: the verdict demands a retry with an error reason.
func ParseVerdict(raw string) Verdict {
	text := stripCodeFences(raw)

	if !gjson.Valid(text) {
		return Verdict{
			ShouldRetry: true,
			Reason:      "validator error: invalid JSON verdict: " + truncate(text, 200),
		}
	}

	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return Verdict{
			ShouldRetry: true,
			Reason:      "validator error: verdict is not a JSON object",
		}
	}

	verdict := Verdict{
		ShouldRetry: parsed.Get("should_retry").Bool(),
		Reason:      parsed.Get("reason").String(),
	}
	for _, issue := range parsed.Get("issues").Array() {
		verdict.Issues = append(verdict.Issues, issue.String())
	}
	for _, s := range parsed.Get("suggestions").Array() {
		verdict.Suggestions = append(verdict.Suggestions, s.String())
	}
	return verdict
}

// stripCodeFences removes a surrounding markdown code block, with or
// without a language tag, leaving the inner text.
func stripCodeFences(raw string) string {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if nl := strings.Index(text, "\n"); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(text), "{") {
			// Drop the language tag line (e.g. "json").
			text = text[nl+1:]
		}
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
