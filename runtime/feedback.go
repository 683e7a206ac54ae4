package runtime

import (
	"strconv"
	"strings"
)

// FeedbackKind labels an entry in a step's feedback history.
type FeedbackKind string

const (
	// FeedbackUser is an additional requirement or clarification supplied
	// by the human during the confirmation gate.
	FeedbackUser FeedbackKind = "user_feedback"
	// FeedbackValidation is an automated quality-gate failure reported by
	// a validator or a recovered execution error.
	FeedbackValidation FeedbackKind = "validation_error"
)

// FeedbackEntry is one recorded piece of feedback. Entries are kept in the
// exact order they were produced; the executable sees them chronologically.
type FeedbackEntry struct {
	Kind FeedbackKind
	Text string
}

const (
	feedbackExplanation = "User feedback represents additional requirements or clarifications from the human user."
	validationExplanation = "Validation errors are automated quality gates that failed: system-level checks " +
		"verifying the output meets specific criteria, constraints, or format requirements."

	feedbackLabel   = "[USER FEEDBACK]"
	validationLabel = "[VALIDATION ERROR]"
)

// BuildCumulativeContext synthesizes the input for a re-attempt: the
// original request, an explanation of the two feedback kinds, the history
// in chronological order labeled by kind, and closing instructions listing
// which categories of issue the next attempt must address.
func BuildCumulativeContext(original string, history []FeedbackEntry) string {
	if len(history) == 0 {
		return original
	}

	var hasUser, hasValidation bool
	for _, e := range history {
		switch e.Kind {
		case FeedbackUser:
			hasUser = true
		case FeedbackValidation:
			hasValidation = true
		}
	}

	var b strings.Builder
	b.WriteString("=== ORIGINAL REQUEST ===\n")
	b.WriteString(original)
	b.WriteString("\n\n=== CONTEXT ===\n")
	if hasUser {
		b.WriteString(feedbackExplanation)
		b.WriteString("\n")
	}
	if hasValidation {
		b.WriteString(validationExplanation)
		b.WriteString("\n")
	}

	b.WriteString("\n=== HISTORY ===\n")
	for _, e := range history {
		switch e.Kind {
		case FeedbackUser:
			b.WriteString(feedbackLabel)
		case FeedbackValidation:
			b.WriteString(validationLabel)
		}
		b.WriteString(" ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}

	b.WriteString("\n=== INSTRUCTIONS ===\n")
	b.WriteString("Please fulfill ALL requirements above:\n")
	b.WriteString("1. Complete the original request\n")
	n := 2
	if hasUser {
		b.WriteString(strconv.Itoa(n))
		b.WriteString(". Address all user feedback (additional requirements from the human)\n")
		n++
	}
	if hasValidation {
		b.WriteString(strconv.Itoa(n))
		b.WriteString(". Fix all validation errors (system quality checks that failed)\n")
	}

	return b.String()
}
