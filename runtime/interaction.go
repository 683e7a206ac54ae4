package runtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command prefixes recognized in any answer. Matching is case-insensitive
// and ignores surrounding whitespace; trailing text becomes the reason or
// feedback carried by the signal.
const (
	CommandExit     = "/exit"
	CommandRollback = "/rollback"
	CommandRetry    = "/retry"
)

// DefaultRollbackReason is used when /rollback carries no trailing text.
const DefaultRollbackReason = "user requested rollback"

// AnswerSource supplies an answer to a question. It may block for as long
// as it likes; cancellation travels through ctx.
type AnswerSource func(ctx context.Context, question string) (string, error)

// ExchangeRole distinguishes question records from answer records in the
// conversation log.
type ExchangeRole string

const (
	RoleQuestion ExchangeRole = "question"
	RoleAnswer   ExchangeRole = "answer"
)

// Exchange is one entry in the conversation log.
type Exchange struct {
	ID   string
	Role ExchangeRole
	Text string
	At   time.Time
}

// Interaction is the single chokepoint for all user-facing questions.
// Every question is logged before the answer is solicited and every answer
// is logged after receipt, so the log is an exact chronological audit trail.
// Commands (/exit, /rollback, /retry) are parsed out of raw answers and
// surfaced as control signals instead of being returned as answer text.
type Interaction struct {
	source       AnswerSource
	initialInput string
	log          []Exchange
	l            *slog.Logger
}

// NewInteraction builds an interaction channel over the given answer source.
func NewInteraction(source AnswerSource, l *slog.Logger) *Interaction {
	if l == nil {
		l = slog.Default()
	}
	return &Interaction{source: source, l: l}
}

// WithInitialInput presets the initial flow input so Run never has to ask
// for it interactively.
func (i *Interaction) WithInitialInput(input string) *Interaction {
	i.initialInput = input
	return i
}

// Log returns a copy of the conversation log.
func (i *Interaction) Log() []Exchange {
	out := make([]Exchange, len(i.log))
	copy(out, i.log)
	return out
}

func (i *Interaction) record(role ExchangeRole, text string) {
	i.log = append(i.log, Exchange{
		ID:   uuid.New().String(),
		Role: role,
		Text: text,
		At:   time.Now(),
	})
}

// Ask puts a question to the answer source and returns the plain-text
// answer. If the answer starts with a recognized command prefix the
// corresponding control signal is returned as the error and the answer
// text is empty.
func (i *Interaction) Ask(ctx context.Context, question string) (string, error) {
	i.record(RoleQuestion, question)

	raw, err := i.source(ctx, question)
	if err != nil {
		return "", err
	}
	i.record(RoleAnswer, raw)

	return parseAnswer(raw)
}

// InitialInput resolves the flow's initial input: the preset value if one
// was supplied, otherwise an interactive prompt. Commands issued at this
// point propagate as signals like any other answer.
func (i *Interaction) InitialInput(ctx context.Context, prompt string) (string, error) {
	if i.initialInput != "" {
		return i.initialInput, nil
	}
	return i.Ask(ctx, prompt)
}

// parseAnswer inspects a raw answer for command prefixes. The prefix match
// trims and case-folds, but a plain answer comes back verbatim and the
// trailing reason/feedback of a command keeps its original case.
func parseAnswer(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, CommandExit):
		return "", &ExitSignal{}
	case strings.HasPrefix(lower, CommandRollback):
		reason := strings.TrimSpace(trimmed[len(CommandRollback):])
		if reason == "" {
			reason = DefaultRollbackReason
		}
		return "", &RollbackSignal{Reason: reason}
	case strings.HasPrefix(lower, CommandRetry):
		feedback := strings.TrimSpace(trimmed[len(CommandRetry):])
		return "", &RetrySignal{Feedback: feedback}
	}

	return raw, nil
}
