package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// OutputProcessor derives a display message and the payload passed to the
// next step from a raw executable result.
type OutputProcessor func(result any) (display string, pass any)

// NextSelector resolves the step that follows. It is a tagged variant:
// either a fixed step name or a function of the output artifact. A nil
// selector on a step means implicit sequential order.
type NextSelector struct {
	name string
	fn   func(out Artifact) (string, error)
}

// NextStep routes to a fixed step name.
func NextStep(name string) *NextSelector {
	return &NextSelector{name: name}
}

// NextFunc routes based on the output artifact. Returning an empty name
// ends the flow.
func NextFunc(fn func(out Artifact) (string, error)) *NextSelector {
	return &NextSelector{fn: fn}
}

// Resolve yields the name of the next step for the given output.
func (s *NextSelector) Resolve(out Artifact) (string, error) {
	if s.fn != nil {
		return s.fn(out)
	}
	return s.name, nil
}

// Step is one node in the flow graph. It owns the automatic retry loop,
// the human confirmation gate, and the cumulative feedback context for a
// single executable. A step holds no mutable cross-invocation state: each
// Execute call carries its own feedback history.
type Step struct {
	// Name is the unique key of this step within a flow.
	Name string

	// Exec is the opaque unit of work.
	Exec Executable

	// Args, when set, derives the invocation input from the incoming
	// artifact instead of passing the payload through. Evaluated fresh on
	// every attempt.
	Args func(in Artifact) (map[string]any, error)

	// Validator, when set, gates each raw result and drives automatic
	// retries.
	Validator *Validator

	// MaxAttempts bounds automatic retries per round. Values below 1 are
	// normalized to the flow's default at registration.
	MaxAttempts int

	// Confirm requires human approval of the output before it is passed on.
	Confirm bool

	// Next overrides implicit sequential routing.
	Next *NextSelector

	// Process turns a raw result into (display, pass). Nil means the
	// generic rendering with the raw result passed through unchanged.
	Process OutputProcessor
}

// Execute runs the step against an input artifact. It returns a new
// artifact on success. The error returns are Exit and Rollback signals,
// context cancellation, and assembly-level faults (an args expression that
// fails to evaluate, or a required channel that is missing); every other
// failure is folded into the retry loop and resolved with the human
// through the channel.
func (s *Step) Execute(ctx context.Context, in Artifact, channel *Interaction, l *slog.Logger) (Artifact, error) {
	if l == nil {
		l = slog.Default()
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	original := RenderPayload(in.Payload)
	var history []FeedbackEntry

	askCtx := ctx
	if channel != nil {
		askCtx = WithAsker(ctx, channel.Ask)
	}

outer:
	for {
		var result any
		var verdict Verdict

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			input, err := s.buildInput(in, original, history)
			if err != nil {
				return Artifact{}, err
			}

			l.Info("executing step",
				"step", s.Name,
				"attempt", attempt,
				"max_attempts", maxAttempts)

			res, err := s.Exec.Invoke(askCtx, input)
			if err != nil {
				cont, sigErr := s.recoverExecError(askCtx, channel, l, err, &history)
				if sigErr != nil {
					return Artifact{}, sigErr
				}
				if cont {
					continue outer
				}
				// Context cancellation or a broken answer source is fatal.
				return Artifact{}, err
			}
			result = res

			if s.Validator == nil {
				verdict = Verdict{}
				break
			}

			verdict = s.Validator.Validate(askCtx, result)
			if !verdict.ShouldRetry {
				break
			}

			reason := verdict.DetailedReason()
			l.Warn("validation failed",
				"step", s.Name,
				"attempt", attempt,
				"reason", reason)

			if attempt < maxAttempts {
				history = append(history, FeedbackEntry{Kind: FeedbackValidation, Text: reason})
			}
		}

		display, pass := s.processOutput(result)

		// The only auto-approve path: validation passed and no
		// confirmation required.
		if !verdict.ShouldRetry && !s.Confirm {
			return NewArtifact(s.Name, pass), nil
		}

		if channel == nil {
			return Artifact{}, fmt.Errorf("step %s: human confirmation required but no interaction channel is set", s.Name)
		}

		answer, err := channel.Ask(askCtx, s.confirmationPrompt(display, verdict, maxAttempts))
		if err != nil {
			if sig, ok := AsRetry(err); ok {
				if sig.Feedback != "" {
					history = append(history, FeedbackEntry{Kind: FeedbackUser, Text: sig.Feedback})
				}
				continue outer
			}
			// Exit and Rollback propagate to the flow unhandled.
			return Artifact{}, err
		}

		if isAcceptance(answer) {
			return NewArtifact(s.Name, pass), nil
		}

		history = append(history, FeedbackEntry{Kind: FeedbackUser, Text: answer})
	}
}

// recoverExecError surfaces an unexpected executable failure to the human
// exactly once, offering retry, rollback or exit. It returns cont=true
// when the loop should restart with the error folded into history, or a
// signal error to propagate. Control signals raised through AskUser inside
// the executable are handled the same way.
func (s *Step) recoverExecError(ctx context.Context, channel *Interaction, l *slog.Logger, execErr error, history *[]FeedbackEntry) (cont bool, sigErr error) {
	if sig, ok := AsRetry(execErr); ok {
		if sig.Feedback != "" {
			*history = append(*history, FeedbackEntry{Kind: FeedbackUser, Text: sig.Feedback})
		}
		return true, nil
	}
	if AsExit(execErr) {
		return false, execErr
	}
	if _, ok := AsRollback(execErr); ok {
		return false, execErr
	}
	if ctx.Err() != nil {
		return false, nil
	}

	l.Error("step execution failed", "step", s.Name, "error", execErr)

	if channel == nil {
		return false, nil
	}

	question := fmt.Sprintf(
		"Step %q failed: %v\nReply with feedback (or /retry) to try again, /rollback to go back, /exit to stop.",
		s.Name, execErr)
	answer, askErr := channel.Ask(ctx, question)
	if askErr != nil {
		if sig, ok := AsRetry(askErr); ok {
			*history = append(*history, FeedbackEntry{Kind: FeedbackValidation, Text: execErr.Error()})
			if sig.Feedback != "" {
				*history = append(*history, FeedbackEntry{Kind: FeedbackUser, Text: sig.Feedback})
			}
			return true, nil
		}
		if AsExit(askErr) || isRollback(askErr) {
			return false, askErr
		}
		return false, nil
	}

	*history = append(*history, FeedbackEntry{Kind: FeedbackValidation, Text: execErr.Error()})
	if strings.TrimSpace(answer) != "" {
		*history = append(*history, FeedbackEntry{Kind: FeedbackUser, Text: answer})
	}
	return true, nil
}

// buildInput derives the executable's invocation input. Args-backed steps
// re-evaluate their argument map against the incoming artifact on every
// attempt; payload-backed steps receive the payload, or the synthesized
// cumulative context once feedback has accumulated.
func (s *Step) buildInput(in Artifact, original string, history []FeedbackEntry) (any, error) {
	if s.Args != nil {
		args, err := s.Args(in)
		if err != nil {
			return nil, fmt.Errorf("step %s: evaluating args: %w", s.Name, err)
		}
		return args, nil
	}
	if len(history) > 0 {
		return BuildCumulativeContext(original, history), nil
	}
	return in.Payload, nil
}

func (s *Step) processOutput(result any) (string, any) {
	if s.Process != nil {
		return s.Process(result)
	}
	return RenderPayload(result), result
}

func (s *Step) confirmationPrompt(display string, verdict Verdict, maxAttempts int) string {
	var b strings.Builder
	if verdict.ShouldRetry {
		fmt.Fprintf(&b, "Validation Failed (Max retries %d reached): %s\n\n", maxAttempts, verdict.DetailedReason())
	}
	fmt.Fprintf(&b, "Step %q produced:\n%s\n\n", s.Name, display)
	b.WriteString(`Accept with "yes" or an empty answer, reply with feedback to refine, /rollback to go back, /exit to stop.`)
	return b.String()
}

func isAcceptance(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "yes", "y":
		return true
	}
	return false
}

func isRollback(err error) bool {
	_, ok := AsRollback(err)
	return ok
}
