package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Flow owns the directed graph of named steps, the start step, and the
// append-only history of successful artifacts. It drives the run loop and
// handles rollback and exit signals raised through steps. A Flow instance
// is not safe for concurrent runs; execution is strictly sequential.
type Flow struct {
	ID string

	cfg     Config
	channel *Interaction
	l       *slog.Logger

	steps   map[string]*Step
	order   []string
	start   string
	history []Artifact
}

// NewFlow creates an empty flow. The first registered step becomes the
// start step unless SetStart overrides it.
func NewFlow(id string, cfg Config, channel *Interaction, l *slog.Logger) *Flow {
	if l == nil {
		l = slog.Default()
	}
	return &Flow{
		ID:      id,
		cfg:     cfg,
		channel: channel,
		l:       l,
		steps:   make(map[string]*Step),
	}
}

// AddStep registers a step. Duplicate names are rejected. A step without
// its own attempt limit inherits the configured default.
func (f *Flow) AddStep(s *Step) error {
	if s == nil || s.Name == "" {
		return newConfigError(ErrorCodeInvalidStep, "", "step must have a name")
	}
	if s.Exec == nil {
		return newConfigError(ErrorCodeInvalidStep, s.Name, "step has no executable")
	}
	if _, exists := f.steps[s.Name]; exists {
		return newConfigError(ErrorCodeDuplicateStep, s.Name, "step %q is already registered", s.Name)
	}
	if s.Confirm && f.channel == nil {
		return newConfigError(ErrorCodeInvalidStep, s.Name, "step requires confirmation but the flow has no interaction channel")
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = f.cfg.DefaultMaxAttempts
	}
	f.steps[s.Name] = s
	f.order = append(f.order, s.Name)
	if f.start == "" {
		f.start = s.Name
	}
	return nil
}

// SetStart selects the step the flow begins with.
func (f *Flow) SetStart(name string) error {
	if _, ok := f.steps[name]; !ok {
		return newConfigError(ErrorCodeUnresolvedStep, name, "start step %q is not registered", name)
	}
	f.start = name
	return nil
}

// History returns a copy of the artifacts produced so far, one per
// successfully completed step invocation.
func (f *Flow) History() []Artifact {
	out := make([]Artifact, len(f.history))
	copy(out, f.history)
	return out
}

// Interaction exposes the flow's interaction channel.
func (f *Flow) Interaction() *Interaction {
	return f.channel
}

// Run executes the flow to completion. The initial payload is resolved by
// priority: the initialInput argument, then the channel's preset input,
// then an interactive prompt. The returned artifact is the final step's
// output, or, after an exit command, the last artifact produced.
func (f *Flow) Run(ctx context.Context, initialInput string) (Artifact, error) {
	if len(f.steps) == 0 || f.start == "" {
		return Artifact{}, newConfigError(ErrorCodeMissingStart, "", "no start step registered")
	}
	if err := f.validateGraph(); err != nil {
		return Artifact{}, err
	}

	l := f.l.With("flow", f.ID, "run_id", uuid.New().String())

	input, exited, err := f.resolveInitialInput(ctx, initialInput, l)
	if err != nil {
		return Artifact{}, err
	}
	if exited {
		return Artifact{}, nil
	}

	// Each run starts from a clean history; a rollback can never pop a
	// frame left over from an earlier run on the same flow.
	f.history = nil

	seed := seedArtifact(input, f.start)
	carried := seed
	current := f.start
	rollbacks := 0

	for current != "" {
		step, ok := f.steps[current]
		if !ok {
			return carried, newConfigError(ErrorCodeUnresolvedStep, current, "step %q is not registered", current)
		}

		carried.Destination = current
		f.debugArtifact(l, carried)

		out, err := step.Execute(ctx, carried, f.channel, l)
		if err != nil {
			if AsExit(err) {
				l.Info("exit requested, stopping flow", "step", current)
				return carried, nil
			}
			if sig, ok := AsRollback(err); ok {
				rollbacks++
				if f.cfg.RollbackBudget > 0 && rollbacks > f.cfg.RollbackBudget {
					return carried, newConfigError(ErrorCodeRollbackBudget, current,
						"rollback budget of %d exhausted", f.cfg.RollbackBudget)
				}
				current, carried = f.rollback(l, current, seed, sig.Reason)
				continue
			}
			// Anything else is fatal and propagates unrecovered.
			return carried, fmt.Errorf("step %s failed: %w", current, err)
		}

		rollbacks = 0
		f.history = append(f.history, out)
		carried = out

		next, err := f.resolveNext(step, out)
		if err != nil {
			return carried, err
		}
		current = next
	}

	return carried, nil
}

// rollback pops one history frame and returns the step to re-run together
// with the artifact it should consume. With empty history the step pointer
// stays put and the current step simply re-runs.
func (f *Flow) rollback(l *slog.Logger, current string, seed Artifact, reason string) (string, Artifact) {
	if len(f.history) == 0 {
		l.Warn("rollback with empty history, retrying current step",
			"step", current,
			"reason", reason)
		return current, seed
	}

	popped := f.history[len(f.history)-1]
	f.history = f.history[:len(f.history)-1]

	carried := seed
	if len(f.history) > 0 {
		carried = f.history[len(f.history)-1]
	}

	l.Info("rolling back",
		"from", current,
		"to", popped.Producer,
		"reason", reason)

	return popped.Producer, carried
}

func (f *Flow) resolveInitialInput(ctx context.Context, explicit string, l *slog.Logger) (string, bool, error) {
	if explicit != "" {
		return explicit, false, nil
	}
	for {
		input, err := f.channel.InitialInput(ctx, f.cfg.InitialInputPrompt)
		if err == nil {
			return input, false, nil
		}
		if AsExit(err) {
			l.Info("exit requested before flow start")
			return "", true, nil
		}
		if IsControlSignal(err) {
			// Nothing to roll back to or retry yet.
			l.Warn("ignoring control command before flow start", "command", err.Error())
			continue
		}
		return "", false, err
	}
}

// validateGraph checks that every statically-known next-step reference
// resolves to a registered step. Function selectors are checked when they
// produce a name at runtime.
func (f *Flow) validateGraph() error {
	for _, name := range f.order {
		s := f.steps[name]
		if s.Next == nil || s.Next.fn != nil || s.Next.name == "" {
			continue
		}
		if _, ok := f.steps[s.Next.name]; !ok {
			return newConfigError(ErrorCodeUnresolvedStep, name,
				"next step %q is not registered", s.Next.name)
		}
	}
	return nil
}

func (f *Flow) resolveNext(step *Step, out Artifact) (string, error) {
	if step.Next != nil {
		name, err := step.Next.Resolve(out)
		if err != nil {
			return "", fmt.Errorf("resolving next step after %s: %w", step.Name, err)
		}
		if name == "" {
			return "", nil
		}
		if _, ok := f.steps[name]; !ok {
			return "", newConfigError(ErrorCodeUnresolvedStep, step.Name,
				"next step %q is not registered", name)
		}
		return name, nil
	}

	for i, n := range f.order {
		if n == step.Name {
			if i+1 < len(f.order) {
				return f.order[i+1], nil
			}
			break
		}
	}
	return "", nil
}

func (f *Flow) debugArtifact(l *slog.Logger, a Artifact) {
	if !f.cfg.DebugArtifacts {
		return
	}
	l.Debug("artifact in transit",
		"producer", a.Producer,
		"destination", a.Destination,
		"payload", a.PayloadString())
}
