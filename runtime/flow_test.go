package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func appendExec(suffix string) Executable {
	return Func(func(ctx context.Context, input any) (any, error) {
		s, _ := input.(string)
		return s + suffix, nil
	})
}

func passthroughExec() Executable {
	return Func(func(ctx context.Context, input any) (any, error) {
		return input, nil
	})
}

func buildFlow(t *testing.T, channel *Interaction, steps ...*Step) *Flow {
	t.Helper()
	f := NewFlow("test", DefaultConfig(), channel, nil)
	for _, s := range steps {
		if err := f.AddStep(s); err != nil {
			t.Fatalf("AddStep(%s): %v", s.Name, err)
		}
	}
	return f
}

func TestFlow_SequentialWithConfirmation(t *testing.T) {
	channel, src := newTestChannel("yes")
	f := buildFlow(t, channel,
		&Step{Name: "A", Exec: appendExec("1")},
		&Step{Name: "B", Exec: passthroughExec(), Confirm: true},
		&Step{Name: "C", Exec: appendExec("!")},
	)

	out, err := f.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Producer != "C" || out.Payload != "x1!" {
		t.Errorf("final artifact = (%s, %v), expected (C, x1!)", out.Producer, out.Payload)
	}
	if len(src.questions) != 1 || !strings.Contains(src.questions[0], "x1") {
		t.Errorf("B must present A's output for confirmation, questions: %v", src.questions)
	}

	history := f.History()
	if len(history) != 3 {
		t.Fatalf("history has %d entries, expected 3", len(history))
	}
	for idx, producer := range []string{"A", "B", "C"} {
		if history[idx].Producer != producer {
			t.Errorf("history[%d].Producer = %q, expected %q", idx, history[idx].Producer, producer)
		}
	}
}

func TestFlow_RollbackPopsOneFrame(t *testing.T) {
	aCalls := 0
	channel, _ := newTestChannel("/rollback bad output", "yes")
	f := buildFlow(t, channel,
		&Step{Name: "A", Exec: Func(func(ctx context.Context, input any) (any, error) {
			aCalls++
			return "a-out", nil
		})},
		&Step{Name: "B", Exec: passthroughExec(), Confirm: true},
		&Step{Name: "C", Exec: appendExec("+c")},
	)

	out, err := f.Run(context.Background(), "seed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The rollback at B pops A's history frame and re-runs A.
	if aCalls != 2 {
		t.Errorf("A invoked %d times, expected 2", aCalls)
	}
	if out.Producer != "C" || out.Payload != "a-out+c" {
		t.Errorf("final artifact = (%s, %v)", out.Producer, out.Payload)
	}
	if len(f.History()) != 3 {
		t.Errorf("history has %d entries, expected 3", len(f.History()))
	}
}

func TestFlow_RollbackWithEmptyHistory(t *testing.T) {
	calls := 0
	channel, _ := newTestChannel("/rollback", "yes")
	f := buildFlow(t, channel,
		&Step{Name: "only", Exec: Func(func(ctx context.Context, input any) (any, error) {
			calls++
			return "out", nil
		}), Confirm: true},
	)

	out, err := f.Run(context.Background(), "seed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Empty history: the step pointer stays put and the step re-runs.
	if calls != 2 {
		t.Errorf("step invoked %d times, expected 2", calls)
	}
	if out.Payload != "out" {
		t.Errorf("payload = %v", out.Payload)
	}
}

func TestFlow_ExitReturnsLastCarried(t *testing.T) {
	channel, _ := newTestChannel("/exit")
	f := buildFlow(t, channel,
		&Step{Name: "A", Exec: appendExec("1")},
		&Step{Name: "B", Exec: passthroughExec(), Confirm: true},
		&Step{Name: "C", Exec: appendExec("!")},
	)

	out, err := f.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("exit must not raise, got %v", err)
	}
	if out.Producer != "A" || out.Payload != "x1" {
		t.Errorf("expected A's artifact back, got (%s, %v)", out.Producer, out.Payload)
	}
}

func TestFlow_RollbackBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RollbackBudget = 1

	channel, _ := newTestChannel("/rollback first", "/rollback second")
	f := NewFlow("budget", cfg, channel, nil)
	if err := f.AddStep(&Step{Name: "only", Exec: passthroughExec(), Confirm: true}); err != nil {
		t.Fatal(err)
	}

	_, err := f.Run(context.Background(), "seed")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorCodeRollbackBudget {
		t.Fatalf("expected rollback budget error, got %v", err)
	}
}

func TestFlow_DuplicateStepRejected(t *testing.T) {
	channel, _ := newTestChannel()
	f := NewFlow("dup", DefaultConfig(), channel, nil)
	if err := f.AddStep(&Step{Name: "A", Exec: passthroughExec()}); err != nil {
		t.Fatal(err)
	}

	err := f.AddStep(&Step{Name: "A", Exec: passthroughExec()})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorCodeDuplicateStep {
		t.Fatalf("expected duplicate step error, got %v", err)
	}
}

func TestFlow_ConfirmStepNeedsChannel(t *testing.T) {
	f := NewFlow("nochannel", DefaultConfig(), nil, nil)
	err := f.AddStep(&Step{Name: "gate", Exec: passthroughExec(), Confirm: true})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorCodeInvalidStep {
		t.Fatalf("expected invalid step error, got %v", err)
	}
}

func TestFlow_HistoryResetBetweenRuns(t *testing.T) {
	var aInputs []any
	channel, _ := newTestChannel("yes", "/rollback stale", "yes")
	f := buildFlow(t, channel,
		&Step{Name: "A", Exec: Func(func(ctx context.Context, input any) (any, error) {
			aInputs = append(aInputs, input)
			return "a-out", nil
		})},
		&Step{Name: "B", Exec: passthroughExec(), Confirm: true},
	)

	if _, err := f.Run(context.Background(), "first"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	out, err := f.Run(context.Background(), "second")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Payload != "a-out" {
		t.Errorf("payload = %v", out.Payload)
	}

	// The rollback in the second run pops only that run's frame, so A
	// re-runs on the second run's seed, never on anything from the first.
	if len(aInputs) != 3 {
		t.Fatalf("A invoked %d times, expected 3", len(aInputs))
	}
	if aInputs[1] != "second" || aInputs[2] != "second" {
		t.Errorf("A inputs = %v, rollback leaked state across runs", aInputs)
	}

	if len(f.History()) != 2 {
		t.Errorf("history has %d entries, expected only the second run's", len(f.History()))
	}
}

func TestFlow_MissingStart(t *testing.T) {
	channel, _ := newTestChannel()
	f := NewFlow("empty", DefaultConfig(), channel, nil)

	_, err := f.Run(context.Background(), "x")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorCodeMissingStart {
		t.Fatalf("expected missing start error, got %v", err)
	}
}

func TestFlow_UnresolvedNextStep(t *testing.T) {
	channel, _ := newTestChannel()
	f := buildFlow(t, channel,
		&Step{Name: "A", Exec: passthroughExec(), Next: NextStep("nowhere")},
	)

	_, err := f.Run(context.Background(), "x")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ErrorCodeUnresolvedStep {
		t.Fatalf("expected unresolved step error, got %v", err)
	}
}

func TestFlow_SelectorFunction(t *testing.T) {
	channel, _ := newTestChannel()
	f := buildFlow(t, channel,
		&Step{Name: "triage", Exec: passthroughExec(), Next: NextFunc(func(out Artifact) (string, error) {
			if s, _ := out.Payload.(string); strings.Contains(s, "urgent") {
				return "escalate", nil
			}
			return "archive", nil
		})},
		&Step{Name: "archive", Exec: appendExec(" [archived]"), Next: NextFunc(func(Artifact) (string, error) {
			return "", nil
		})},
		&Step{Name: "escalate", Exec: appendExec(" [escalated]")},
	)

	out, err := f.Run(context.Background(), "urgent: disk full")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Producer != "escalate" || out.Payload != "urgent: disk full [escalated]" {
		t.Errorf("final artifact = (%s, %v)", out.Producer, out.Payload)
	}

	// Non-urgent input routes to archive, whose selector ends the flow.
	f2 := buildFlow(t, channel,
		&Step{Name: "triage", Exec: passthroughExec(), Next: NextFunc(func(out Artifact) (string, error) {
			return "archive", nil
		})},
		&Step{Name: "archive", Exec: appendExec(" [archived]"), Next: NextFunc(func(Artifact) (string, error) {
			return "", nil
		})},
		&Step{Name: "escalate", Exec: appendExec(" [escalated]")},
	)
	out, err = f2.Run(context.Background(), "routine cleanup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Producer != "archive" {
		t.Errorf("expected flow to end at archive, got %s", out.Producer)
	}
}

func TestFlow_InitialInputPriority(t *testing.T) {
	var seen any
	capture := Func(func(ctx context.Context, input any) (any, error) {
		seen = input
		return input, nil
	})

	// Explicit argument wins over the channel preset.
	channel := NewInteraction(ScriptedAnswerSource(), nil).WithInitialInput("preset")
	f := buildFlow(t, channel, &Step{Name: "only", Exec: capture})
	if _, err := f.Run(context.Background(), "explicit"); err != nil {
		t.Fatal(err)
	}
	if seen != "explicit" {
		t.Errorf("seen = %v, expected explicit argument to win", seen)
	}

	// Preset wins over asking.
	channel2 := NewInteraction(ScriptedAnswerSource("typed"), nil).WithInitialInput("preset")
	f2 := buildFlow(t, channel2, &Step{Name: "only", Exec: capture})
	if _, err := f2.Run(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if seen != "preset" {
		t.Errorf("seen = %v, expected preset to win", seen)
	}

	// Neither: the channel is asked.
	channel3 := NewInteraction(ScriptedAnswerSource("typed"), nil)
	f3 := buildFlow(t, channel3, &Step{Name: "only", Exec: capture})
	if _, err := f3.Run(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if seen != "typed" {
		t.Errorf("seen = %v, expected interactively solicited input", seen)
	}
}

func TestFlow_ExitAtInitialInput(t *testing.T) {
	channel := NewInteraction(ScriptedAnswerSource("/exit"), nil)
	f := buildFlow(t, channel, &Step{Name: "only", Exec: passthroughExec()})

	out, err := f.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("exit before start must not raise, got %v", err)
	}
	if out.Producer != "" {
		t.Errorf("expected zero artifact, got %+v", out)
	}
}

func TestFlow_FatalErrorPropagates(t *testing.T) {
	// An answer source failure is not a control signal and must surface.
	broken := func(ctx context.Context, question string) (string, error) {
		return "", errors.New("socket closed")
	}
	channel := NewInteraction(broken, nil)
	f := buildFlow(t, channel, &Step{Name: "only", Exec: passthroughExec(), Confirm: true})

	_, err := f.Run(context.Background(), "seed")
	if err == nil || !strings.Contains(err.Error(), "socket closed") {
		t.Fatalf("expected the source failure to propagate, got %v", err)
	}
}

func TestFlow_SetStart(t *testing.T) {
	channel, _ := newTestChannel()
	f := buildFlow(t, channel,
		&Step{Name: "A", Exec: appendExec("a")},
		&Step{Name: "B", Exec: appendExec("b")},
	)
	if err := f.SetStart("B"); err != nil {
		t.Fatal(err)
	}

	out, err := f.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Payload != "xb" {
		t.Errorf("payload = %v, expected to start at B", out.Payload)
	}

	if err := f.SetStart("missing"); err == nil {
		t.Error("expected error for unknown start step")
	}
}
