package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Executable is the opaque unit of work a step wraps. The engine never
// inspects what happens inside Invoke; it only observes the result or the
// error. Input is either the incoming payload or, on re-attempts, a
// synthesized cumulative-context string.
type Executable interface {
	Invoke(ctx context.Context, input any) (any, error)
}

// Func adapts a plain function to the Executable contract.
type Func func(ctx context.Context, input any) (any, error)

func (f Func) Invoke(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// TypedFunc wraps a function taking a typed input struct. Map payloads are
// decoded into In with weak typing (string durations, int/float coercion);
// other payload types are rejected since they carry no fields to decode.
func TypedFunc[In any, Out any](fn func(ctx context.Context, input In) (Out, error)) Executable {
	return Func(func(ctx context.Context, input any) (any, error) {
		m, ok := input.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("typed executable expects a map payload, got %T", input)
		}
		var in In
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:  &in,
			TagName: "json",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToTimeHookFunc(time.RFC3339),
			),
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}
		if err := decoder.Decode(m); err != nil {
			return nil, fmt.Errorf("failed to decode input: %w", err)
		}
		return fn(ctx, in)
	})
}

type askerKey struct{}

// ErrNoAsker is returned by AskUser when no interaction channel is bound
// to the context, i.e. the executable runs outside a step.
var ErrNoAsker = errors.New("no interaction channel bound to context")

// WithAsker binds a question capability to the context. Step binds the
// flow's interaction channel before invoking an executable so that work
// units can ask the human mid-execution through the same chokepoint.
func WithAsker(ctx context.Context, ask AnswerSource) context.Context {
	return context.WithValue(ctx, askerKey{}, ask)
}

// AskUser routes a question from inside an executable through the bound
// interaction channel. Control signals issued by the user propagate as
// errors, exactly as they do at the step-level gate.
func AskUser(ctx context.Context, question string) (string, error) {
	ask, ok := ctx.Value(askerKey{}).(AnswerSource)
	if !ok {
		return "", ErrNoAsker
	}
	return ask(ctx, question)
}
