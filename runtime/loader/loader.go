// Package loader reads YAML flow definitions and assembles runtime flows,
// resolving task references through a registry and compiling routing and
// validation expressions with expr-lang.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"gateflow/runtime"
)

// Definition is the YAML shape of a flow file.
type Definition struct {
	ID         string           `yaml:"id"`
	Start      string           `yaml:"start"`
	Config     map[string]any   `yaml:"config"`
	Properties map[string]any   `yaml:"properties"`
	Steps      []StepDefinition `yaml:"steps"`
}

// StepDefinition is the YAML shape of one step.
type StepDefinition struct {
	Name        string `yaml:"name"`
	Task        string `yaml:"task"`
	MaxAttempts int    `yaml:"max_attempts"`
	Confirm     bool   `yaml:"confirm"`

	// Args builds the task's input map. String values are expressions over
	// the incoming artifact (payload, producer, properties); string
	// literals need explicit quotes, e.g. '"GET"'. Maps and lists are
	// evaluated recursively, other scalars pass through as literals.
	// Without args the task receives the incoming payload itself.
	Args map[string]any `yaml:"args,omitempty"`

	// Next routes to a fixed step; Route is an expression over the output
	// artifact yielding the next step's name. At most one may be set.
	Next  string `yaml:"next,omitempty"`
	Route string `yaml:"route,omitempty"`

	// RetryWhen is an expression over the raw result; when it evaluates to
	// true the step retries with RetryReason. ValidateWith names a
	// registered task used as a delegated validator. At most one may be set.
	RetryWhen    string `yaml:"retry_when,omitempty"`
	RetryReason  string `yaml:"retry_reason,omitempty"`
	ValidateWith string `yaml:"validate_with,omitempty"`
}

// ParseFile reads and parses a single flow definition file.
func ParseFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("error reading flow file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidFlowFile,
			Message: fmt.Sprintf("error unmarshalling %s: %v", filepath.Base(path), err),
		}
	}
	return def, nil
}

// LoadDefinitions parses every *.yaml flow definition in a directory,
// keyed by flow id, without assembling runnable flows.
func LoadDefinitions(dir string) (map[string]Definition, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	defs := make(map[string]Definition)
	for _, file := range files {
		def, err := ParseFile(file)
		if err != nil {
			return nil, err
		}
		if def.ID == "" {
			return nil, &runtime.ConfigError{
				Code:    runtime.ErrorCodeInvalidFlowFile,
				Message: fmt.Sprintf("flow file %s has no id", filepath.Base(file)),
			}
		}
		if _, exists := defs[def.ID]; exists {
			return nil, &runtime.ConfigError{
				Code:    runtime.ErrorCodeInvalidFlowFile,
				Message: fmt.Sprintf("duplicate flow id %q", def.ID),
			}
		}
		defs[def.ID] = def
	}
	return defs, nil
}

// Load reads a single flow definition file and assembles a runnable flow.
func Load(path string, reg *runtime.Registry, channel *runtime.Interaction, l *slog.Logger) (*runtime.Flow, error) {
	def, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Assemble(def, reg, channel, l)
}

// LoadDir loads every *.yaml flow definition in a directory and assembles
// runnable flows, keyed by flow id.
func LoadDir(dir string, reg *runtime.Registry, channel *runtime.Interaction, l *slog.Logger) (map[string]*runtime.Flow, error) {
	defs, err := LoadDefinitions(dir)
	if err != nil {
		return nil, err
	}

	flows := make(map[string]*runtime.Flow, len(defs))
	for id, def := range defs {
		flow, err := Assemble(def, reg, channel, l)
		if err != nil {
			return nil, err
		}
		flows[id] = flow
	}
	return flows, nil
}

// Assemble builds a runtime flow from a parsed definition.
func Assemble(def Definition, reg *runtime.Registry, channel *runtime.Interaction, l *slog.Logger) (*runtime.Flow, error) {
	if def.ID == "" {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidFlowFile,
			Message: "flow definition has no id",
		}
	}

	var cfg runtime.Config
	if err := runtime.InitializeConfig(&cfg, def.Config); err != nil {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidFlowFile,
			Message: fmt.Sprintf("flow %s: invalid config: %v", def.ID, err),
		}
	}

	props, err := resolveProperties(def.Properties)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", def.ID, err)
	}

	flow := runtime.NewFlow(def.ID, cfg, channel, l)

	for _, sd := range def.Steps {
		step, err := assembleStep(sd, reg, props)
		if err != nil {
			return nil, err
		}
		if err := flow.AddStep(step); err != nil {
			return nil, err
		}
	}

	if def.Start != "" {
		if err := flow.SetStart(def.Start); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

func assembleStep(sd StepDefinition, reg *runtime.Registry, props map[string]any) (*runtime.Step, error) {
	if sd.Name == "" {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidStep,
			Message: "step definition has no name",
		}
	}

	exec, err := reg.Lookup(sd.Task)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", sd.Name, err)
	}

	step := &runtime.Step{
		Name:        sd.Name,
		Exec:        exec,
		MaxAttempts: sd.MaxAttempts,
		Confirm:     sd.Confirm,
	}

	if len(sd.Args) > 0 {
		args, err := compileArgs(sd.Name, sd.Args, props)
		if err != nil {
			return nil, err
		}
		step.Args = args
	}

	if sd.Next != "" && sd.Route != "" {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidStep,
			Step:    sd.Name,
			Message: "next and route are mutually exclusive",
		}
	}
	if sd.Next != "" {
		step.Next = runtime.NextStep(sd.Next)
	}
	if sd.Route != "" {
		selector, err := compileRoute(sd.Name, sd.Route, props)
		if err != nil {
			return nil, err
		}
		step.Next = selector
	}

	if sd.RetryWhen != "" && sd.ValidateWith != "" {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidStep,
			Step:    sd.Name,
			Message: "retry_when and validate_with are mutually exclusive",
		}
	}
	if sd.RetryWhen != "" {
		validator, err := compileRetryWhen(sd.Name, sd.RetryWhen, sd.RetryReason, props)
		if err != nil {
			return nil, err
		}
		step.Validator = validator
	}
	if sd.ValidateWith != "" {
		delegate, err := reg.Lookup(sd.ValidateWith)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", sd.Name, err)
		}
		step.Validator = runtime.NewDelegatedValidator(delegate)
	}

	return step, nil
}

// compileArgs compiles an args tree into a builder that evaluates it
// against the incoming artifact. Expression compilation happens once at
// assembly; evaluation happens per attempt.
func compileArgs(stepName string, raw map[string]any, props map[string]any) (func(in runtime.Artifact) (map[string]any, error), error) {
	compiled, err := compileArgValue(stepName, "args", raw)
	if err != nil {
		return nil, err
	}
	return func(in runtime.Artifact) (map[string]any, error) {
		env := map[string]any{
			"payload":    in.Payload,
			"producer":   in.Producer,
			"properties": props,
		}
		out, err := evalArgValue(compiled, env)
		if err != nil {
			return nil, err
		}
		return out.(map[string]any), nil
	}, nil
}

// argProgram tags a compiled expression inside an args tree so evaluation
// can tell it apart from literal values.
type argProgram struct {
	expression string
	program    *vm.Program
}

// compileArgValue walks the args tree. Strings compile as expressions,
// maps and lists recurse, everything else stays a literal.
func compileArgValue(stepName, path string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		program, err := expr.Compile(v, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, &runtime.ConfigError{
				Code:    runtime.ErrorCodeInvalidStep,
				Step:    stepName,
				Message: fmt.Sprintf("invalid args expression at %s: %v", path, err),
			}
		}
		return &argProgram{expression: v, program: program}, nil
	case map[string]any:
		compiled := make(map[string]any, len(v))
		for key, val := range v {
			c, err := compileArgValue(stepName, path+"."+key, val)
			if err != nil {
				return nil, err
			}
			compiled[key] = c
		}
		return compiled, nil
	case []any:
		compiled := make([]any, len(v))
		for i, val := range v {
			c, err := compileArgValue(stepName, fmt.Sprintf("%s[%d]", path, i), val)
			if err != nil {
				return nil, err
			}
			compiled[i] = c
		}
		return compiled, nil
	default:
		return value, nil
	}
}

func evalArgValue(compiled any, env map[string]any) (any, error) {
	switch v := compiled.(type) {
	case *argProgram:
		result, err := runExpr(v.program, env)
		if err != nil {
			return nil, fmt.Errorf("error evaluating args expression %q: %w", v.expression, err)
		}
		return result, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			e, err := evalArgValue(val, env)
			if err != nil {
				return nil, err
			}
			out[key] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			e, err := evalArgValue(val, env)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return compiled, nil
	}
}

// compileRoute compiles a route expression into a next-step selector. The
// expression sees the output payload, its producer, and flow properties.
func compileRoute(stepName, expression string, props map[string]any) (*runtime.NextSelector, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidStep,
			Step:    stepName,
			Message: fmt.Sprintf("invalid route expression: %v", err),
		}
	}
	return runtime.NextFunc(func(out runtime.Artifact) (string, error) {
		result, err := runExpr(program, map[string]any{
			"payload":    out.Payload,
			"producer":   out.Producer,
			"properties": props,
		})
		if err != nil {
			return "", fmt.Errorf("error evaluating route %q: %w", expression, err)
		}
		name, ok := result.(string)
		if !ok {
			return "", fmt.Errorf("route %q evaluated to %T, expected string", expression, result)
		}
		return name, nil
	}), nil
}

// compileRetryWhen compiles an expression validator. The expression sees
// the raw result and flow properties; true means retry.
func compileRetryWhen(stepName, expression, reason string, props map[string]any) (*runtime.Validator, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &runtime.ConfigError{
			Code:    runtime.ErrorCodeInvalidStep,
			Step:    stepName,
			Message: fmt.Sprintf("invalid retry_when expression: %v", err),
		}
	}
	if reason == "" {
		reason = fmt.Sprintf("validation failed: %s", expression)
	}
	return runtime.NewValidatorFunc(func(result any) (bool, string) {
		value, err := runExpr(program, map[string]any{
			"result":     result,
			"properties": props,
		})
		if err != nil {
			// Fail safe toward re-attempting.
			return true, fmt.Sprintf("error evaluating retry_when %q: %v", expression, err)
		}
		retry, ok := value.(bool)
		if !ok {
			return true, fmt.Sprintf("retry_when %q evaluated to %T, expected boolean", expression, value)
		}
		if retry {
			return true, reason
		}
		return false, ""
	}), nil
}

func runExpr(program *vm.Program, env map[string]any) (any, error) {
	return expr.Run(program, env)
}

func resolveProperties(raw map[string]any) (map[string]any, error) {
	props := make(map[string]any, len(raw))
	for k, v := range raw {
		resolved, err := runtime.ResolveEnvVar(v)
		if err != nil {
			return nil, err
		}
		props[k] = resolved
	}
	return props, nil
}
