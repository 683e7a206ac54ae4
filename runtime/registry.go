package runtime

import (
	"fmt"
	"sort"
)

// Initializer lets a registered executable perform startup work, e.g.
// establish client connections. Called once when the registry initializes.
type Initializer interface {
	Initialize() error
}

// Shutdowner lets a registered executable release resources during
// graceful shutdown.
type Shutdowner interface {
	Shutdown() error
}

// Registry maps task names to executables so flow definitions can
// reference units of work by name. Registration rejects duplicates;
// lookups at load time fail fast on unknown names.
type Registry struct {
	tasks map[string]Executable
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Executable)}
}

// Register binds a task name to an executable.
func (r *Registry) Register(name string, exec Executable) error {
	if name == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if exec == nil {
		return fmt.Errorf("task %q: executable cannot be nil", name)
	}
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("task %q is already registered", name)
	}
	r.tasks[name] = exec
	return nil
}

// Lookup resolves a task name to its executable.
func (r *Registry) Lookup(name string) (Executable, error) {
	exec, ok := r.tasks[name]
	if !ok {
		return nil, newConfigError(ErrorCodeUnknownTask, "", "task %q is not registered", name)
	}
	return exec, nil
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Initialize runs startup hooks on every executable that declares one.
func (r *Registry) Initialize() error {
	for _, name := range r.Names() {
		if init, ok := r.tasks[name].(Initializer); ok {
			if err := init.Initialize(); err != nil {
				return fmt.Errorf("initializing task %q: %w", name, err)
			}
		}
	}
	return nil
}

// Shutdown runs shutdown hooks on every executable that declares one.
// All hooks run; the first error is returned.
func (r *Registry) Shutdown() error {
	var firstErr error
	for _, name := range r.Names() {
		if sh, ok := r.tasks[name].(Shutdowner); ok {
			if err := sh.Shutdown(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("shutting down task %q: %w", name, err)
			}
		}
	}
	return firstErr
}
