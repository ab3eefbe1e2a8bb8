package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/herd/types"
)

// ConfigureFunc declares the jobs and dependencies of a workflow definition
// for the given arguments.
type ConfigureFunc func(b *Builder, args ...any) error

// Registry maps definition names to their configure functions. It is
// populated at process start and shared by clients and workers.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]ConfigureFunc
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defs:   make(map[string]ConfigureFunc),
		logger: logger.With(zap.String("component", "workflow_registry")),
	}
}

// Register adds a definition. Names are unique.
func (r *Registry) Register(name string, fn ConfigureFunc) error {
	if name == "" || fn == nil {
		return types.NewError(types.ErrInvalidInput, "definition needs a name and a configure function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; exists {
		return types.Errorf(types.ErrDefinitionConflict, "workflow definition %q already registered", name)
	}
	r.defs[name] = fn
	return nil
}

// MustRegister is Register for package init code.
func (r *Registry) MustRegister(name string, fn ConfigureFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the configure function for a definition name.
func (r *Registry) Lookup(name string) (ConfigureFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.defs[name]
	if !ok {
		return nil, types.Errorf(types.ErrUnknownDefinition, "workflow definition %q is not registered", name)
	}
	return fn, nil
}

// Names lists the registered definitions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build runs the named definition against a fresh builder and resolves its
// dependencies.
func (r *Registry) Build(ctx context.Context, name, workflowID string, ids IDSource, args ...any) (*Workflow, error) {
	fn, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	b := NewBuilder(ctx, workflowID, ids)
	b.registry = r
	if err := fn(b, args...); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}

	wf, err := b.Build(name, args)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}

	r.logger.Debug("workflow graph built",
		zap.String("definition", name),
		zap.String("workflow_id", workflowID),
		zap.Int("jobs", len(wf.Jobs)),
	)
	return wf, nil
}
