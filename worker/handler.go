package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

// Input is the output of one predecessor, in the order of the job's
// incoming edges.
type Input struct {
	ID     string          `json:"id"`
	Type   string          `json:"class"`
	Output json.RawMessage `json:"output"`
}

// JobContext is what a handler sees of the job it runs.
type JobContext struct {
	WorkflowID string
	Workflow   *workflow.Workflow
	Job        *workflow.Job
	Inputs     []Input
	Logger     *zap.Logger
	Attempt    int

	// Duplicate is set when the job already succeeded and only the
	// downstream sweep must run.
	Duplicate bool

	handler Handler
}

// Params returns the job's static parameters.
func (c *JobContext) Params() map[string]any {
	return c.Job.Params
}

// Arguments returns the arguments the workflow was created with.
func (c *JobContext) Arguments() []any {
	return c.Workflow.Arguments
}

// SetOutput records the value downstream jobs receive as input.
func (c *JobContext) SetOutput(v any) error {
	return c.Job.SetOutput(v)
}

// Input decodes the output of the predecessor of the given type into v.
func (c *JobContext) Input(jobType string, v any) error {
	for _, in := range c.Inputs {
		if in.Type == jobType {
			if len(in.Output) == 0 {
				return nil
			}
			return json.Unmarshal(in.Output, v)
		}
	}
	return types.NewJobNotFoundError(c.WorkflowID, jobType)
}

// Handler runs the body of one job type.
type Handler interface {
	Perform(ctx context.Context, jc *JobContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, jc *JobContext) error

// Perform implements Handler.
func (f HandlerFunc) Perform(ctx context.Context, jc *JobContext) error {
	return f(ctx, jc)
}

// Handlers maps job types to handlers. It is populated at process start.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers creates an empty handler registry.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type.
func (h *Handlers) Register(jobType string, handler Handler) error {
	if jobType == "" || handler == nil {
		return types.NewError(types.ErrInvalidInput, "handler needs a job type and an implementation")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.handlers[jobType]; exists {
		return types.Errorf(types.ErrDefinitionConflict, "handler for %q already registered", jobType)
	}
	h.handlers[jobType] = handler
	return nil
}

// MustRegister is Register for init code.
func (h *Handlers) MustRegister(jobType string, handler Handler) {
	if err := h.Register(jobType, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler of a job type.
func (h *Handlers) Lookup(jobType string) (Handler, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handler, ok := h.handlers[jobType]
	if !ok {
		return nil, types.Errorf(types.ErrUnknownHandler, "no handler registered for job type %q", jobType)
	}
	return handler, nil
}

// Types lists the registered job types.
func (h *Handlers) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.handlers))
	for t := range h.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
