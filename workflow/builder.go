package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/herd/types"
)

// IDSource hands out job ids that are unused within a workflow.
type IDSource interface {
	NextFreeJobID(ctx context.Context, workflowID, jobType string) (string, error)
}

// RunOption configures a job added with Builder.Run or Builder.Workflow.
type RunOption func(*runSpec)

type runSpec struct {
	after       []string
	before      []string
	params      map[string]any
	queue       string
	id          string
	parentProxy *uint
	args        []any
}

// After declares that the job runs once every named job succeeded.
func After(names ...string) RunOption {
	return func(s *runSpec) { s.after = append(s.after, names...) }
}

// Before declares that every named job waits for this one.
func Before(names ...string) RunOption {
	return func(s *runSpec) { s.before = append(s.before, names...) }
}

// WithParams attaches static parameters to the job.
func WithParams(params map[string]any) RunOption {
	return func(s *runSpec) {
		if s.params == nil {
			s.params = make(map[string]any, len(params))
		}
		for k, v := range params {
			s.params[k] = v
		}
	}
}

// OnQueue overrides the dispatch queue for the job.
func OnQueue(queue string) RunOption {
	return func(s *runSpec) { s.queue = queue }
}

// WithJobID pins the job id instead of drawing a random one.
func WithJobID(id string) RunOption {
	return func(s *runSpec) { s.id = id }
}

// WithParentProxy attaches the job's proxy to a parent proxy.
func WithParentProxy(id uint) RunOption {
	return func(s *runSpec) { s.parentProxy = &id }
}

// WithArgs sets the arguments a nested workflow node is created with.
func WithArgs(args ...any) RunOption {
	return func(s *runSpec) { s.args = append(s.args, args...) }
}

type edgeRequest struct {
	from string
	to   string
}

// Builder collects jobs and dependency requests for one workflow. Edges are
// only resolved by Build, so a job may reference jobs added after it.
type Builder struct {
	ctx        context.Context
	workflowID string
	ids        IDSource
	registry   *Registry

	jobs   []*Job
	byName map[string]*Job
	edges  []edgeRequest
	err    error
}

// NewBuilder creates a builder for the given workflow id. ids may be nil
// when every job is added with WithJobID.
func NewBuilder(ctx context.Context, workflowID string, ids IDSource) *Builder {
	return &Builder{
		ctx:        ctx,
		workflowID: workflowID,
		ids:        ids,
		byName:     make(map[string]*Job),
	}
}

// WorkflowID returns the id of the workflow being built.
func (b *Builder) WorkflowID() string {
	return b.workflowID
}

// Run adds a job of the given type and returns its fully-qualified name.
// Errors are deferred to Build.
func (b *Builder) Run(jobType string, opts ...RunOption) string {
	job := b.add(jobType, opts)
	if job == nil {
		return ""
	}
	return job.Name()
}

// Workflow adds a node that instantiates the registered definition defType
// when it runs. The node finishes when the nested workflow finishes.
func (b *Builder) Workflow(defType string, opts ...RunOption) string {
	job := b.add(defType, opts)
	if job == nil {
		return ""
	}
	job.SubWorkflow = defType
	return job.Name()
}

func (b *Builder) add(jobType string, opts []RunOption) *Job {
	if b.err != nil {
		return nil
	}
	if jobType == "" || strings.Contains(jobType, NameSeparator) {
		b.fail(types.Errorf(types.ErrInvalidJobName, "invalid job type %q", jobType))
		return nil
	}

	var spec runSpec
	for _, opt := range opts {
		opt(&spec)
	}

	id := spec.id
	if id == "" {
		if b.ids == nil {
			b.fail(types.Errorf(types.ErrInvalidConfiguration, "no id source for job type %q", jobType))
			return nil
		}
		next, err := b.ids.NextFreeJobID(b.ctx, b.workflowID, jobType)
		if err != nil {
			b.fail(fmt.Errorf("allocate id for %s: %w", jobType, err))
			return nil
		}
		id = next
	}

	job := NewJob(jobType, id)
	job.WorkflowID = b.workflowID
	job.Queue = spec.queue
	job.ParentProxyID = spec.parentProxy
	job.SubArgs = spec.args
	if spec.params != nil {
		job.Params = spec.params
	}

	if _, dup := b.byName[job.Name()]; dup {
		b.fail(types.Errorf(types.ErrDuplicateJob, "job %q added twice", job.Name()))
		return nil
	}
	b.byName[job.Name()] = job
	b.jobs = append(b.jobs, job)

	for _, dep := range spec.after {
		b.edges = append(b.edges, edgeRequest{from: dep, to: job.Name()})
	}
	for _, dep := range spec.before {
		b.edges = append(b.edges, edgeRequest{from: job.Name(), to: dep})
	}
	return job
}

// Edge requests a dependency between two already named jobs.
func (b *Builder) Edge(from, to string) {
	b.edges = append(b.edges, edgeRequest{from: from, to: to})
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build resolves every pending edge request into symmetric incoming and
// outgoing entries and rejects cycles.
func (b *Builder) Build(defType string, args []any) (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.jobs) == 0 {
		return nil, types.Errorf(types.ErrEmptyWorkflow, "workflow %q declares no jobs", defType)
	}

	if err := b.resolve(); err != nil {
		return nil, err
	}
	if err := b.checkSubWorkflows(); err != nil {
		return nil, err
	}
	if cycle := findCycle(b.jobs); len(cycle) > 0 {
		return nil, types.Errorf(types.ErrCircularDependency,
			"dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	if args == nil {
		args = []any{}
	}
	return &Workflow{
		ID:        b.workflowID,
		Type:      defType,
		Arguments: args,
		State:     StatePending,
		Jobs:      b.jobs,
	}, nil
}

func (b *Builder) resolve() error {
	for _, e := range b.edges {
		from, err := b.endpoint(e.from, e)
		if err != nil {
			return err
		}
		to, err := b.endpoint(e.to, e)
		if err != nil {
			return err
		}
		if from == to {
			return types.Errorf(types.ErrCircularDependency, "job %q depends on itself", from.Name())
		}
		to.addIncoming(from.Name())
		from.addOutgoing(to.Name())
	}
	b.edges = nil
	return nil
}

func (b *Builder) endpoint(name string, e edgeRequest) (*Job, error) {
	job, err := findJob(b.jobs, b.workflowID, name)
	if err == nil {
		return job, nil
	}
	if types.IsCode(err, types.ErrJobNotFound) {
		return nil, types.Errorf(types.ErrInvalidDependency,
			"dependency %s -> %s references unknown job %q", e.from, e.to, name)
	}
	return nil, err
}

func (b *Builder) checkSubWorkflows() error {
	if b.registry == nil {
		return nil
	}
	for _, j := range b.jobs {
		if !j.IsSubWorkflow() {
			continue
		}
		if _, err := b.registry.Lookup(j.SubWorkflow); err != nil {
			return fmt.Errorf("nested workflow node %s: %w", j.Name(), err)
		}
	}
	return nil
}

// findCycle returns the job names along a cycle, or nil when the graph is
// acyclic.
func findCycle(jobs []*Job) []string {
	index := make(map[string]*Job, len(jobs))
	for _, j := range jobs {
		index[j.Name()] = j
	}

	visited := make(map[string]bool, len(jobs))
	onStack := make(map[string]bool)
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		if j, ok := index[name]; ok {
			for _, next := range j.Outgoing {
				if !visited[next] {
					if visit(next) {
						return true
					}
				} else if onStack[next] {
					// back edge
					for i, n := range stack {
						if n == next {
							cycle = append(append([]string{}, stack[i:]...), next)
							break
						}
					}
					return true
				}
			}
		}

		onStack[name] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, j := range jobs {
		if !visited[j.Name()] && visit(j.Name()) {
			return cycle
		}
	}
	return nil
}
