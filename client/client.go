// Package client is the façade over herd's two stores and the execution
// queue. Every process (the one that creates workflows and every worker)
// talks to shared state only through a Client.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/metrics"
	"github.com/BaSui01/herd/internal/retry"
	"github.com/BaSui01/herd/lock"
	"github.com/BaSui01/herd/persistence"
	"github.com/BaSui01/herd/queue"
	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

// Deps are the collaborators of a Client. Mutex and Metrics are optional.
type Deps struct {
	Graph    persistence.GraphStore
	Durable  *persistence.DurableStore
	Queue    queue.Queue
	Registry *workflow.Registry
	Mutex    *lock.Mutex
	Metrics  *metrics.Collector
}

// Client reads and writes workflows across the graph store, the durable
// store and the execution queue. It is safe for concurrent use.
type Client struct {
	config   config.HerdConfig
	graph    persistence.GraphStore
	durable  *persistence.DurableStore
	queue    queue.Queue
	registry *workflow.Registry
	mutex    *lock.Mutex
	metrics  *metrics.Collector
	logger   *zap.Logger

	// transitions retries proxy updates that lost an optimistic race
	transitions *retry.Retryer
	now         func() time.Time
}

// New creates a client.
func New(cfg config.HerdConfig, deps Deps, logger *zap.Logger) (*Client, error) {
	if deps.Graph == nil || deps.Durable == nil || deps.Queue == nil || deps.Registry == nil {
		return nil, types.NewError(types.ErrInvalidConfiguration,
			"client needs a graph store, a durable store, a queue and a registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "herd"
	}
	if cfg.IDRetries <= 0 {
		cfg.IDRetries = 100
	}
	logger = logger.With(zap.String("component", "client"))

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 5
	policy.InitialDelay = 10 * time.Millisecond
	policy.RetryIf = func(err error) bool {
		return types.IsCode(err, types.ErrConcurrentModification)
	}

	return &Client{
		config:      cfg,
		graph:       deps.Graph,
		durable:     deps.Durable,
		queue:       deps.Queue,
		registry:    deps.Registry,
		mutex:       deps.Mutex,
		metrics:     deps.Metrics,
		logger:      logger,
		transitions: retry.New(policy, logger),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Config returns the engine settings the client was built with.
func (c *Client) Config() config.HerdConfig {
	return c.config
}

// Registry returns the definition registry.
func (c *Client) Registry() *workflow.Registry {
	return c.registry
}

// =============================================================================
// 🎯 Identity
// =============================================================================

// NextFreeWorkflowID draws random ids until one is unused in both stores.
func (c *Client) NextFreeWorkflowID(ctx context.Context) (string, error) {
	for i := 0; i < c.config.IDRetries; i++ {
		id := uuid.NewString()
		taken, err := c.graph.WorkflowExists(ctx, id)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		if _, err := c.durable.FindWorkflow(ctx, id); err == nil {
			continue
		} else if !types.IsCode(err, types.ErrWorkflowNotFound) {
			return "", err
		}
		return id, nil
	}
	return "", types.Errorf(types.ErrIdentityExhausted, "no free workflow id after %d attempts", c.config.IDRetries)
}

// NextFreeJobID draws random ids until one is unused for the job type
// within the workflow.
func (c *Client) NextFreeJobID(ctx context.Context, workflowID, jobType string) (string, error) {
	for i := 0; i < c.config.IDRetries; i++ {
		id := uuid.NewString()
		taken, err := c.graph.JobExists(ctx, workflowID, jobType, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", types.Errorf(types.ErrIdentityExhausted,
		"no free id for %s in workflow %s after %d attempts", jobType, workflowID, c.config.IDRetries)
}

// =============================================================================
// 🎯 Workflows
// =============================================================================

// CreateWorkflow instantiates a registered definition, then writes the
// durable record and the graph. The workflow is pending until started.
func (c *Client) CreateWorkflow(ctx context.Context, defType string, args ...any) (*workflow.Workflow, error) {
	return c.createWorkflow(ctx, defType, args, nil)
}

// CreateChildWorkflow creates a nested workflow whose proxies hang off the
// parent node's proxy.
func (c *Client) CreateChildWorkflow(ctx context.Context, parent workflow.Parent, defType string, args ...any) (*workflow.Workflow, error) {
	return c.createWorkflow(ctx, defType, args, &parent)
}

func (c *Client) createWorkflow(ctx context.Context, defType string, args []any, parent *workflow.Parent) (*workflow.Workflow, error) {
	id, err := c.NextFreeWorkflowID(ctx)
	if err != nil {
		return nil, err
	}
	wf, err := c.registry.Build(ctx, defType, id, c, args...)
	if err != nil {
		return nil, err
	}

	rec := &persistence.WorkflowRecord{
		ID:        wf.ID,
		Name:      wf.Type,
		Arguments: wf.Arguments,
		Status:    workflow.StatePending,
	}
	if parent != nil {
		wf.Parent = parent
		rec.ParentWorkflowID = &parent.WorkflowID
		rec.ParentJobName = parent.JobName
		if parent.ProxyID != 0 {
			proxyID := parent.ProxyID
			rec.ParentProxyID = &proxyID
			for _, j := range wf.Jobs {
				if j.ParentProxyID == nil {
					j.ParentProxyID = &proxyID
				}
			}
		}
	}
	if err := c.durable.CreateWorkflow(ctx, rec); err != nil {
		return nil, err
	}
	wf.CreatedAt = rec.CreatedAt

	if err := c.PersistWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	c.metrics.RecordWorkflowTransition(wf.Type, string(workflow.StatePending))
	c.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("definition", wf.Type),
		zap.Int("jobs", len(wf.Jobs)),
	)
	return wf, nil
}

// PersistWorkflow writes every job and the snapshot to the graph store.
// Durable lifecycle fields are only changed by explicit transitions.
func (c *Client) PersistWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if err := c.graph.SaveJobs(ctx, wf.ID, wf.Jobs); err != nil {
		return err
	}
	return c.graph.SaveSummary(ctx, wf.Summary())
}

// FindWorkflow rebuilds a workflow from the durable record, the graph and
// the proxy rows.
func (c *Client) FindWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	rec, err := c.durable.FindWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := c.graph.LoadJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	proxies, err := c.durable.ListProxies(ctx, id)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]persistence.ProxyRecord, len(proxies))
	for _, p := range proxies {
		byName[p.JobName] = p
	}
	for _, j := range jobs {
		if p, ok := byName[j.Name()]; ok {
			j.ProxyID = p.ID
			j.ProxyStatus = p.Status
		} else {
			j.ProxyStatus = workflow.ProxyNone
		}
	}
	return workflowFromRecord(rec, jobs), nil
}

// FindChildWorkflow loads the nested workflow created for a node of the
// parent workflow.
func (c *Client) FindChildWorkflow(ctx context.Context, parentID, jobName string) (*workflow.Workflow, error) {
	rec, err := c.durable.FindChildWorkflow(ctx, parentID, jobName)
	if err != nil {
		return nil, err
	}
	return c.FindWorkflow(ctx, rec.ID)
}

func workflowFromRecord(rec *persistence.WorkflowRecord, jobs []*workflow.Job) *workflow.Workflow {
	wf := &workflow.Workflow{
		ID:         rec.ID,
		Type:       rec.Name,
		Arguments:  rec.Arguments,
		State:      rec.Status,
		Stopped:    rec.Stopped,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		CreatedAt:  rec.CreatedAt,
		Jobs:       jobs,
	}
	if wf.Arguments == nil {
		wf.Arguments = []any{}
	}
	if rec.ParentWorkflowID != nil {
		wf.Parent = &workflow.Parent{WorkflowID: *rec.ParentWorkflowID, JobName: rec.ParentJobName}
		if rec.ParentProxyID != nil {
			wf.Parent.ProxyID = *rec.ParentProxyID
		}
	}
	return wf
}

// AllWorkflows loads every workflow matching the filter, newest first.
func (c *Client) AllWorkflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*workflow.Workflow, error) {
	recs, err := c.durable.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*workflow.Workflow, 0, len(recs))
	for _, rec := range recs {
		wf, err := c.FindWorkflow(ctx, rec.ID)
		if err != nil {
			// destroyed between the list and the load
			if types.IsCode(err, types.ErrWorkflowNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// SameWorkflowRunning reports whether another workflow of the same
// definition is running. Callers that allow parallel runs skip the check.
func (c *Client) SameWorkflowRunning(ctx context.Context, id string) (bool, error) {
	rec, err := c.durable.FindWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	running, err := c.durable.ListWorkflows(ctx, persistence.WorkflowFilter{
		Name:   rec.Name,
		Status: workflow.StateRunning,
	})
	if err != nil {
		return false, err
	}
	for _, other := range running {
		if other.ID != id && !other.Stopped {
			return true, nil
		}
	}
	return false, nil
}

// StartWorkflow marks the workflow running and enqueues its initial jobs,
// or only the named jobs when names are given.
func (c *Client) StartWorkflow(ctx context.Context, id string, jobNames ...string) error {
	rec, err := c.durable.MarkWorkflowStarted(ctx, id)
	if err != nil {
		return err
	}
	c.metrics.RecordWorkflowTransition(rec.Name, string(workflow.StateRunning))

	wf, err := c.FindWorkflow(ctx, id)
	if err != nil {
		return err
	}

	jobs := wf.InitialJobs()
	if len(jobNames) > 0 {
		jobs = make([]*workflow.Job, 0, len(jobNames))
		for _, name := range jobNames {
			j, err := wf.FindJob(name)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
	}

	for _, j := range jobs {
		if err := c.EnqueueJob(ctx, id, j); err != nil {
			return fmt.Errorf("start workflow %s: %w", id, err)
		}
	}
	if err := c.graph.SaveSummary(ctx, wf.Summary()); err != nil {
		return err
	}

	c.logger.Info("workflow started", zap.String("workflow_id", id), zap.Int("enqueued", len(jobs)))
	return nil
}

// StopWorkflow flags the workflow stopped. Running jobs finish, but their
// successors are not enqueued until the workflow is continued.
func (c *Client) StopWorkflow(ctx context.Context, id string) error {
	if err := c.durable.MarkWorkflowStopped(ctx, id); err != nil {
		return err
	}
	wf, err := c.FindWorkflow(ctx, id)
	if err != nil {
		return err
	}
	c.metrics.RecordWorkflowTransition(wf.Type, string(workflow.StateStopped))
	c.logger.Info("workflow stopped", zap.String("workflow_id", id))
	return c.graph.SaveSummary(ctx, wf.Summary())
}

// ContinueWorkflow resumes a stopped or failed workflow: failed jobs are
// enqueued again, as are jobs that became ready while the workflow was
// stopped.
func (c *Client) ContinueWorkflow(ctx context.Context, id string) error {
	rec, err := c.durable.MarkWorkflowStarted(ctx, id)
	if err != nil {
		return err
	}
	c.metrics.RecordWorkflowTransition(rec.Name, string(workflow.StateRunning))

	wf, err := c.FindWorkflow(ctx, id)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, j := range wf.Jobs {
		if j.Failed() {
			if err := c.EnqueueJob(ctx, id, j); err != nil {
				return err
			}
			enqueued++
			continue
		}
		ok, err := c.EnqueueIfReady(ctx, id, j.Name())
		if err != nil {
			return err
		}
		if ok {
			enqueued++
		}
	}

	c.logger.Info("workflow continued", zap.String("workflow_id", id), zap.Int("enqueued", enqueued))
	return c.refreshSummary(ctx, id)
}

// IsStopped reads the stop flag from the durable record.
func (c *Client) IsStopped(ctx context.Context, id string) (bool, error) {
	rec, err := c.durable.FindWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.Stopped || rec.Status == workflow.StateStopped, nil
}

// ReopenWorkflow moves a failed workflow back to running. Workers call it
// when the queue redelivers a failed job, so that a successful retry can
// still complete the workflow.
func (c *Client) ReopenWorkflow(ctx context.Context, id string) error {
	rec, err := c.durable.MarkWorkflowStarted(ctx, id)
	if err != nil {
		return err
	}
	c.metrics.RecordWorkflowTransition(rec.Name, string(workflow.StateRunning))
	c.logger.Info("workflow reopened for retry", zap.String("workflow_id", id))
	return c.refreshSummary(ctx, id)
}

// DestroyWorkflow deletes the durable record with its proxies and notes,
// then the graph.
func (c *Client) DestroyWorkflow(ctx context.Context, id string) error {
	if err := c.durable.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	if err := c.graph.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	c.logger.Info("workflow destroyed", zap.String("workflow_id", id))
	return nil
}

// ExpireWorkflow sets a TTL on the graph of a workflow. Zero uses the
// configured ttl.
func (c *Client) ExpireWorkflow(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	return c.graph.ExpireWorkflow(ctx, id, ttl)
}

// RefreshWorkflowStatus moves the durable record to failed when a job
// failed, or to completed once every job finished. changed is true only for
// the caller that performed the transition.
func (c *Client) RefreshWorkflowStatus(ctx context.Context, id string) (wf *workflow.Workflow, changed bool, err error) {
	wf, err = c.FindWorkflow(ctx, id)
	if err != nil {
		return nil, false, err
	}

	switch {
	case len(wf.FailedJobs()) > 0:
		changed, err = c.durable.MarkWorkflowFailed(ctx, id)
		if changed {
			wf.State = workflow.StateFailed
		}
	case wf.AllJobsFinished():
		changed, err = c.durable.MarkWorkflowFinished(ctx, id)
		if changed {
			wf.State = workflow.StateCompleted
		}
	default:
		return wf, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if changed {
		c.metrics.RecordWorkflowTransition(wf.Type, string(wf.State))
		if err := c.graph.SaveSummary(ctx, wf.Summary()); err != nil {
			return nil, false, err
		}
	}
	return wf, changed, nil
}

// Notes returns the notes of a workflow, most recent first, optionally
// filtered by level.
func (c *Client) Notes(ctx context.Context, workflowID, level string) ([]persistence.TrackingRecord, error) {
	return c.durable.Notes(ctx, persistence.WorkflowTrackable(workflowID), level)
}

// JobNotes returns the notes of a job's proxy.
func (c *Client) JobNotes(ctx context.Context, workflowID, jobName, level string) ([]persistence.TrackingRecord, error) {
	job, err := c.FindJob(ctx, workflowID, jobName)
	if err != nil {
		return nil, err
	}
	if job.ProxyID == 0 {
		return []persistence.TrackingRecord{}, nil
	}
	return c.durable.Notes(ctx, persistence.ProxyTrackable(job.ProxyID), level)
}

func (c *Client) refreshSummary(ctx context.Context, id string) error {
	wf, err := c.FindWorkflow(ctx, id)
	if err != nil {
		return err
	}
	return c.graph.SaveSummary(ctx, wf.Summary())
}

// =============================================================================
// 🎯 Jobs
// =============================================================================

// FindJob loads a job by qualified or bare name with its durable status.
// A bare name matching several jobs is rejected as INVALID_JOB_NAME.
func (c *Client) FindJob(ctx context.Context, workflowID, name string) (*workflow.Job, error) {
	jobType, jobID, qualified := workflow.ParseJobName(name)

	var job *workflow.Job
	if qualified {
		j, err := c.graph.LoadJob(ctx, workflowID, jobType, jobID)
		if err != nil {
			return nil, err
		}
		job = j
	} else {
		jobs, err := c.graph.LoadJobs(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		j, err := (&workflow.Workflow{ID: workflowID, Jobs: jobs}).FindJob(name)
		if err != nil {
			return nil, err
		}
		job = j
	}

	if err := c.hydrate(ctx, workflowID, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Client) hydrate(ctx context.Context, workflowID string, job *workflow.Job) error {
	proxy, err := c.durable.FindProxyByJob(ctx, workflowID, job.Name())
	if err != nil {
		if types.IsCode(err, types.ErrJobNotFound) {
			job.ProxyStatus = workflow.ProxyNone
			return nil
		}
		return err
	}
	job.ProxyID = proxy.ID
	job.ProxyStatus = proxy.Status
	return nil
}

// PersistJob overwrites the serialized job in the graph store.
func (c *Client) PersistJob(ctx context.Context, workflowID string, job *workflow.Job) error {
	return c.graph.SaveJob(ctx, workflowID, job)
}

// EnqueueJob resets the job's run timestamps, records the enqueue and hands
// the job to the execution queue on its own queue or the namespace queue.
// When the hand-off fails the job is put back the way it was, so a later
// sweep still finds it ready.
func (c *Client) EnqueueJob(ctx context.Context, workflowID string, job *workflow.Job) error {
	prev := *job
	job.MarkEnqueued(c.now())
	if err := c.PersistJob(ctx, workflowID, job); err != nil {
		return err
	}

	if err := c.dispatch(ctx, workflowID, job); err != nil {
		if rbErr := c.restoreEnqueue(context.WithoutCancel(ctx), workflowID, job, &prev, err); rbErr != nil {
			c.logger.Error("failed to roll back enqueue",
				zap.String("workflow_id", workflowID),
				zap.String("job", job.Name()),
				zap.Error(rbErr),
			)
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, workflowID string, job *workflow.Job) error {
	if err := c.transition(ctx, workflowID, job, workflow.ProxyPartitioned, nil); err != nil {
		return err
	}

	name := job.Queue
	if name == "" {
		name = c.config.Namespace
	}
	d := queue.Dispatch{
		WorkflowID: workflowID,
		JobName:    job.Name(),
		JobType:    job.Type,
		JobID:      job.ID,
		Queue:      name,
		Delay:      c.config.DispatchDelay,
	}
	if err := c.queue.Enqueue(ctx, d); err != nil {
		return types.NewError(types.ErrDeliveryRejected, "execution queue rejected "+job.Name()).
			WithCause(err).WithRetryable(true)
	}

	c.logger.Debug("job enqueued",
		zap.String("workflow_id", workflowID),
		zap.String("job", job.Name()),
		zap.String("queue", name),
	)
	return nil
}

// restoreEnqueue undoes a failed EnqueueJob: the run timestamps go back to
// prev and an errored proxy is errored again. A proxy that was created or
// moved to partitioned stays there; without EnqueuedAt the job reads as
// not enqueued.
func (c *Client) restoreEnqueue(ctx context.Context, workflowID string, job *workflow.Job, prev *workflow.Job, cause error) error {
	job.EnqueuedAt = prev.EnqueuedAt
	job.StartedAt = prev.StartedAt
	job.FinishedAt = prev.FinishedAt
	job.FailedAt = prev.FailedAt
	if err := c.PersistJob(ctx, workflowID, job); err != nil {
		return err
	}

	if prev.ProxyStatus != workflow.ProxyErrored || job.ProxyStatus == workflow.ProxyErrored || job.ProxyID == 0 {
		return nil
	}
	return c.transition(ctx, workflowID, job, workflow.ProxyErrored, map[string]any{
		"error": cause.Error(),
		"code":  string(types.ErrDeliveryRejected),
	})
}

// EnqueueIfReady enqueues a job if it is ready to start, under the
// job's next-lock when a mutex is configured so that concurrent callers
// enqueue it once.
func (c *Client) EnqueueIfReady(ctx context.Context, workflowID, jobName string) (bool, error) {
	var enqueued bool
	check := func(ctx context.Context) error {
		job, err := c.FindJob(ctx, workflowID, jobName)
		if err != nil {
			return err
		}
		ready, err := c.ReadyToStart(ctx, workflowID, job)
		if err != nil || !ready {
			return err
		}
		if err := c.EnqueueJob(ctx, workflowID, job); err != nil {
			return err
		}
		enqueued = true
		return nil
	}

	if c.mutex == nil {
		return enqueued, check(ctx)
	}
	err := c.mutex.WithLock(ctx, lock.NextKey(jobName), check)
	return enqueued, err
}

// StartJob records that the job body is about to run.
func (c *Client) StartJob(ctx context.Context, workflowID string, job *workflow.Job) error {
	job.MarkStarted(c.now())
	if err := c.PersistJob(ctx, workflowID, job); err != nil {
		return err
	}
	return c.transition(ctx, workflowID, job, workflow.ProxyInProcess, nil)
}

// FinishJob records success: the proxy goes to done, the finish time is
// persisted, then the proxy goes to completed.
func (c *Client) FinishJob(ctx context.Context, workflowID string, job *workflow.Job) error {
	if err := c.transition(ctx, workflowID, job, workflow.ProxyDone, nil); err != nil {
		return err
	}
	job.MarkFinished(c.now())
	if err := c.PersistJob(ctx, workflowID, job); err != nil {
		return err
	}
	return c.transition(ctx, workflowID, job, workflow.ProxyCompleted, nil)
}

// FailJob records a failed body run with the error on the proxy note.
func (c *Client) FailJob(ctx context.Context, workflowID string, job *workflow.Job, cause error) error {
	job.MarkFailed(c.now())
	if err := c.PersistJob(ctx, workflowID, job); err != nil {
		return err
	}
	var meta map[string]any
	if cause != nil {
		meta = map[string]any{"error": cause.Error()}
		if code := types.GetErrorCode(cause); code != "" {
			meta["code"] = string(code)
		}
	}
	return c.transition(ctx, workflowID, job, workflow.ProxyErrored, meta)
}

// transition creates the proxy on first use and moves it to the new status.
func (c *Client) transition(ctx context.Context, workflowID string, job *workflow.Job, to workflow.ProxyStatus, meta map[string]any) error {
	if job.ProxyID == 0 {
		proxy, err := c.durable.FindOrCreateProxy(ctx, persistence.ProxySpec{
			WorkflowID: workflowID,
			JobName:    job.Name(),
			JobType:    job.Type,
			JobID:      job.ID,
			ParentID:   job.ParentProxyID,
		})
		if err != nil {
			return err
		}
		job.ProxyID = proxy.ID
	}

	proxy, err := retry.DoValue(ctx, c.transitions, func(ctx context.Context) (*persistence.ProxyRecord, error) {
		return c.durable.TransitionProxy(ctx, job.ProxyID, to, meta)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return exhausted.Last
		}
		return err
	}

	job.ProxyStatus = proxy.Status
	c.metrics.RecordJobTransition(job.Type, string(to))
	return nil
}

// =============================================================================
// 🎯 Readiness
// =============================================================================

// ParentsSucceeded reads every predecessor fresh from the stores and
// reports whether all of them succeeded.
func (c *Client) ParentsSucceeded(ctx context.Context, workflowID string, job *workflow.Job) (bool, error) {
	if job.HasNoDependencies() {
		return true, nil
	}
	statuses, err := c.durable.ProxyStatuses(ctx, workflowID)
	if err != nil {
		return false, err
	}
	for _, name := range job.Incoming {
		jobType, jobID, _ := workflow.ParseJobName(name)
		parent, err := c.graph.LoadJob(ctx, workflowID, jobType, jobID)
		if err != nil {
			return false, err
		}
		parent.ProxyStatus = statuses[name]
		if !parent.Succeeded() {
			return false, nil
		}
	}
	return true, nil
}

// ReadyToStart reports whether a job can be enqueued: it is not running,
// enqueued, finished or failed, and every predecessor succeeded. The job
// should be freshly loaded.
func (c *Client) ReadyToStart(ctx context.Context, workflowID string, job *workflow.Job) (bool, error) {
	if job.Running() || job.Enqueued() || job.Finished() || job.Failed() {
		return false, nil
	}
	return c.ParentsSucceeded(ctx, workflowID, job)
}
