package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/lock"
	"github.com/BaSui01/herd/persistence"
	"github.com/BaSui01/herd/queue"
	"github.com/BaSui01/herd/testutil"
	"github.com/BaSui01/herd/testutil/fixtures"
	"github.com/BaSui01/herd/testutil/mocks"
	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

type harness struct {
	client  *Client
	queue   *mocks.MockQueue
	graph   persistence.GraphStore
	durable *persistence.DurableStore
	mr      *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, rc := testutil.NewRedis(t)
	graph, err := persistence.NewGraphStore(persistence.StoreConfig{
		Type:      persistence.StoreTypeRedis,
		Namespace: "herd",
		TTL:       time.Hour,
	}, rc, zap.NewNop())
	require.NoError(t, err)

	durable := testutil.NewDurableStore(t)
	q := mocks.NewMockQueue()
	mutex := lock.NewMutex(lock.NewRedisLocker(rc, "herd"), lock.Config{
		Retries:         200,
		PollingInterval: 5 * time.Millisecond,
		LockingDuration: 2 * time.Second,
	}, nil, zap.NewNop())

	cfg := config.DefaultHerdConfig()
	cfg.DispatchDelay = 0
	c, err := New(cfg, Deps{
		Graph:    graph,
		Durable:  durable,
		Queue:    q,
		Registry: fixtures.Registry(),
		Mutex:    mutex,
	}, testutil.Logger(t))
	require.NoError(t, err)

	return &harness{client: c, queue: q, graph: graph, durable: durable, mr: mr}
}

func (h *harness) createDiamond(t *testing.T) *workflow.Workflow {
	t.Helper()
	wf, err := h.client.CreateWorkflow(testutil.TestContext(t), fixtures.Diamond, "s3://bucket/input")
	require.NoError(t, err)
	return wf
}

// runJob drives one job through start and finish the way a worker does.
func (h *harness) runJob(t *testing.T, wfID, name string) *workflow.Job {
	t.Helper()
	ctx := testutil.TestContext(t)

	job, err := h.client.FindJob(ctx, wfID, name)
	require.NoError(t, err)
	require.NoError(t, h.client.StartJob(ctx, wfID, job))
	require.NoError(t, h.client.FinishJob(ctx, wfID, job))
	return job
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.DefaultHerdConfig(), Deps{}, nil)
	assert.True(t, types.IsCode(err, types.ErrInvalidConfiguration))
}

func TestClient_CreateWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	wf := h.createDiamond(t)
	assert.NotEmpty(t, wf.ID)
	assert.Len(t, wf.Jobs, 5)

	rec, err := h.durable.FindWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, rec.Status)
	assert.Equal(t, fixtures.Diamond, rec.Name)

	assert.True(t, h.mr.Exists("herd.workflow."+wf.ID))
	assert.True(t, h.mr.Exists("herd.jobs."+wf.ID+".Normalize"))

	loaded, err := h.client.FindWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Jobs, 5)
	assert.Equal(t, []any{"s3://bucket/input"}, loaded.Arguments)
	for _, j := range loaded.Jobs {
		assert.Equal(t, workflow.ProxyNone, j.ProxyStatus, j.Name())
	}

	normalize, err := loaded.FindJob(fixtures.Normalize)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{fixtures.JobName(fixtures.FetchA), fixtures.JobName(fixtures.FetchB)}, normalize.Incoming)

	assert.Empty(t, h.queue.Dispatches(), "creating does not enqueue")
}

func TestClient_CreateWorkflow_UnknownDefinition(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.CreateWorkflow(testutil.TestContext(t), "Nope")
	assert.True(t, types.IsCode(err, types.ErrUnknownDefinition))
}

func TestClient_FindWorkflow_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.FindWorkflow(testutil.TestContext(t), "missing")
	assert.True(t, types.IsCode(err, types.ErrWorkflowNotFound))
}

func TestClient_StartWorkflow_EnqueuesInitialJobs(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)

	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	dispatches := h.queue.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, fixtures.JobName(fixtures.Prepare), dispatches[0].JobName)
	assert.Equal(t, "herd", dispatches[0].Queue)
	assert.Equal(t, wf.ID, dispatches[0].WorkflowID)

	prepare, err := h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)
	assert.True(t, prepare.Enqueued())
	assert.Equal(t, workflow.ProxyPartitioned, prepare.ProxyStatus)

	rec, err := h.durable.FindWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateRunning, rec.Status)

	notes, err := h.client.Notes(ctx, wf.ID, "")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Workflow started", notes[0].Message)
}

func TestClient_StartWorkflow_ExplicitJobs(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)

	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID, fixtures.FetchA, fixtures.JobName(fixtures.FetchB)))

	assert.Equal(t, 1, h.queue.Count(fixtures.JobName(fixtures.FetchA)))
	assert.Equal(t, 1, h.queue.Count(fixtures.JobName(fixtures.FetchB)))
	assert.Equal(t, 0, h.queue.Count(fixtures.JobName(fixtures.Prepare)))
}

func TestClient_StartWorkflow_RefusesCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)

	_, err := h.durable.MarkWorkflowFinished(ctx, wf.ID)
	require.NoError(t, err)

	err = h.client.StartWorkflow(ctx, wf.ID)
	assert.True(t, types.IsCode(err, types.ErrInvalidState))
	assert.Empty(t, h.queue.Dispatches())
}

func TestClient_JobLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	job, err := h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)

	require.NoError(t, h.client.StartJob(ctx, wf.ID, job))
	assert.True(t, job.Started())
	assert.True(t, job.Running())
	assert.Equal(t, workflow.JobRunning, job.Status())

	require.NoError(t, job.SetOutput(map[string]any{"rows": 3}))
	require.NoError(t, h.client.FinishJob(ctx, wf.ID, job))

	fresh, err := h.client.FindJob(ctx, wf.ID, fixtures.JobName(fixtures.Prepare))
	require.NoError(t, err)
	assert.True(t, fresh.Finished())
	assert.True(t, fresh.Succeeded())
	assert.Equal(t, workflow.ProxyCompleted, fresh.ProxyStatus)
	assert.JSONEq(t, `{"rows":3}`, string(fresh.OutputPayload))

	notes, err := h.client.JobNotes(ctx, wf.ID, fixtures.Prepare, "")
	require.NoError(t, err)
	messages := make([]string, len(notes))
	for i, n := range notes {
		messages[i] = n.Message
	}
	assert.Equal(t, []string{"Job fully completed", "Job completed", "Job started processing", "Job partitioned"}, messages)
}

func TestClient_FailJob(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	job, err := h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)
	require.NoError(t, h.client.StartJob(ctx, wf.ID, job))
	require.NoError(t, h.client.FailJob(ctx, wf.ID, job, types.NewError(types.ErrInternalError, "disk full")))

	assert.True(t, job.Failed())
	assert.False(t, job.Succeeded())
	assert.Equal(t, workflow.JobFailed, job.Status())

	errs, err := h.client.JobNotes(ctx, wf.ID, fixtures.Prepare, persistence.LevelError)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "Job encountered an error", errs[0].Message)
	assert.Contains(t, errs[0].Metadata["error"], "disk full")
	assert.Equal(t, string(types.ErrInternalError), errs[0].Metadata["code"])

	loaded, changed, err := h.client.RefreshWorkflowStatus(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, workflow.StatusFailed, loaded.Status())

	_, changed, err = h.client.RefreshWorkflowStatus(ctx, wf.ID)
	require.NoError(t, err)
	assert.False(t, changed, "only the first caller transitions")
}

func TestClient_ReadinessIsMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	ready := func() bool {
		job, err := h.client.FindJob(ctx, wf.ID, fixtures.Normalize)
		require.NoError(t, err)
		ok, err := h.client.ReadyToStart(ctx, wf.ID, job)
		require.NoError(t, err)
		return ok
	}

	assert.False(t, ready())
	h.runJob(t, wf.ID, fixtures.Prepare)
	assert.False(t, ready())
	h.runJob(t, wf.ID, fixtures.FetchA)
	assert.False(t, ready(), "one parent still pending")
	h.runJob(t, wf.ID, fixtures.FetchB)
	assert.True(t, ready())

	// a job that was enqueued is never ready again
	enqueued, err := h.client.EnqueueIfReady(ctx, wf.ID, fixtures.JobName(fixtures.Normalize))
	require.NoError(t, err)
	assert.True(t, enqueued)
	assert.False(t, ready())
}

func TestClient_EnqueueIfReady_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	for _, name := range []string{fixtures.Prepare, fixtures.FetchA, fixtures.FetchB} {
		h.runJob(t, wf.ID, name)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.client.EnqueueIfReady(ctx, wf.ID, fixtures.JobName(fixtures.Normalize))
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, h.queue.Count(fixtures.JobName(fixtures.Normalize)))
}

func TestClient_FindJob(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	h.client.Registry().MustRegister("Twins", func(b *workflow.Builder, _ ...any) error {
		b.Run("Copy", workflow.WithJobID("1"))
		b.Run("Copy", workflow.WithJobID("2"))
		return nil
	})
	wf, err := h.client.CreateWorkflow(ctx, "Twins")
	require.NoError(t, err)

	job, err := h.client.FindJob(ctx, wf.ID, "Copy|2")
	require.NoError(t, err)
	assert.Equal(t, "2", job.ID)

	_, err = h.client.FindJob(ctx, wf.ID, "Copy")
	assert.True(t, types.IsCode(err, types.ErrInvalidJobName))

	_, err = h.client.FindJob(ctx, wf.ID, "Copy|3")
	assert.True(t, types.IsCode(err, types.ErrJobNotFound))

	_, err = h.client.FindJob(ctx, wf.ID, "Paste")
	assert.True(t, types.IsCode(err, types.ErrJobNotFound))
}

func TestClient_StopAndContinue(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))
	h.runJob(t, wf.ID, fixtures.Prepare)

	require.NoError(t, h.client.StopWorkflow(ctx, wf.ID))
	stopped, err := h.client.FindWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, stopped.IsStopped())
	assert.Equal(t, workflow.StatusStopped, stopped.Status())

	// FetchA failed, FetchB became ready but was never enqueued
	fetchA, err := h.client.FindJob(ctx, wf.ID, fixtures.FetchA)
	require.NoError(t, err)
	require.NoError(t, h.client.EnqueueJob(ctx, wf.ID, fetchA))
	require.NoError(t, h.client.StartJob(ctx, wf.ID, fetchA))
	require.NoError(t, h.client.FailJob(ctx, wf.ID, fetchA, errors.New("timeout")))
	before := len(h.queue.Dispatches())

	require.NoError(t, h.client.ContinueWorkflow(ctx, wf.ID))

	resumed, err := h.client.FindWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.False(t, resumed.IsStopped())
	assert.Equal(t, workflow.StateRunning, resumed.State)

	after := h.queue.Dispatches()[before:]
	names := make([]string, len(after))
	for i, d := range after {
		names[i] = d.JobName
	}
	assert.ElementsMatch(t, []string{fixtures.JobName(fixtures.FetchA), fixtures.JobName(fixtures.FetchB)}, names)

	fetchA, err = h.client.FindJob(ctx, wf.ID, fixtures.FetchA)
	require.NoError(t, err)
	assert.False(t, fetchA.Failed())
	assert.True(t, fetchA.Enqueued())

	warnings, err := h.client.Notes(ctx, wf.ID, persistence.LevelWarning)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Workflow stopped", warnings[0].Message)
}

func TestClient_DestroyWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	require.NoError(t, h.client.DestroyWorkflow(ctx, wf.ID))

	_, err := h.client.FindWorkflow(ctx, wf.ID)
	assert.True(t, types.IsCode(err, types.ErrWorkflowNotFound))
	assert.False(t, h.mr.Exists("herd.workflow."+wf.ID))
	assert.False(t, h.mr.Exists("herd.jobs."+wf.ID+".Prepare"))

	err = h.client.DestroyWorkflow(ctx, wf.ID)
	assert.True(t, types.IsCode(err, types.ErrWorkflowNotFound))
}

func TestClient_ExpireWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)

	require.NoError(t, h.client.ExpireWorkflow(ctx, wf.ID, 0))
	assert.Equal(t, h.client.Config().TTL, h.mr.TTL("herd.jobs."+wf.ID+".Prepare"))

	require.NoError(t, h.client.ExpireWorkflow(ctx, wf.ID, time.Minute))
	assert.Equal(t, time.Minute, h.mr.TTL("herd.workflow."+wf.ID))
}

func TestClient_AllWorkflows(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	h.createDiamond(t)
	_, err := h.client.CreateWorkflow(ctx, fixtures.Linear)
	require.NoError(t, err)

	all, err := h.client.AllWorkflows(ctx, persistence.WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	linear, err := h.client.AllWorkflows(ctx, persistence.WorkflowFilter{Name: fixtures.Linear})
	require.NoError(t, err)
	require.Len(t, linear, 1)
	assert.Len(t, linear[0].Jobs, 2)
}

func TestClient_EnqueueJob_QueueOverride(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf, err := h.client.CreateWorkflow(ctx, fixtures.Linear)
	require.NoError(t, err)

	load, err := h.client.FindJob(ctx, wf.ID, "Load")
	require.NoError(t, err)
	require.NoError(t, h.client.EnqueueJob(ctx, wf.ID, load))

	dispatches := h.queue.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, "loaders", dispatches[0].Queue)
}

func TestClient_SameWorkflowRunning(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	first, second := h.createDiamond(t), h.createDiamond(t)
	other, err := h.client.CreateWorkflow(ctx, fixtures.Linear)
	require.NoError(t, err)
	require.NoError(t, h.client.StartWorkflow(ctx, other.ID))

	running, err := h.client.SameWorkflowRunning(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, running, "a different definition does not count")

	require.NoError(t, h.client.StartWorkflow(ctx, first.ID))

	running, err = h.client.SameWorkflowRunning(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, running)

	running, err = h.client.SameWorkflowRunning(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, running, "a workflow does not block itself")

	require.NoError(t, h.client.StopWorkflow(ctx, first.ID))
	running, err = h.client.SameWorkflowRunning(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, running, "stopped runs do not count")

	_, err = h.client.SameWorkflowRunning(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrWorkflowNotFound))
}

func TestClient_EnqueueJob_QueueDown(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	h.queue.WithEnqueueError(errors.New("connection refused"))

	err := h.client.StartWorkflow(ctx, wf.ID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrDeliveryRejected))
	assert.True(t, types.IsRetryable(err))

	prepare, err := h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)
	assert.False(t, prepare.Enqueued())
	ready, err := h.client.ReadyToStart(ctx, wf.ID, prepare)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, 0, h.queue.Count(prepare.Name()))

	h.queue.WithEnqueueError(nil)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))
	prepare, err = h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)
	assert.True(t, prepare.Enqueued())
	assert.Equal(t, 1, h.queue.Count(prepare.Name()))
}

func TestClient_EnqueueJob_QueueDownKeepsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)
	wf := h.createDiamond(t)
	require.NoError(t, h.client.StartWorkflow(ctx, wf.ID))

	job, err := h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)
	require.NoError(t, h.client.StartJob(ctx, wf.ID, job))
	require.NoError(t, h.client.FailJob(ctx, wf.ID, job, errors.New("boom")))

	h.queue.WithEnqueueError(errors.New("connection refused"))
	err = h.client.EnqueueJob(ctx, wf.ID, job)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrDeliveryRejected))

	loaded, err := h.client.FindJob(ctx, wf.ID, fixtures.Prepare)
	require.NoError(t, err)
	assert.True(t, loaded.Failed())
	assert.NotNil(t, loaded.FailedAt)
	assert.Equal(t, workflow.ProxyErrored, loaded.ProxyStatus)
}

func TestClient_CreateChildWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	parent, err := h.client.CreateWorkflow(ctx, fixtures.Parent)
	require.NoError(t, err)
	require.NoError(t, h.client.StartWorkflow(ctx, parent.ID))
	node, err := h.client.FindJob(ctx, parent.ID, "Start")
	require.NoError(t, err)

	child, err := h.client.CreateChildWorkflow(ctx, workflow.Parent{
		WorkflowID: parent.ID,
		JobName:    "Linear|child",
		ProxyID:    node.ProxyID,
	}, fixtures.Linear)
	require.NoError(t, err)

	loaded, err := h.client.FindWorkflow(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Parent)
	assert.Equal(t, parent.ID, loaded.Parent.WorkflowID)
	assert.Equal(t, node.ProxyID, loaded.Parent.ProxyID)
	for _, j := range loaded.Jobs {
		require.NotNil(t, j.ParentProxyID)
		assert.Equal(t, node.ProxyID, *j.ParentProxyID)
	}
}

type crowdedGraph struct {
	persistence.GraphStore
}

func (crowdedGraph) JobExists(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func TestClient_NextFreeJobID_Exhausted(t *testing.T) {
	cfg := config.DefaultHerdConfig()
	cfg.IDRetries = 3
	c, err := New(cfg, Deps{
		Graph:    crowdedGraph{GraphStore: persistence.NewMemoryGraphStore(persistence.StoreConfig{})},
		Durable:  testutil.NewDurableStore(t),
		Queue:    queue.NewMemoryQueue(queue.Config{}),
		Registry: fixtures.Registry(),
	}, nil)
	require.NoError(t, err)

	_, err = c.NextFreeJobID(context.Background(), "wf-1", "Prepare")
	assert.True(t, types.IsCode(err, types.ErrIdentityExhausted))

	_, err = c.CreateWorkflow(context.Background(), fixtures.Linear)
	assert.True(t, types.IsCode(err, types.ErrIdentityExhausted))
}
