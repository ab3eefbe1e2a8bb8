// Package worker runs jobs delivered by the execution queue: setup, the
// registered handler body, then teardown with the completion protocol.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/client"
	"github.com/BaSui01/herd/internal/ctxkeys"
	"github.com/BaSui01/herd/internal/metrics"
	"github.com/BaSui01/herd/queue"
	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

const instrumentationName = "github.com/BaSui01/herd/worker"

// Worker performs single deliveries. It holds no per-job state and is safe
// for concurrent use.
type Worker struct {
	client      *client.Client
	coordinator *Coordinator
	handlers    *Handlers
	metrics     *metrics.Collector
	logger      *zap.Logger

	tracer    trace.Tracer
	performed metric.Int64Counter
}

// New creates a worker. collector may be nil.
func New(c *client.Client, coordinator *Coordinator, handlers *Handlers, collector *metrics.Collector, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "worker"))

	meter := otel.Meter(instrumentationName)
	performed, err := meter.Int64Counter("herd.worker.performed",
		metric.WithDescription("Deliveries performed, by job type and outcome"))
	if err != nil {
		logger.Warn("otel counter unavailable", zap.Error(err))
	}

	return &Worker{
		client:      c,
		coordinator: coordinator,
		handlers:    handlers,
		metrics:     collector,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		performed:   performed,
	}
}

// Perform runs one delivery end to end. A returned error asks the queue to
// redeliver.
func (w *Worker) Perform(ctx context.Context, d queue.Dispatch) (err error) {
	ctx = ctxkeys.WithWorkflowID(ctx, d.WorkflowID)
	ctx = ctxkeys.WithJobName(ctx, d.JobName)
	ctx = ctxkeys.WithDeliveryID(ctx, d.ID)

	ctx, span := w.tracer.Start(ctx, "herd.perform", trace.WithAttributes(
		attribute.String("herd.workflow_id", d.WorkflowID),
		attribute.String("herd.job", d.JobName),
		attribute.Int("herd.attempt", d.Attempt),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		w.countPerformed(ctx, d.JobType, err)
	}()

	jc, err := w.Setup(ctx, d.WorkflowID, d.JobName)
	if err != nil {
		return err
	}
	jc.Attempt = d.Attempt

	if jc.Duplicate {
		span.AddEvent("duplicate delivery")
		return w.Teardown(ctx, jc, nil)
	}
	if jc.Job.IsSubWorkflow() {
		return w.startChild(ctx, jc)
	}

	start := time.Now()
	bodyErr := w.runBody(ctx, jc)
	outcome := "succeeded"
	if bodyErr != nil {
		outcome = "failed"
	}
	w.metrics.RecordJobDuration(jc.Job.Type, outcome, time.Since(start))

	return w.Teardown(ctx, jc, bodyErr)
}

// Setup resolves the job and its workflow, gathers the outputs of its
// predecessors in incoming order and marks the job started. A job that
// already succeeded comes back with Duplicate set and is not restarted.
func (w *Worker) Setup(ctx context.Context, workflowID, jobName string) (*JobContext, error) {
	wf, err := w.client.FindWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	job, err := wf.FindJob(jobName)
	if err != nil {
		return nil, err
	}

	fields := ctxkeys.Fields(ctx)
	if len(fields) == 0 {
		fields = []zap.Field{zap.String("workflow_id", workflowID), zap.String("job", job.Name())}
	}
	jc := &JobContext{
		WorkflowID: workflowID,
		Workflow:   wf,
		Job:        job,
		Logger:     w.logger.With(fields...),
	}
	if job.Succeeded() {
		jc.Duplicate = true
		return jc, nil
	}

	if !job.IsSubWorkflow() {
		handler, err := w.handlers.Lookup(job.Type)
		if err != nil {
			return nil, err
		}
		jc.handler = handler
	}

	for _, name := range job.Incoming {
		parent, err := wf.FindJob(name)
		if err != nil {
			return nil, err
		}
		jc.Inputs = append(jc.Inputs, Input{ID: parent.Name(), Type: parent.Type, Output: parent.OutputPayload})
	}

	if job.Failed() && wf.State == workflow.StateFailed {
		if err := w.client.ReopenWorkflow(ctx, workflowID); err != nil {
			return nil, err
		}
	}
	if err := w.client.StartJob(ctx, workflowID, job); err != nil {
		return nil, err
	}
	return jc, nil
}

// Teardown records the outcome of the body. On failure the job and the
// workflow are marked failed and bodyErr is returned. On success the job is
// finished under its finish-lock and the downstream sweep runs; a duplicate
// delivery only runs the sweep.
func (w *Worker) Teardown(ctx context.Context, jc *JobContext, bodyErr error) error {
	if bodyErr != nil {
		jc.Logger.Warn("job failed", zap.Error(bodyErr))
		if err := w.client.FailJob(ctx, jc.WorkflowID, jc.Job, bodyErr); err != nil {
			return errors.Join(bodyErr, err)
		}
		if err := w.coordinator.Settle(ctx, jc.WorkflowID); err != nil {
			return errors.Join(bodyErr, err)
		}
		return bodyErr
	}

	if !jc.Duplicate {
		if _, err := w.coordinator.MarkFinished(ctx, jc.WorkflowID, jc.Job); err != nil {
			return err
		}
	}

	enqueued, err := w.coordinator.EnqueueOutgoing(ctx, jc.WorkflowID, jc.Job)
	if err != nil {
		return err
	}
	jc.Logger.Debug("job torn down", zap.Int("enqueued", enqueued), zap.Bool("duplicate", jc.Duplicate))

	return w.coordinator.Settle(ctx, jc.WorkflowID)
}

// runBody calls the handler, turning a panic into an error.
func (w *Worker) runBody(ctx context.Context, jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			jc.Logger.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = types.Errorf(types.ErrInternalError, "job %s panicked: %v", jc.Job.Name(), r)
		}
	}()
	return jc.handler.Perform(ctx, jc)
}

// startChild creates (or finds) the nested workflow of a node and starts
// it. The node finishes when the nested workflow does.
func (w *Worker) startChild(ctx context.Context, jc *JobContext) error {
	node := jc.Job
	child, err := w.client.FindChildWorkflow(ctx, jc.WorkflowID, node.Name())
	if err != nil && !types.IsCode(err, types.ErrWorkflowNotFound) {
		return err
	}
	if child == nil {
		child, err = w.client.CreateChildWorkflow(ctx, workflow.Parent{
			WorkflowID: jc.WorkflowID,
			JobName:    node.Name(),
			ProxyID:    node.ProxyID,
		}, node.SubWorkflow, node.SubArgs...)
		if err != nil {
			return fmt.Errorf("create nested workflow for %s: %w", node.Name(), err)
		}
	}
	if child.Started() {
		return nil
	}
	if err := w.client.StartWorkflow(ctx, child.ID); err != nil {
		return err
	}
	jc.Logger.Info("nested workflow started", zap.String("child_workflow_id", child.ID))
	return nil
}

func (w *Worker) countPerformed(ctx context.Context, jobType string, err error) {
	if w.performed == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	w.performed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	))
}
