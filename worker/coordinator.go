package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/herd/client"
	"github.com/BaSui01/herd/lock"
	"github.com/BaSui01/herd/workflow"
)

// Coordinator implements the completion protocol shared by every worker:
// an idempotent finish under the job's finish-lock, and a downstream sweep
// that enqueues each ready successor under the successor's next-lock.
type Coordinator struct {
	client *client.Client
	mutex  *lock.Mutex
	logger *zap.Logger
}

// NewCoordinator creates a coordinator. The client should share mutex so
// that every enqueue of a job contends on the same next-lock.
func NewCoordinator(c *client.Client, mutex *lock.Mutex, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		client: c,
		mutex:  mutex,
		logger: logger.With(zap.String("component", "coordinator")),
	}
}

// MarkFinished records the job's success once. It reports false when the
// job had already durably succeeded, e.g. on a duplicate delivery.
func (c *Coordinator) MarkFinished(ctx context.Context, workflowID string, job *workflow.Job) (bool, error) {
	var finished bool
	err := c.mutex.WithLock(ctx, lock.FinishKey(job.Name()), func(ctx context.Context) error {
		fresh, err := c.client.FindJob(ctx, workflowID, job.Name())
		if err != nil {
			return err
		}
		if fresh.Succeeded() {
			return nil
		}
		if job.ProxyID == 0 {
			job.ProxyID = fresh.ProxyID
		}
		if err := c.client.FinishJob(ctx, workflowID, job); err != nil {
			return err
		}
		finished = true
		return nil
	})
	return finished, err
}

// EnqueueOutgoing runs the downstream sweep for a finished job and returns
// how many successors this call enqueued. Stopped workflows are skipped.
// A failure on one edge does not keep the others from being tried.
func (c *Coordinator) EnqueueOutgoing(ctx context.Context, workflowID string, job *workflow.Job) (int, error) {
	if len(job.Outgoing) == 0 {
		return 0, nil
	}
	stopped, err := c.client.IsStopped(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	if stopped {
		c.logger.Info("workflow stopped, not enqueueing successors",
			zap.String("workflow_id", workflowID),
			zap.String("job", job.Name()),
		)
		return 0, nil
	}

	var errs []error
	enqueued := 0
	for _, name := range job.Outgoing {
		ok, err := c.client.EnqueueIfReady(ctx, workflowID, name)
		if err != nil {
			c.logger.Error("downstream enqueue failed",
				zap.String("workflow_id", workflowID),
				zap.String("job", job.Name()),
				zap.String("successor", name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", name, err))
			continue
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, errors.Join(errs...)
}

// Settle moves the workflow to completed or failed once its jobs say so,
// and carries the outcome up to the parent node of a nested workflow.
func (c *Coordinator) Settle(ctx context.Context, workflowID string) error {
	wf, changed, err := c.client.RefreshWorkflowStatus(ctx, workflowID)
	if err != nil {
		return err
	}
	if !changed || wf.Parent == nil {
		return nil
	}

	parent := wf.Parent
	node, err := c.client.FindJob(ctx, parent.WorkflowID, parent.JobName)
	if err != nil {
		return fmt.Errorf("resolve parent node of %s: %w", workflowID, err)
	}

	switch wf.State {
	case workflow.StateCompleted:
		if _, err := c.MarkFinished(ctx, parent.WorkflowID, node); err != nil {
			return err
		}
		if _, err := c.EnqueueOutgoing(ctx, parent.WorkflowID, node); err != nil {
			return err
		}
	case workflow.StateFailed:
		cause := fmt.Errorf("nested workflow %s failed", workflowID)
		if err := c.client.FailJob(ctx, parent.WorkflowID, node, cause); err != nil {
			return err
		}
	default:
		return nil
	}

	c.logger.Info("nested workflow settled parent node",
		zap.String("workflow_id", workflowID),
		zap.String("parent_workflow_id", parent.WorkflowID),
		zap.String("node", parent.JobName),
		zap.String("state", string(wf.State)),
	)
	return c.Settle(ctx, parent.WorkflowID)
}
