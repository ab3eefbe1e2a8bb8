package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/BaSui01/herd/workflow"
)

// GraphStore is the ephemeral store for workflow graphs. Jobs are written
// whole; a save overwrites the previous serialized copy.
type GraphStore interface {
	Store

	// SaveJob writes one job under its workflow and type.
	SaveJob(ctx context.Context, workflowID string, job *workflow.Job) error

	// SaveJobs writes several jobs in one round trip.
	SaveJobs(ctx context.Context, workflowID string, jobs []*workflow.Job) error

	// LoadJob reads one job by type and id. Missing jobs return a
	// JOB_NOT_FOUND error.
	LoadJob(ctx context.Context, workflowID, jobType, jobID string) (*workflow.Job, error)

	// FirstJob reads any one job of the given type.
	FirstJob(ctx context.Context, workflowID, jobType string) (*workflow.Job, error)

	// LoadJobs reads every job of a workflow, sorted by name.
	LoadJobs(ctx context.Context, workflowID string) ([]*workflow.Job, error)

	// JobExists reports whether a job id is taken within a workflow and type.
	JobExists(ctx context.Context, workflowID, jobType, jobID string) (bool, error)

	// SaveSummary writes the top-level workflow snapshot.
	SaveSummary(ctx context.Context, summary workflow.Summary) error

	// WorkflowExists reports whether a workflow id is taken.
	WorkflowExists(ctx context.Context, workflowID string) (bool, error)

	// DeleteWorkflow removes the snapshot and every job hash.
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// ExpireWorkflow sets a TTL on the snapshot and every job hash. A zero
	// ttl uses the configured default.
	ExpireWorkflow(ctx context.Context, workflowID string, ttl time.Duration) error
}

func sortJobs(jobs []*workflow.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].Name() < jobs[k].Name()
	})
}
