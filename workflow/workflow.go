package workflow

import (
	"time"

	"github.com/BaSui01/herd/types"
)

// State is the durable lifecycle state of a workflow record.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Status is the display status of a workflow.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// Parent links a nested workflow to the node that spawned it.
type Parent struct {
	WorkflowID string
	JobName    string
	ProxyID    uint
}

// Workflow is a graph of jobs plus the durable lifecycle fields read back
// from the relational store.
type Workflow struct {
	ID        string
	Type      string
	Arguments []any

	State      State
	Stopped    bool
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time

	Parent *Parent

	Jobs []*Job
}

// FindJob looks a job up by fully-qualified name or by bare type. A bare
// type that matches more than one job is rejected as ambiguous.
func (w *Workflow) FindJob(name string) (*Job, error) {
	return findJob(w.Jobs, w.ID, name)
}

func findJob(jobs []*Job, workflowID, name string) (*Job, error) {
	jobType, _, qualified := ParseJobName(name)
	if jobType == "" {
		return nil, types.Errorf(types.ErrInvalidJobName, "invalid job name %q", name)
	}

	if qualified {
		for _, j := range jobs {
			if j.Name() == name {
				return j, nil
			}
		}
		return nil, types.NewJobNotFoundError(workflowID, name)
	}

	var match *Job
	for _, j := range jobs {
		if j.Type != jobType {
			continue
		}
		if match != nil {
			return nil, types.Errorf(types.ErrInvalidJobName,
				"job name %q is ambiguous: %s and %s both match, use the qualified name",
				name, match.Name(), j.Name())
		}
		match = j
	}
	if match == nil {
		return nil, types.NewJobNotFoundError(workflowID, name)
	}
	return match, nil
}

// InitialJobs returns the jobs without predecessors in insertion order.
func (w *Workflow) InitialJobs() []*Job {
	var out []*Job
	for _, j := range w.Jobs {
		if j.HasNoDependencies() {
			out = append(out, j)
		}
	}
	return out
}

// FailedJobs returns the jobs whose body failed.
func (w *Workflow) FailedJobs() []*Job {
	var out []*Job
	for _, j := range w.Jobs {
		if j.Failed() {
			out = append(out, j)
		}
	}
	return out
}

// AllJobsFinished reports whether every job durably completed.
func (w *Workflow) AllJobsFinished() bool {
	for _, j := range w.Jobs {
		if !j.Finished() {
			return false
		}
	}
	return true
}

// Finished requires every job finished and the durable record completed.
func (w *Workflow) Finished() bool {
	return w.AllJobsFinished() && w.State == StateCompleted
}

// Failed reports whether any job failed or the record was marked failed.
func (w *Workflow) Failed() bool {
	if w.State == StateFailed {
		return true
	}
	for _, j := range w.Jobs {
		if j.Failed() {
			return true
		}
	}
	return false
}

// Started reports whether the workflow was started.
func (w *Workflow) Started() bool {
	return w.StartedAt != nil || w.FirstStartedAt() != nil
}

// Running reports whether the workflow started and has not finished.
func (w *Workflow) Running() bool {
	return w.Started() && !w.Finished()
}

// IsStopped reports the stop flag or a stopped record.
func (w *Workflow) IsStopped() bool {
	return w.Stopped || w.State == StateStopped
}

// Status resolves the display status: failed, running, finished, stopped,
// falling back to running.
func (w *Workflow) Status() Status {
	switch {
	case w.Failed():
		return StatusFailed
	case w.Running() && !w.IsStopped():
		return StatusRunning
	case w.Finished():
		return StatusFinished
	case w.IsStopped():
		return StatusStopped
	default:
		return StatusRunning
	}
}

// FinishedCount returns the number of finished jobs.
func (w *Workflow) FinishedCount() int {
	n := 0
	for _, j := range w.Jobs {
		if j.Finished() {
			n++
		}
	}
	return n
}

// FirstStartedAt returns the earliest job start time.
func (w *Workflow) FirstStartedAt() *time.Time {
	var first *time.Time
	for _, j := range w.Jobs {
		if j.StartedAt != nil && (first == nil || j.StartedAt.Before(*first)) {
			first = j.StartedAt
		}
	}
	return first
}

// LastFinishedAt returns the latest job finish time once the workflow is
// finished.
func (w *Workflow) LastFinishedAt() *time.Time {
	if !w.Finished() {
		return w.FinishedAt
	}
	var last *time.Time
	for _, j := range w.Jobs {
		if j.FinishedAt != nil && (last == nil || j.FinishedAt.After(*last)) {
			last = j.FinishedAt
		}
	}
	if last == nil {
		return w.FinishedAt
	}
	return last
}

// Duration returns how long the workflow ran, or has been running.
func (w *Workflow) Duration(now time.Time) time.Duration {
	start := w.StartedAt
	if start == nil {
		start = w.FirstStartedAt()
	}
	if start == nil {
		return 0
	}
	end := now
	if fin := w.LastFinishedAt(); fin != nil {
		end = *fin
	}
	return end.Sub(*start)
}

// Summary is the top-level snapshot of a workflow.
type Summary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Arguments  []any      `json:"arguments"`
	Total      int        `json:"total"`
	Finished   int        `json:"finished"`
	Status     Status     `json:"status"`
	Stopped    bool       `json:"stopped"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Summary returns the workflow snapshot stored next to the job hashes.
func (w *Workflow) Summary() Summary {
	args := w.Arguments
	if args == nil {
		args = []any{}
	}
	started := w.StartedAt
	if first := w.FirstStartedAt(); first != nil {
		started = first
	}
	return Summary{
		ID:         w.ID,
		Name:       w.Type,
		Arguments:  args,
		Total:      len(w.Jobs),
		Finished:   w.FinishedCount(),
		Status:     w.Status(),
		Stopped:    w.IsStopped(),
		StartedAt:  started,
		FinishedAt: w.LastFinishedAt(),
	}
}

// DependencyStatus describes one edge and the state of its source job.
type DependencyStatus struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	FromStatus FriendlyStatus `json:"from_status"`
	Satisfied  bool           `json:"satisfied"`
}

// DependenciesStatus lists every edge with the status of its source job,
// as far as the loaded copy of the graph knows.
func (w *Workflow) DependenciesStatus() []DependencyStatus {
	var out []DependencyStatus
	for _, j := range w.Jobs {
		for _, to := range j.Outgoing {
			out = append(out, DependencyStatus{
				From:       j.Name(),
				To:         to,
				FromStatus: j.Status(),
				Satisfied:  j.Succeeded(),
			})
		}
	}
	return out
}
