package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finish(j *Job, at time.Time) {
	j.MarkEnqueued(at)
	j.MarkStarted(at)
	j.MarkFinished(at)
	j.ProxyStatus = ProxyCompleted
}

func TestWorkflow_Status(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending workflow displays as running", func(t *testing.T) {
		wf, err := buildWith(t, diamond)
		require.NoError(t, err)
		assert.False(t, wf.Started())
		assert.Equal(t, StatusRunning, wf.Status())
	})

	t.Run("all jobs done but record not completed is not finished", func(t *testing.T) {
		wf, err := buildWith(t, diamond)
		require.NoError(t, err)
		for _, j := range wf.Jobs {
			finish(j, base)
		}
		wf.State = StateRunning
		assert.True(t, wf.AllJobsFinished())
		assert.False(t, wf.Finished())
		assert.Equal(t, StatusRunning, wf.Status())

		wf.State = StateCompleted
		assert.True(t, wf.Finished())
		assert.Equal(t, StatusFinished, wf.Status())
	})

	t.Run("a failed job fails the workflow", func(t *testing.T) {
		wf, err := buildWith(t, diamond)
		require.NoError(t, err)
		fetchA, _ := wf.FindJob("FetchA")
		fetchA.MarkStarted(base)
		fetchA.MarkFailed(base)
		fetchA.ProxyStatus = ProxyErrored

		assert.True(t, wf.Failed())
		assert.Equal(t, StatusFailed, wf.Status())
		require.Len(t, wf.FailedJobs(), 1)
	})

	t.Run("stopped", func(t *testing.T) {
		wf, err := buildWith(t, diamond)
		require.NoError(t, err)
		prepare, _ := wf.FindJob("Prepare")
		finish(prepare, base)
		wf.Stopped = true

		assert.True(t, wf.IsStopped())
		assert.Equal(t, StatusStopped, wf.Status())
		assert.True(t, prepare.Finished(), "stopping leaves finished jobs alone")
	})
}

func TestWorkflow_SummaryAndDuration(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	wf, err := buildWith(t, diamond, "partition-7")
	require.NoError(t, err)

	for i, j := range wf.Jobs {
		finish(j, base.Add(time.Duration(i)*time.Minute))
	}
	wf.State = StateCompleted

	s := wf.Summary()
	assert.Equal(t, "wf-1", s.ID)
	assert.Equal(t, "Test", s.Name)
	assert.Equal(t, []any{"partition-7"}, s.Arguments)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 5, s.Finished)
	assert.Equal(t, StatusFinished, s.Status)
	require.NotNil(t, s.StartedAt)
	assert.True(t, base.Equal(*s.StartedAt))
	require.NotNil(t, s.FinishedAt)
	assert.True(t, base.Add(4*time.Minute).Equal(*s.FinishedAt))

	assert.Equal(t, 4*time.Minute, wf.Duration(base.Add(time.Hour)))
}

func TestWorkflow_DependenciesStatus(t *testing.T) {
	wf, err := buildWith(t, diamond)
	require.NoError(t, err)

	prepare, _ := wf.FindJob("Prepare")
	finish(prepare, time.Now())

	deps := wf.DependenciesStatus()
	require.Len(t, deps, 5)

	satisfied := 0
	for _, d := range deps {
		if d.Satisfied {
			satisfied++
			assert.Equal(t, "Prepare|1", d.From)
			assert.Equal(t, JobFinished, d.FromStatus)
		}
	}
	assert.Equal(t, 2, satisfied)
}
