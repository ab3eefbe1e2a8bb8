package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestJob_Predicates(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setup     func(j *Job)
		enqueued  bool
		running   bool
		finished  bool
		failed    bool
		succeeded bool
		status    FriendlyStatus
	}{
		{
			name:   "fresh job",
			setup:  func(j *Job) {},
			status: JobRunning,
		},
		{
			name: "enqueued",
			setup: func(j *Job) {
				j.MarkEnqueued(now)
				j.ProxyStatus = ProxyPartitioned
			},
			enqueued: true,
			status:   JobRunning,
		},
		{
			name: "started",
			setup: func(j *Job) {
				j.MarkEnqueued(now)
				j.MarkStarted(now)
				j.ProxyStatus = ProxyInProcess
			},
			enqueued: true,
			running:  true,
			status:   JobRunning,
		},
		{
			name: "body done but completion not confirmed",
			setup: func(j *Job) {
				j.MarkEnqueued(now)
				j.MarkStarted(now)
				j.MarkFinished(now)
				j.ProxyStatus = ProxyDone
			},
			enqueued: true,
			status:   JobRunning,
		},
		{
			name: "finished",
			setup: func(j *Job) {
				j.MarkEnqueued(now)
				j.MarkStarted(now)
				j.MarkFinished(now)
				j.ProxyStatus = ProxyCompleted
			},
			enqueued:  true,
			finished:  true,
			succeeded: true,
			status:    JobFinished,
		},
		{
			name: "failed",
			setup: func(j *Job) {
				j.MarkEnqueued(now)
				j.MarkStarted(now)
				j.MarkFailed(now)
				j.ProxyStatus = ProxyErrored
			},
			enqueued: true,
			failed:   true,
			status:   JobFailed,
		},
		{
			name: "local timestamp without durable completion is not finished",
			setup: func(j *Job) {
				j.MarkFinished(now)
				j.ProxyStatus = ProxyInProcess
			},
			status: JobRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJob("Fetch", "1")
			tt.setup(j)

			assert.Equal(t, tt.enqueued, j.Enqueued(), "enqueued")
			assert.Equal(t, tt.running, j.Running(), "running")
			assert.Equal(t, tt.finished, j.Finished(), "finished")
			assert.Equal(t, tt.failed, j.Failed(), "failed")
			assert.Equal(t, tt.succeeded, j.Succeeded(), "succeeded")
			assert.Equal(t, tt.status, j.Status())
		})
	}
}

func TestJob_MarkEnqueuedResetsRun(t *testing.T) {
	now := time.Now()
	j := NewJob("Fetch", "1")
	j.MarkStarted(now)
	j.MarkFailed(now)

	j.MarkEnqueued(now.Add(time.Second))

	assert.NotNil(t, j.EnqueuedAt)
	assert.Nil(t, j.StartedAt)
	assert.Nil(t, j.FinishedAt)
	assert.Nil(t, j.FailedAt)
}

func TestJob_MarkStartedClearsFailure(t *testing.T) {
	now := time.Now()
	j := NewJob("Fetch", "1")
	j.MarkFailed(now)

	j.MarkStarted(now)

	assert.Nil(t, j.FailedAt)
	assert.NotNil(t, j.FinishedAt, "finish stamp is only reset by enqueue")
}

func TestParseJobName(t *testing.T) {
	typ, id, ok := ParseJobName("Fetch|9c1d")
	assert.True(t, ok)
	assert.Equal(t, "Fetch", typ)
	assert.Equal(t, "9c1d", id)

	typ, id, ok = ParseJobName("Fetch")
	assert.False(t, ok)
	assert.Equal(t, "Fetch", typ)
	assert.Empty(t, id)
}

func TestParseJobName_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := rapid.StringMatching(`[A-Za-z][A-Za-z0-9_:]{0,15}`).Draw(t, "type")
		id := rapid.StringMatching(`[a-f0-9-]{1,36}`).Draw(t, "id")

		gotType, gotID, ok := ParseJobName(JobName(typ, id))
		if !ok || gotType != typ || gotID != id {
			t.Fatalf("round trip of %q/%q gave %q/%q (qualified=%v)", typ, id, gotType, gotID, ok)
		}
	})
}

func TestJob_JSONKeepsGraphFields(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := NewJob("Normalize", "abc")
	j.WorkflowID = "wf-1"
	j.Queue = "critical"
	j.Params = map[string]any{"region": "eu"}
	j.Incoming = []string{"FetchA|1", "FetchB|2"}
	j.Outgoing = []string{"Persist|3"}
	j.MarkEnqueued(now)
	j.ProxyStatus = ProxyCompleted
	require.NoError(t, j.SetOutput(map[string]int{"rows": 10}))

	data, err := json.Marshal(j)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "completed", "proxy status is never serialized")

	var got Job
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, j.Name(), got.Name())
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "critical", got.Queue)
	assert.Equal(t, j.Incoming, got.Incoming)
	assert.Equal(t, j.Outgoing, got.Outgoing)
	assert.Equal(t, "eu", got.Params["region"])
	require.NotNil(t, got.EnqueuedAt)
	assert.True(t, now.Equal(*got.EnqueuedAt))
	assert.Nil(t, got.StartedAt)
	assert.JSONEq(t, `{"rows":10}`, string(got.OutputPayload))
	assert.Equal(t, ProxyNone, got.ProxyStatus)
}

func TestJob_UnmarshalLegacyRecord(t *testing.T) {
	legacy := `{
		"id": "77",
		"klass": "FetchA",
		"queue": null,
		"incoming": null,
		"finished_at": 1714564800,
		"started_at": "1714564790",
		"enqueued_at": null,
		"params": null,
		"workflow_id": "wf-legacy",
		"output_payload": null,
		"proxy_class": "Herd::Proxy"
	}`

	var j Job
	require.NoError(t, json.Unmarshal([]byte(legacy), &j))

	assert.Equal(t, "FetchA|77", j.Name())
	assert.Empty(t, j.Incoming)
	assert.NotNil(t, j.Incoming)
	assert.NotNil(t, j.Outgoing)
	assert.NotNil(t, j.Params)
	assert.Nil(t, j.EnqueuedAt)
	assert.Nil(t, j.OutputPayload)
	require.NotNil(t, j.FinishedAt)
	assert.Equal(t, int64(1714564800), j.FinishedAt.Unix())
	require.NotNil(t, j.StartedAt)
	assert.Equal(t, int64(1714564790), j.StartedAt.Unix())
}

func TestJob_UnmarshalDefaultsGarbageTimestamp(t *testing.T) {
	var j Job
	data := `{"id":"1","type":"A","enqueued_at":"2024-05-01T10:00:00Z","started_at":{"nope":1},"finished_at":"yesterday"}`
	require.NoError(t, json.Unmarshal([]byte(data), &j))

	assert.Equal(t, "A|1", j.Name())
	require.NotNil(t, j.EnqueuedAt)
	assert.Nil(t, j.StartedAt)
	assert.Nil(t, j.FinishedAt)
	require.Len(t, j.DecodeIssues(), 2)
	assert.Contains(t, j.DecodeIssues()[0], "started_at")
	assert.Contains(t, j.DecodeIssues()[1], "finished_at")

	var clean Job
	require.NoError(t, json.Unmarshal([]byte(`{"id":"2","type":"B"}`), &clean))
	assert.Empty(t, clean.DecodeIssues())
}

func TestJob_CloneIsIndependent(t *testing.T) {
	j := NewJob("A", "1")
	j.Outgoing = []string{"B|2"}
	j.Params["k"] = "v"

	c := j.Clone()
	c.Outgoing[0] = "C|3"
	c.Params["k"] = "changed"

	assert.Equal(t, "B|2", j.Outgoing[0])
	assert.Equal(t, "v", j.Params["k"])
}
