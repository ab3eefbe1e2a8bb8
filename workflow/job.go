package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NameSeparator joins a job type and its id into a fully-qualified job name.
const NameSeparator = "|"

// ProxyStatus is the durable status of a job as recorded by its proxy row.
type ProxyStatus string

// Proxy statuses. ProxyNone means no proxy row exists yet.
const (
	ProxyNone        ProxyStatus = ""
	ProxyPartitioned ProxyStatus = "partitioned"
	ProxyInProcess   ProxyStatus = "in_process"
	ProxyDone        ProxyStatus = "done"
	ProxyCompleted   ProxyStatus = "completed"
	ProxyErrored     ProxyStatus = "errored"
)

// FriendlyStatus is the display status of a job.
type FriendlyStatus string

const (
	JobRunning  FriendlyStatus = "running"
	JobFinished FriendlyStatus = "finished"
	JobFailed   FriendlyStatus = "failed"
)

// Job is one node of a workflow graph. Its serialized form lives in the
// ephemeral graph store; ProxyStatus is hydrated from the durable store on
// every read and never serialized.
type Job struct {
	ID         string
	Type       string
	WorkflowID string
	Queue      string
	Params     map[string]any

	// Incoming and Outgoing hold fully-qualified job names.
	Incoming []string
	Outgoing []string

	EnqueuedAt *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	FailedAt   *time.Time

	OutputPayload json.RawMessage

	ProxyID       uint
	ParentProxyID *uint

	// SubWorkflow is set for nested workflow nodes: the registered
	// definition to instantiate when the node runs, with its arguments.
	SubWorkflow string
	SubArgs     []any

	ProxyStatus ProxyStatus

	// issues lists fields that could not be decoded and were defaulted.
	issues []string
}

// NewJob creates an unscheduled job with empty edge lists.
func NewJob(jobType, id string) *Job {
	return &Job{
		ID:       id,
		Type:     jobType,
		Params:   map[string]any{},
		Incoming: []string{},
		Outgoing: []string{},
	}
}

// JobName renders the fully-qualified name for a job type and id.
func JobName(jobType, id string) string {
	return jobType + NameSeparator + id
}

// ParseJobName splits a name into type and id. qualified is false for bare
// type names.
func ParseJobName(name string) (jobType, id string, qualified bool) {
	jobType, id, qualified = strings.Cut(name, NameSeparator)
	if !qualified {
		return name, "", false
	}
	return jobType, id, true
}

// Name returns the fully-qualified job name.
func (j *Job) Name() string {
	return JobName(j.Type, j.ID)
}

// IsSubWorkflow reports whether the node stands for a nested workflow.
func (j *Job) IsSubWorkflow() bool {
	return j.SubWorkflow != ""
}

// HasNoDependencies reports whether the job is an initial job.
func (j *Job) HasNoDependencies() bool {
	return len(j.Incoming) == 0
}

// Enqueued reports whether the job was handed to the execution queue.
func (j *Job) Enqueued() bool {
	return j.EnqueuedAt != nil
}

// Started reports whether the job began running. Once a proxy exists it
// must agree.
func (j *Job) Started() bool {
	if j.ProxyStatus == ProxyNone {
		return j.StartedAt != nil
	}
	return j.StartedAt != nil && j.ProxyStatus == ProxyInProcess
}

// Finished requires both the local timestamp and the durable completion.
func (j *Job) Finished() bool {
	return j.FinishedAt != nil && j.ProxyStatus == ProxyCompleted
}

// Failed reports whether the job body failed.
func (j *Job) Failed() bool {
	if j.ProxyStatus == ProxyNone {
		return j.FailedAt != nil
	}
	return j.FailedAt != nil && j.ProxyStatus == ProxyErrored
}

// Succeeded reports whether the job finished without failing.
func (j *Job) Succeeded() bool {
	return j.Finished() && !j.Failed()
}

// Running reports whether the job is in flight.
func (j *Job) Running() bool {
	return j.Started() && !j.Finished() && j.ProxyStatus == ProxyInProcess
}

// Status returns the display status. Failed beats running, which beats
// finished; anything else displays as running.
func (j *Job) Status() FriendlyStatus {
	switch {
	case j.Failed():
		return JobFailed
	case j.Running():
		return JobRunning
	case j.Finished():
		return JobFinished
	default:
		return JobRunning
	}
}

// MarkEnqueued resets the run timestamps and stamps the enqueue time.
func (j *Job) MarkEnqueued(now time.Time) {
	j.EnqueuedAt = timePtr(now)
	j.StartedAt = nil
	j.FinishedAt = nil
	j.FailedAt = nil
}

// MarkStarted stamps the start time and clears a previous failure.
func (j *Job) MarkStarted(now time.Time) {
	j.StartedAt = timePtr(now)
	j.FailedAt = nil
}

// MarkFinished stamps the finish time.
func (j *Job) MarkFinished(now time.Time) {
	j.FinishedAt = timePtr(now)
}

// MarkFailed stamps both the finish and failure times.
func (j *Job) MarkFailed(now time.Time) {
	j.FinishedAt = timePtr(now)
	j.FailedAt = timePtr(now)
}

// SetOutput records the job's output payload for downstream jobs.
func (j *Job) SetOutput(v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		j.OutputPayload = raw
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output of %s: %w", j.Name(), err)
	}
	j.OutputPayload = data
	return nil
}

// Clone returns a deep copy that shares no slices or maps with j.
func (j *Job) Clone() *Job {
	c := *j
	c.Incoming = append([]string{}, j.Incoming...)
	c.Outgoing = append([]string{}, j.Outgoing...)
	c.Params = make(map[string]any, len(j.Params))
	for k, v := range j.Params {
		c.Params[k] = v
	}
	if j.OutputPayload != nil {
		c.OutputPayload = append(json.RawMessage{}, j.OutputPayload...)
	}
	c.SubArgs = append([]any(nil), j.SubArgs...)
	return &c
}

func (j *Job) addIncoming(name string) {
	if !contains(j.Incoming, name) {
		j.Incoming = append(j.Incoming, name)
	}
}

func (j *Job) addOutgoing(name string) {
	if !contains(j.Outgoing, name) {
		j.Outgoing = append(j.Outgoing, name)
	}
}

// =============================================================================
// 🔄 序列化
// =============================================================================

type jobJSON struct {
	ID            string          `json:"id"`
	Type          string          `json:"type,omitempty"`
	Klass         string          `json:"klass,omitempty"`
	WorkflowID    string          `json:"workflow_id"`
	Queue         string          `json:"queue,omitempty"`
	Params        map[string]any  `json:"params"`
	Incoming      []string        `json:"incoming"`
	Outgoing      []string        `json:"outgoing"`
	EnqueuedAt    json.RawMessage `json:"enqueued_at,omitempty"`
	StartedAt     json.RawMessage `json:"started_at,omitempty"`
	FinishedAt    json.RawMessage `json:"finished_at,omitempty"`
	FailedAt      json.RawMessage `json:"failed_at,omitempty"`
	OutputPayload json.RawMessage `json:"output_payload,omitempty"`
	ProxyID       uint            `json:"proxy_id,omitempty"`
	ParentProxyID *uint           `json:"parent_proxy_id,omitempty"`
	Workflow      string          `json:"workflow,omitempty"`
	Args          []any           `json:"args,omitempty"`
}

// MarshalJSON encodes the job for the graph store.
func (j *Job) MarshalJSON() ([]byte, error) {
	out := jobJSON{
		ID:            j.ID,
		Type:          j.Type,
		WorkflowID:    j.WorkflowID,
		Queue:         j.Queue,
		Params:        j.Params,
		Incoming:      j.Incoming,
		Outgoing:      j.Outgoing,
		EnqueuedAt:    encodeTimestamp(j.EnqueuedAt),
		StartedAt:     encodeTimestamp(j.StartedAt),
		FinishedAt:    encodeTimestamp(j.FinishedAt),
		FailedAt:      encodeTimestamp(j.FailedAt),
		OutputPayload: j.OutputPayload,
		ProxyID:       j.ProxyID,
		ParentProxyID: j.ParentProxyID,
		Workflow:      j.SubWorkflow,
		Args:          j.SubArgs,
	}
	if out.Params == nil {
		out.Params = map[string]any{}
	}
	if out.Incoming == nil {
		out.Incoming = []string{}
	}
	if out.Outgoing == nil {
		out.Outgoing = []string{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes current and legacy job records. Missing lists and
// params decode as empty values; timestamps may be RFC 3339 strings or unix
// seconds. An unreadable timestamp decodes as unset and is reported by
// DecodeIssues.
func (j *Job) UnmarshalJSON(data []byte) error {
	var in jobJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}

	jobType := in.Type
	if jobType == "" {
		jobType = in.Klass
	}

	decoded := Job{
		ID:            in.ID,
		Type:          jobType,
		WorkflowID:    in.WorkflowID,
		Queue:         in.Queue,
		Params:        in.Params,
		Incoming:      in.Incoming,
		Outgoing:      in.Outgoing,
		ProxyID:       in.ProxyID,
		ParentProxyID: in.ParentProxyID,
		SubWorkflow:   in.Workflow,
		SubArgs:       in.Args,
	}
	if decoded.Params == nil {
		decoded.Params = map[string]any{}
	}
	if decoded.Incoming == nil {
		decoded.Incoming = []string{}
	}
	if decoded.Outgoing == nil {
		decoded.Outgoing = []string{}
	}
	if len(in.OutputPayload) > 0 && !bytes.Equal(in.OutputPayload, []byte("null")) {
		decoded.OutputPayload = in.OutputPayload
	}

	stamps := []struct {
		raw  json.RawMessage
		dst  **time.Time
		name string
	}{
		{in.EnqueuedAt, &decoded.EnqueuedAt, "enqueued_at"},
		{in.StartedAt, &decoded.StartedAt, "started_at"},
		{in.FinishedAt, &decoded.FinishedAt, "finished_at"},
		{in.FailedAt, &decoded.FailedAt, "failed_at"},
	}
	for _, s := range stamps {
		t, err := decodeTimestamp(s.raw)
		if err != nil {
			decoded.issues = append(decoded.issues, s.name+": "+err.Error())
			continue
		}
		*s.dst = t
	}

	*j = decoded
	return nil
}

// DecodeIssues returns the fields the last decode had to default.
func (j *Job) DecodeIssues() []string {
	return j.issues
}

func encodeTimestamp(t *time.Time) json.RawMessage {
	if t == nil {
		return nil
	}
	data, _ := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	return data
}

func decodeTimestamp(raw json.RawMessage) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return &t, nil
		}
		raw = []byte(s)
	}

	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("unrecognized timestamp %s", string(raw))
	}
	whole := int64(secs)
	t := time.Unix(whole, int64((secs-float64(whole))*float64(time.Second))).UTC()
	return &t, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
