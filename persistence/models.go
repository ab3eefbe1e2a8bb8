package persistence

import (
	"strconv"
	"time"

	"github.com/BaSui01/herd/workflow"
)

// Note levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Trackable types
const (
	TrackableWorkflow = "workflow"
	TrackableProxy    = "proxy"
)

// WorkflowRecord is the durable row of a workflow.
type WorkflowRecord struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Name      string         `gorm:"size:255;not null;index"`
	Arguments []any          `gorm:"type:text;serializer:json"`
	Status    workflow.State `gorm:"size:16;not null;default:'pending';index"`
	Stopped   bool           `gorm:"not null;default:false"`

	ParentWorkflowID *string `gorm:"size:36;index"`
	ParentJobName    string  `gorm:"size:255"`
	ParentProxyID    *uint

	StartedAt  *time.Time `gorm:"index"`
	FinishedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName returns the table name
func (WorkflowRecord) TableName() string {
	return "workflows"
}

// Duration returns how long the workflow ran, or has been running.
func (r *WorkflowRecord) Duration(now time.Time) time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	return end.Sub(*r.StartedAt)
}

// ProxyRecord is the durable, authoritative status of one job.
type ProxyRecord struct {
	ID         uint                 `gorm:"primaryKey"`
	WorkflowID string               `gorm:"size:36;not null;uniqueIndex:idx_proxies_workflow_job"`
	ParentID   *uint                `gorm:"index"`
	JobName    string               `gorm:"size:255;not null;uniqueIndex:idx_proxies_workflow_job"`
	JobType    string               `gorm:"size:255;not null"`
	JobID      string               `gorm:"size:64;not null;index"`
	Status     workflow.ProxyStatus `gorm:"size:16;not null;default:'partitioned';index"`
	Metadata   map[string]any       `gorm:"type:text;serializer:json"`

	StartedAt   *time.Time
	FinishedAt  *time.Time
	LockVersion int `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Workflow *WorkflowRecord `gorm:"foreignKey:WorkflowID;constraint:OnDelete:CASCADE" json:"-"`
	Parent   *ProxyRecord    `gorm:"foreignKey:ParentID;constraint:OnDelete:SET NULL" json:"-"`
}

// TableName returns the table name
func (ProxyRecord) TableName() string {
	return "proxies"
}

// TrackingRecord is an append-only note attached to a workflow or proxy.
type TrackingRecord struct {
	ID            uint           `gorm:"primaryKey"`
	TrackableType string         `gorm:"size:32;not null;index:idx_trackings_trackable"`
	TrackableID   string         `gorm:"size:64;not null;index:idx_trackings_trackable"`
	Level         string         `gorm:"size:16;not null;default:'info';index"`
	Message       string         `gorm:"type:text;not null"`
	Metadata      map[string]any `gorm:"type:text;serializer:json"`
	CreatedAt     time.Time      `gorm:"index"`
}

// TableName returns the table name
func (TrackingRecord) TableName() string {
	return "trackings"
}

// Trackable identifies the owner of tracking notes.
type Trackable struct {
	Type string
	ID   string
}

// WorkflowTrackable returns the note owner for a workflow.
func WorkflowTrackable(id string) Trackable {
	return Trackable{Type: TrackableWorkflow, ID: id}
}

// ProxyTrackable returns the note owner for a proxy.
func ProxyTrackable(id uint) Trackable {
	return Trackable{Type: TrackableProxy, ID: uintToString(id)}
}

func uintToString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{&WorkflowRecord{}, &ProxyRecord{}, &TrackingRecord{}}
}
