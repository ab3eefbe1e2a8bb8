package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/herd/internal/database"
	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

// DurableStore is the relational store of workflows, proxies and tracking
// notes. Proxy status is authoritative: the graph store only caches it.
type DurableStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

// NewDurableStore creates a durable store on an open connection pool. The
// store takes ownership of the pool and closes it on Close.
func NewDurableStore(pool *database.PoolManager, logger *zap.Logger) *DurableStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DurableStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "durable_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AutoMigrate creates or updates the tables. Production deployments use the
// SQL migrations in internal/migration instead.
func (s *DurableStore) AutoMigrate(ctx context.Context) error {
	if err := s.db(ctx).AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate durable store: %w", err)
	}
	return nil
}

// Ping checks if the store is healthy
func (s *DurableStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "durable store unreachable").WithCause(err)
	}
	return nil
}

// Close closes the underlying pool
func (s *DurableStore) Close() error {
	return s.pool.Close()
}

func (s *DurableStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// =============================================================================
// 🎯 Workflows
// =============================================================================

// CreateWorkflow inserts a workflow record in the pending state.
func (s *DurableStore) CreateWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if rec == nil || rec.ID == "" || rec.Name == "" {
		return types.NewError(types.ErrInvalidInput, "workflow record needs an id and a name")
	}
	if rec.Status == "" {
		rec.Status = workflow.StatePending
	}
	if rec.Arguments == nil {
		rec.Arguments = []any{}
	}
	if err := s.db(ctx).Create(rec).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return types.Errorf(types.ErrInvalidInput, "workflow %s already exists", rec.ID).WithCause(err)
		}
		return fmt.Errorf("failed to create workflow %s: %w", rec.ID, err)
	}
	return nil
}

// FindWorkflow loads one workflow record.
func (s *DurableStore) FindWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	var rec WorkflowRecord
	if err := s.db(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewWorkflowNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	return &rec, nil
}

// FindChildWorkflow loads the nested workflow created for a job of the
// parent workflow.
func (s *DurableStore) FindChildWorkflow(ctx context.Context, parentID, jobName string) (*WorkflowRecord, error) {
	var rec WorkflowRecord
	err := s.db(ctx).
		Where("parent_workflow_id = ? AND parent_job_name = ?", parentID, jobName).
		Order("created_at ASC").
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrWorkflowNotFound, "no child workflow for %s in %s", jobName, parentID)
		}
		return nil, fmt.Errorf("failed to load child workflow of %s: %w", jobName, err)
	}
	return &rec, nil
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Name   string
	Status workflow.State
	Limit  int
}

// ListWorkflows returns workflow records, newest first.
func (s *DurableStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]WorkflowRecord, error) {
	q := s.db(ctx).Model(&WorkflowRecord{})
	if filter.Name != "" {
		q = q.Where("name = ?", filter.Name)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []WorkflowRecord
	if err := q.Order("created_at DESC").Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return recs, nil
}

// MarkWorkflowStarted moves the workflow to running. A completed workflow
// cannot be started again.
func (s *DurableStore) MarkWorkflowStarted(ctx context.Context, id string) (*WorkflowRecord, error) {
	var out WorkflowRecord
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewWorkflowNotFoundError(id)
			}
			return err
		}
		if out.Status == workflow.StateCompleted {
			return types.Errorf(types.ErrInvalidState, "workflow %s already completed", id)
		}

		now := s.now()
		if err := tx.Model(&out).Updates(map[string]any{
			"status":      string(workflow.StateRunning),
			"stopped":     false,
			"started_at":  now,
			"finished_at": nil,
		}).Error; err != nil {
			return err
		}
		out.Status, out.Stopped, out.StartedAt, out.FinishedAt = workflow.StateRunning, false, &now, nil
		return s.addNote(tx, WorkflowTrackable(id), LevelInfo, "Workflow started", nil)
	})
	if err != nil {
		return nil, wrapTx("start workflow "+id, err)
	}
	return &out, nil
}

// MarkWorkflowStopped flags the workflow as stopped. Jobs already running
// are not interrupted; their sweeps stop enqueueing successors.
func (s *DurableStore) MarkWorkflowStopped(ctx context.Context, id string) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&WorkflowRecord{}).Where("id = ?", id).Updates(map[string]any{
			"status":      string(workflow.StateStopped),
			"stopped":     true,
			"finished_at": s.now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewWorkflowNotFoundError(id)
		}
		return s.addNote(tx, WorkflowTrackable(id), LevelWarning, "Workflow stopped", nil)
	})
	return wrapTx("stop workflow "+id, err)
}

// MarkWorkflowFinished records success once. It reports whether this call
// performed the transition.
func (s *DurableStore) MarkWorkflowFinished(ctx context.Context, id string) (bool, error) {
	return s.finishWorkflow(ctx, id, workflow.StateCompleted, LevelInfo, "Workflow finished successfully")
}

// MarkWorkflowFailed records failure once. It reports whether this call
// performed the transition.
func (s *DurableStore) MarkWorkflowFailed(ctx context.Context, id string) (bool, error) {
	return s.finishWorkflow(ctx, id, workflow.StateFailed, LevelError, "Workflow failed")
}

// finishWorkflow is a conditional update: only the caller that moves the row
// out of a non-terminal state writes the note.
func (s *DurableStore) finishWorkflow(ctx context.Context, id string, to workflow.State, level, note string) (bool, error) {
	var changed bool
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		terminal := []string{string(workflow.StateCompleted), string(workflow.StateFailed)}
		res := tx.Model(&WorkflowRecord{}).
			Where("id = ? AND status NOT IN ?", id, terminal).
			Updates(map[string]any{"status": string(to), "finished_at": s.now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			var count int64
			if err := tx.Model(&WorkflowRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return types.NewWorkflowNotFoundError(id)
			}
			return nil
		}
		changed = true
		return s.addNote(tx, WorkflowTrackable(id), level, note, nil)
	})
	if err != nil {
		return false, wrapTx(fmt.Sprintf("mark workflow %s %s", id, to), err)
	}
	if changed {
		s.logger.Info("workflow transitioned", zap.String("workflow_id", id), zap.String("status", string(to)))
	}
	return changed, nil
}

// DeleteWorkflow removes the workflow, its proxies and every note attached
// to either, in one transaction.
func (s *DurableStore) DeleteWorkflow(ctx context.Context, id string) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var proxyIDs []uint
		if err := tx.Model(&ProxyRecord{}).Where("workflow_id = ?", id).Pluck("id", &proxyIDs).Error; err != nil {
			return err
		}
		if len(proxyIDs) > 0 {
			ids := make([]string, len(proxyIDs))
			for i, pid := range proxyIDs {
				ids[i] = uintToString(pid)
			}
			if err := tx.Where("trackable_type = ? AND trackable_id IN ?", TrackableProxy, ids).
				Delete(&TrackingRecord{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("trackable_type = ? AND trackable_id = ?", TrackableWorkflow, id).
			Delete(&TrackingRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("workflow_id = ?", id).Delete(&ProxyRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&WorkflowRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewWorkflowNotFoundError(id)
		}
		return nil
	})
	return wrapTx("delete workflow "+id, err)
}

// =============================================================================
// 🎯 Proxies
// =============================================================================

// ProxySpec identifies the proxy of one job.
type ProxySpec struct {
	WorkflowID string
	JobName    string
	JobType    string
	JobID      string
	ParentID   *uint
}

// FindOrCreateProxy returns the proxy of a job, creating it in the
// partitioned state the first time. Concurrent creators converge on one row
// through the (workflow_id, job_name) unique index.
func (s *DurableStore) FindOrCreateProxy(ctx context.Context, spec ProxySpec) (*ProxyRecord, error) {
	if spec.WorkflowID == "" || spec.JobName == "" {
		return nil, types.NewError(types.ErrInvalidInput, "proxy needs a workflow id and a job name")
	}

	rec, err := s.FindProxyByJob(ctx, spec.WorkflowID, spec.JobName)
	if err == nil {
		return rec, nil
	}
	if !types.IsCode(err, types.ErrJobNotFound) {
		return nil, err
	}

	rec = &ProxyRecord{
		WorkflowID: spec.WorkflowID,
		JobName:    spec.JobName,
		JobType:    spec.JobType,
		JobID:      spec.JobID,
		ParentID:   spec.ParentID,
		Status:     workflow.ProxyPartitioned,
		Metadata:   map[string]any{},
	}
	if err := s.db(ctx).Create(rec).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return s.FindProxyByJob(ctx, spec.WorkflowID, spec.JobName)
		}
		return nil, fmt.Errorf("failed to create proxy for %s: %w", spec.JobName, err)
	}
	return rec, nil
}

// FindProxy loads a proxy by id.
func (s *DurableStore) FindProxy(ctx context.Context, id uint) (*ProxyRecord, error) {
	var rec ProxyRecord
	if err := s.db(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrJobNotFound, "proxy %d not found", id)
		}
		return nil, fmt.Errorf("failed to load proxy %d: %w", id, err)
	}
	return &rec, nil
}

// FindProxyByJob loads the proxy of a job.
func (s *DurableStore) FindProxyByJob(ctx context.Context, workflowID, jobName string) (*ProxyRecord, error) {
	var rec ProxyRecord
	err := s.db(ctx).Where("workflow_id = ? AND job_name = ?", workflowID, jobName).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewJobNotFoundError(workflowID, jobName)
		}
		return nil, fmt.Errorf("failed to load proxy of %s: %w", jobName, err)
	}
	return &rec, nil
}

// ListProxies returns every proxy of a workflow ordered by job name.
func (s *DurableStore) ListProxies(ctx context.Context, workflowID string) ([]ProxyRecord, error) {
	var recs []ProxyRecord
	if err := s.db(ctx).Where("workflow_id = ?", workflowID).Order("job_name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list proxies of %s: %w", workflowID, err)
	}
	return recs, nil
}

// ProxyStatuses maps job name to proxy status for a workflow. Jobs that
// never transitioned are absent.
func (s *DurableStore) ProxyStatuses(ctx context.Context, workflowID string) (map[string]workflow.ProxyStatus, error) {
	var rows []struct {
		JobName string
		Status  workflow.ProxyStatus
	}
	err := s.db(ctx).Model(&ProxyRecord{}).
		Select("job_name", "status").
		Where("workflow_id = ?", workflowID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy statuses of %s: %w", workflowID, err)
	}

	out := make(map[string]workflow.ProxyStatus, len(rows))
	for _, r := range rows {
		out[r.JobName] = r.Status
	}
	return out, nil
}

var proxyNotes = map[workflow.ProxyStatus]struct {
	level   string
	message string
}{
	workflow.ProxyPartitioned: {LevelInfo, "Job partitioned"},
	workflow.ProxyInProcess:   {LevelInfo, "Job started processing"},
	workflow.ProxyDone:        {LevelInfo, "Job completed"},
	workflow.ProxyCompleted:   {LevelInfo, "Job fully completed"},
	workflow.ProxyErrored:     {LevelError, "Job encountered an error"},
}

// TransitionProxy moves a proxy to a new status and appends the matching
// note, carrying metadata, in the same transaction. The update is guarded
// by lock_version; a lost race returns CONCURRENT_MODIFICATION and the
// caller retries.
func (s *DurableStore) TransitionProxy(ctx context.Context, id uint, to workflow.ProxyStatus, metadata map[string]any) (*ProxyRecord, error) {
	note, ok := proxyNotes[to]
	if !ok {
		return nil, types.Errorf(types.ErrInvalidInput, "unknown proxy status %q", to)
	}

	var out ProxyRecord
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.Errorf(types.ErrJobNotFound, "proxy %d not found", id)
			}
			return err
		}

		now := s.now()
		updates := map[string]any{
			"status":       string(to),
			"lock_version": out.LockVersion + 1,
			"updated_at":   now,
		}
		switch to {
		case workflow.ProxyPartitioned:
			updates["started_at"] = nil
			updates["finished_at"] = nil
		case workflow.ProxyInProcess:
			updates["started_at"] = now
			updates["finished_at"] = nil
		case workflow.ProxyCompleted, workflow.ProxyErrored:
			updates["finished_at"] = now
		}

		res := tx.Model(&ProxyRecord{}).
			Where("id = ? AND lock_version = ?", id, out.LockVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewConcurrentModificationError(fmt.Sprintf("proxy %d", id), nil)
		}

		out.Status = to
		out.LockVersion++
		out.UpdatedAt = now
		switch to {
		case workflow.ProxyPartitioned:
			out.StartedAt, out.FinishedAt = nil, nil
		case workflow.ProxyInProcess:
			out.StartedAt, out.FinishedAt = &now, nil
		case workflow.ProxyCompleted, workflow.ProxyErrored:
			out.FinishedAt = &now
		}
		meta := map[string]any{"job": out.JobName, "workflow_id": out.WorkflowID}
		for k, v := range metadata {
			meta[k] = v
		}
		return s.addNote(tx, ProxyTrackable(id), note.level, note.message, meta)
	})
	if err != nil {
		return nil, wrapTx(fmt.Sprintf("transition proxy %d to %s", id, to), err)
	}
	return &out, nil
}

// =============================================================================
// 🎯 Notes
// =============================================================================

// AddNote appends a tracking note.
func (s *DurableStore) AddNote(ctx context.Context, owner Trackable, level, message string, metadata map[string]any) (*TrackingRecord, error) {
	if err := validateNote(owner, level, message); err != nil {
		return nil, err
	}
	rec := newNote(owner, level, message, metadata, s.now())
	if err := s.db(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to add note: %w", err)
	}
	return rec, nil
}

// Notes returns the notes of an owner, most recent first. An empty level
// returns every level.
func (s *DurableStore) Notes(ctx context.Context, owner Trackable, level string) ([]TrackingRecord, error) {
	if level != "" && !validLevel(level) {
		return nil, types.Errorf(types.ErrInvalidInput, "unknown note level %q", level)
	}
	q := s.db(ctx).Where("trackable_type = ? AND trackable_id = ?", owner.Type, owner.ID)
	if level != "" {
		q = q.Where("level = ?", level)
	}

	var recs []TrackingRecord
	if err := q.Order("created_at DESC").Order("id DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	return recs, nil
}

func (s *DurableStore) addNote(tx *gorm.DB, owner Trackable, level, message string, metadata map[string]any) error {
	if err := validateNote(owner, level, message); err != nil {
		return err
	}
	return tx.Create(newNote(owner, level, message, metadata, s.now())).Error
}

func newNote(owner Trackable, level, message string, metadata map[string]any, now time.Time) *TrackingRecord {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &TrackingRecord{
		TrackableType: owner.Type,
		TrackableID:   owner.ID,
		Level:         level,
		Message:       message,
		Metadata:      metadata,
		CreatedAt:     now,
	}
}

func validateNote(owner Trackable, level, message string) error {
	if owner.Type != TrackableWorkflow && owner.Type != TrackableProxy {
		return types.Errorf(types.ErrInvalidInput, "unknown trackable type %q", owner.Type)
	}
	if owner.ID == "" {
		return types.NewError(types.ErrInvalidInput, "note owner id is required")
	}
	if !validLevel(level) {
		return types.Errorf(types.ErrInvalidInput, "unknown note level %q", level)
	}
	if strings.TrimSpace(message) == "" {
		return types.NewError(types.ErrInvalidInput, "note message is required")
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// wrapTx keeps coded errors intact and wraps driver errors.
func wrapTx(what string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, database.ErrPoolClosed) {
		return types.NewError(types.ErrStoreUnavailable, "durable store is closed").WithCause(err)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}
