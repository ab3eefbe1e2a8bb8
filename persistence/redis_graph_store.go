package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

// RedisGraphStore is the Redis implementation of GraphStore.
// Jobs live in hashes keyed "<ns>.jobs.<workflow>.<type>" (field = job id),
// the snapshot under "<ns>.workflow.<workflow>".
type RedisGraphStore struct {
	client redis.UniversalClient
	config StoreConfig
	ns     string
	logger *zap.Logger
}

// NewRedisGraphStore creates a graph store on a shared Redis client. The
// client stays owned by the caller.
func NewRedisGraphStore(client redis.UniversalClient, config StoreConfig, logger *zap.Logger) *RedisGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGraphStore{
		client: client,
		config: config,
		ns:     config.namespace(),
		logger: logger.With(zap.String("component", "graph_store")),
	}
}

// Close is a no-op; the Redis client belongs to the caller.
func (s *RedisGraphStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *RedisGraphStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveJob persists a job to the store
func (s *RedisGraphStore) SaveJob(ctx context.Context, workflowID string, job *workflow.Job) error {
	if job == nil || job.Type == "" || job.ID == "" {
		return types.NewError(types.ErrInvalidInput, "job needs a type and an id")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.Name(), err)
	}
	if err := s.client.HSet(ctx, jobsKey(s.ns, workflowID, job.Type), job.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.Name(), err)
	}
	return nil
}

// SaveJobs persists several jobs with one pipeline
func (s *RedisGraphStore) SaveJobs(ctx context.Context, workflowID string, jobs []*workflow.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.Name(), err)
		}
		pipe.HSet(ctx, jobsKey(s.ns, workflowID, job.Type), job.ID, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save jobs of workflow %s: %w", workflowID, err)
	}
	return nil
}

// LoadJob reads one job by type and id
func (s *RedisGraphStore) LoadJob(ctx context.Context, workflowID, jobType, jobID string) (*workflow.Job, error) {
	data, err := s.client.HGet(ctx, jobsKey(s.ns, workflowID, jobType), jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.NewJobNotFoundError(workflowID, workflow.JobName(jobType, jobID))
		}
		return nil, fmt.Errorf("failed to load job %s: %w", workflow.JobName(jobType, jobID), err)
	}
	return decodeJob(data, s.logger)
}

// FirstJob reads one job of the given type via a single HSCAN step
func (s *RedisGraphStore) FirstJob(ctx context.Context, workflowID, jobType string) (*workflow.Job, error) {
	key := jobsKey(s.ns, workflowID, jobType)

	var cursor uint64
	for {
		kv, next, err := s.client.HScan(ctx, key, cursor, "*", 1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan jobs of type %s: %w", jobType, err)
		}
		// HSCAN returns field, value pairs
		if len(kv) >= 2 {
			return decodeJob([]byte(kv[1]), s.logger)
		}
		if next == 0 {
			return nil, types.NewJobNotFoundError(workflowID, jobType)
		}
		cursor = next
	}
}

// LoadJobs reads every job of a workflow
func (s *RedisGraphStore) LoadJobs(ctx context.Context, workflowID string) ([]*workflow.Job, error) {
	keys, err := s.jobKeys(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*workflow.Job{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HVals(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load jobs of workflow %s: %w", workflowID, err)
	}

	jobs := make([]*workflow.Job, 0, len(keys))
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			job, err := decodeJob([]byte(raw), s.logger)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

// JobExists reports whether a job id is taken
func (s *RedisGraphStore) JobExists(ctx context.Context, workflowID, jobType, jobID string) (bool, error) {
	ok, err := s.client.HExists(ctx, jobsKey(s.ns, workflowID, jobType), jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job id: %w", err)
	}
	return ok, nil
}

// SaveSummary writes the workflow snapshot
func (s *RedisGraphStore) SaveSummary(ctx context.Context, summary workflow.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", summary.ID, err)
	}
	// KeepTTL preserves an expiry set by ExpireWorkflow
	if err := s.client.SetArgs(ctx, workflowKey(s.ns, summary.ID), data, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", summary.ID, err)
	}
	return nil
}

// WorkflowExists reports whether a workflow id is taken
func (s *RedisGraphStore) WorkflowExists(ctx context.Context, workflowID string) (bool, error) {
	n, err := s.client.Exists(ctx, workflowKey(s.ns, workflowID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check workflow id: %w", err)
	}
	return n > 0, nil
}

// DeleteWorkflow removes the snapshot and all job hashes
func (s *RedisGraphStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	keys, err := s.jobKeys(ctx, workflowID)
	if err != nil {
		return err
	}
	keys = append(keys, workflowKey(s.ns, workflowID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}
	s.logger.Debug("workflow graph deleted", zap.String("workflow_id", workflowID), zap.Int("keys", len(keys)))
	return nil
}

// ExpireWorkflow sets a TTL on every key of the workflow
func (s *RedisGraphStore) ExpireWorkflow(ctx context.Context, workflowID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.TTL
	}
	keys, err := s.jobKeys(ctx, workflowID)
	if err != nil {
		return err
	}
	keys = append(keys, workflowKey(s.ns, workflowID))

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to expire workflow %s: %w", workflowID, err)
	}
	return nil
}

func (s *RedisGraphStore) jobKeys(ctx context.Context, workflowID string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, jobsPattern(s.ns, workflowID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs of workflow %s: %w", workflowID, err)
	}
	return keys, nil
}

// decodeJob unmarshals a stored job. Defaulted fields are logged when a
// logger is given.
func decodeJob(data []byte, logger *zap.Logger) (*workflow.Job, error) {
	var job workflow.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if issues := job.DecodeIssues(); len(issues) > 0 && logger != nil {
		logger.Warn("job decoded with defaulted fields",
			zap.String("workflow_id", job.WorkflowID),
			zap.String("job", job.Name()),
			zap.Strings("issues", issues),
		)
	}
	return &job, nil
}
