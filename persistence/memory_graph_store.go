package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/herd/types"
	"github.com/BaSui01/herd/workflow"
)

// MemoryGraphStore is an in-memory GraphStore. Jobs are stored serialized so
// callers never share pointers with the store, exactly like the Redis
// backend. Expiry is recorded but only enforced on read.
type MemoryGraphStore struct {
	mu        sync.RWMutex
	jobs      map[string]map[string][]byte // hash key -> job id -> json
	summaries map[string][]byte
	expiry    map[string]time.Time
	config    StoreConfig
	ns        string
	now       func() time.Time
	closed    bool
}

// NewMemoryGraphStore creates a new in-memory graph store
func NewMemoryGraphStore(config StoreConfig) *MemoryGraphStore {
	return &MemoryGraphStore{
		jobs:      make(map[string]map[string][]byte),
		summaries: make(map[string][]byte),
		expiry:    make(map[string]time.Time),
		config:    config,
		ns:        config.namespace(),
		now:       time.Now,
	}
}

// Close closes the store
func (s *MemoryGraphStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryGraphStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.NewError(types.ErrStoreUnavailable, "graph store is closed")
	}
	return nil
}

// SaveJob persists a job
func (s *MemoryGraphStore) SaveJob(ctx context.Context, workflowID string, job *workflow.Job) error {
	return s.SaveJobs(ctx, workflowID, []*workflow.Job{job})
}

// SaveJobs persists several jobs
func (s *MemoryGraphStore) SaveJobs(_ context.Context, workflowID string, jobs []*workflow.Job) error {
	encoded := make(map[string][]byte, len(jobs))
	keys := make(map[string]string, len(jobs))
	for _, job := range jobs {
		if job == nil || job.Type == "" || job.ID == "" {
			return types.NewError(types.ErrInvalidInput, "job needs a type and an id")
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.Name(), err)
		}
		encoded[job.Name()] = data
		keys[job.Name()] = jobsKey(s.ns, workflowID, job.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreUnavailable, "graph store is closed")
	}

	for _, job := range jobs {
		key := keys[job.Name()]
		s.expireLocked(key)
		hash, ok := s.jobs[key]
		if !ok {
			hash = make(map[string][]byte)
			s.jobs[key] = hash
		}
		hash[job.ID] = encoded[job.Name()]
	}
	return nil
}

// LoadJob reads one job
func (s *MemoryGraphStore) LoadJob(_ context.Context, workflowID, jobType, jobID string) (*workflow.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobsKey(s.ns, workflowID, jobType)
	s.expireLocked(key)
	data, ok := s.jobs[key][jobID]
	if !ok {
		return nil, types.NewJobNotFoundError(workflowID, workflow.JobName(jobType, jobID))
	}
	return decodeJob(data, nil)
}

// FirstJob reads the job of the given type with the smallest id
func (s *MemoryGraphStore) FirstJob(_ context.Context, workflowID, jobType string) (*workflow.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobsKey(s.ns, workflowID, jobType)
	s.expireLocked(key)
	hash := s.jobs[key]
	if len(hash) == 0 {
		return nil, types.NewJobNotFoundError(workflowID, jobType)
	}
	ids := make([]string, 0, len(hash))
	for id := range hash {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return decodeJob(hash[ids[0]], nil)
}

// LoadJobs reads every job of a workflow
func (s *MemoryGraphStore) LoadJobs(_ context.Context, workflowID string) ([]*workflow.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := jobsKey(s.ns, workflowID, "")
	jobs := []*workflow.Job{}
	for key, hash := range s.jobs {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if s.expireLocked(key) {
			continue
		}
		for _, data := range hash {
			job, err := decodeJob(data, nil)
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
func (s *MemoryGraphStore) JobExists(_ context.Context, workflowID, jobType, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobsKey(s.ns, workflowID, jobType)
	s.expireLocked(key)
	_, ok := s.jobs[key][jobID]
	return ok, nil
}

// SaveSummary writes the workflow snapshot
func (s *MemoryGraphStore) SaveSummary(_ context.Context, summary workflow.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", summary.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := workflowKey(s.ns, summary.ID)
	s.expireLocked(key)
	s.summaries[key] = data
	return nil
}

// WorkflowExists reports whether a workflow id is taken
func (s *MemoryGraphStore) WorkflowExists(_ context.Context, workflowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := workflowKey(s.ns, workflowID)
	s.expireLocked(key)
	_, ok := s.summaries[key]
	return ok, nil
}

// DeleteWorkflow removes the snapshot and all job hashes
func (s *MemoryGraphStore) DeleteWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := jobsKey(s.ns, workflowID, "")
	for key := range s.jobs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.jobs, key)
			delete(s.expiry, key)
		}
	}
	key := workflowKey(s.ns, workflowID)
	delete(s.summaries, key)
	delete(s.expiry, key)
	return nil
}

// ExpireWorkflow sets a TTL on every key of the workflow
func (s *MemoryGraphStore) ExpireWorkflow(_ context.Context, workflowID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.TTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(ttl)
	prefix := jobsKey(s.ns, workflowID, "")
	for key := range s.jobs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			s.expiry[key] = deadline
		}
	}
	if _, ok := s.summaries[workflowKey(s.ns, workflowID)]; ok {
		s.expiry[workflowKey(s.ns, workflowID)] = deadline
	}
	return nil
}

// expireLocked drops key if its deadline passed and reports whether it did.
func (s *MemoryGraphStore) expireLocked(key string) bool {
	deadline, ok := s.expiry[key]
	if !ok || s.now().Before(deadline) {
		return false
	}
	delete(s.jobs, key)
	delete(s.summaries, key)
	delete(s.expiry, key)
	return true
}
