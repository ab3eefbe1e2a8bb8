// Package persistence holds the two storage tiers of herd.
//
// The graph store is ephemeral and fast: one Redis hash per workflow and job
// type mapping job ids to serialized jobs, plus a top-level workflow
// snapshot. It can expire and be rebuilt.
//
// The durable store is relational (gorm): workflow records, one proxy row
// per job carrying the authoritative job status, and append-only tracking
// notes. Whenever the two disagree about whether a job finished, the durable
// store wins.
//
// Supported graph store backends:
// - Memory: for development and testing
// - Redis: for distributed deployments
package persistence

import (
	"context"
	"time"
)

// StoreType represents the type of graph store backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Store is the base interface for all stores
type Store interface {
	// Close releases resources owned by the store
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// StoreConfig configures the graph store
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Namespace prefixes every key, e.g. "herd" gives "herd.jobs.<wf>.<type>"
	Namespace string `json:"namespace" yaml:"namespace"`

	// TTL is the default expiry used by ExpireWorkflow when none is given
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultStoreConfig returns the default graph store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeRedis,
		Namespace: "herd",
		TTL:       23*time.Hour + 30*time.Minute,
	}
}

func (c StoreConfig) namespace() string {
	if c.Namespace == "" {
		return "herd"
	}
	return c.Namespace
}

// jobsKey is the hash holding every job of one type in one workflow.
func jobsKey(ns, workflowID, jobType string) string {
	return ns + ".jobs." + workflowID + "." + jobType
}

// jobsPattern matches every job hash of one workflow.
func jobsPattern(ns, workflowID string) string {
	return ns + ".jobs." + workflowID + ".*"
}

// workflowKey holds the top-level workflow snapshot.
func workflowKey(ns, workflowID string) string {
	return ns + ".workflow." + workflowID
}
