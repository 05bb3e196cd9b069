package ledger

import (
	"context"
	"fmt"
	"time"
)

// Triggers describe who caused a transition.
const (
	TriggerAutomatic = "automatic"
	TriggerOperator  = "operator"
)

// Transition is one recorded phase change of an experiment variant.
type Transition struct {
	ID           string    `json:"id" yaml:"id"`
	ExperimentID string    `json:"experiment_id" yaml:"experiment_id"`
	Domain       string    `json:"domain" yaml:"domain"`
	Variant      string    `json:"variant" yaml:"variant"`
	From         string    `json:"from" yaml:"from"`
	To           string    `json:"to" yaml:"to"`
	Trigger      string    `json:"trigger" yaml:"trigger"`
	Reason       string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Samples      int64     `json:"samples" yaml:"samples"`
	Mean         float64   `json:"mean" yaml:"mean"`
	BaselineMean float64   `json:"baseline_mean" yaml:"baseline_mean"`
	Improvement  float64   `json:"improvement" yaml:"improvement"`
	ZScore       float64   `json:"z_score" yaml:"z_score"`
	PValue       float64   `json:"p_value" yaml:"p_value"`
	RecordedAt   time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Query filters transitions. Zero fields match everything. Results are
// ordered newest first.
type Query struct {
	Domain       string
	Variant      string
	ExperimentID string
	Since        *time.Time
	Limit        int
	Offset       int
}

func (q *Query) matches(t *Transition) bool {
	if q == nil {
		return true
	}
	if q.Domain != "" && t.Domain != q.Domain {
		return false
	}
	if q.Variant != "" && t.Variant != q.Variant {
		return false
	}
	if q.ExperimentID != "" && t.ExperimentID != q.ExperimentID {
		return false
	}
	if q.Since != nil && t.RecordedAt.Before(*q.Since) {
		return false
	}
	return true
}

// Storage persists transitions.
type Storage interface {
	// Store persists a transition.
	Store(ctx context.Context, t *Transition) error

	// Query retrieves transitions matching the filters.
	// Returns an empty slice if none match.
	Query(ctx context.Context, q *Query) ([]*Transition, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
