// Package model defines the core data types shared across the submission pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a submission job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be claimed by a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress indicates a worker currently owns the job.
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusCompleted indicates every target reached a terminal state.
	// Partial target failures still complete the job; per-target results
	// carry the breakdown.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed is reserved for pipeline-internal faults (for example
	// an undecodable payload), never for per-target submission failures.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is a known state.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusInProgress ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrNoJob is returned by queue receives when no message became available
// within the poll window.
var ErrNoJob = errors.New("no job available")

// BusinessData is the immutable payload snapshot captured at job creation.
// Corrections after creation require a new job; the pipeline never mutates it.
type BusinessData struct {
	Name        string            `json:"name"`
	Address     string            `json:"address,omitempty"`
	City        string            `json:"city,omitempty"`
	State       string            `json:"state,omitempty"`
	Zip         string            `json:"zip,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	Website     string            `json:"website,omitempty"`
	Description string            `json:"description,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Validate checks the minimum shape required before a snapshot is accepted.
func (b *BusinessData) Validate() error {
	if b == nil {
		return errors.New("business data is required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("business name is required")
	}
	return nil
}

// Job represents one customer request to submit business data to a set of
// target directories.
type Job struct {
	ID              string          `json:"id"                           db:"id"`
	CustomerRef     string          `json:"customer_ref"                 db:"customer_ref"`
	BusinessData    json.RawMessage `json:"business_data"                db:"business_data"`
	Status          JobStatus       `json:"status"                       db:"status"`
	TargetsTotal    int             `json:"targets_total"                db:"targets_total"`
	TargetsDone     int             `json:"targets_done"                 db:"targets_done"`
	ClaimGeneration int64           `json:"claim_generation"             db:"claim_generation"`
	WorkerID        *string         `json:"worker_id,omitempty"          db:"worker_id"`
	LastError       *string         `json:"last_error,omitempty"         db:"last_error"`
	CreatedAt       time.Time       `json:"created_at"                   db:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"         db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"       db:"completed_at"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty"  db:"last_heartbeat_at"`
}

// CreateJobRequest carries everything needed to enqueue a new submission job.
type CreateJobRequest struct {
	CustomerRef  string        `json:"customer_ref"`
	BusinessData *BusinessData `json:"business_data"`
	TargetIDs    []string      `json:"target_ids"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.CustomerRef) == "" {
		return errors.New("customer ref is required")
	}
	if err := r.BusinessData.Validate(); err != nil {
		return err
	}
	if len(r.TargetIDs) == 0 {
		return errors.New("at least one target is required")
	}
	seen := make(map[string]struct{}, len(r.TargetIDs))
	for _, id := range r.TargetIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("target id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate target id: %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// JobStats summarizes jobs per lifecycle state.
type JobStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
