package model

import "time"

// WorkerHeartbeat tracks liveness of one worker process. A worker writes
// only its own row; the stale-job monitor reads all rows.
type WorkerHeartbeat struct {
	WorkerID   string     `json:"worker_id"          db:"worker_id"`
	JobID      *string    `json:"job_id,omitempty"   db:"job_id"`
	LastSeenAt time.Time  `json:"last_seen_at"       db:"last_seen_at"`
}
