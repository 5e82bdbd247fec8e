package storage

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Product is a tracked product page.
type Product struct {
	ID            int64
	URL           string
	Name          string
	ImageURL      string
	Active        bool
	LastSuccessAt *time.Time
	LastFailedAt  *time.Time
	CreatedAt     time.Time
}

// PriceObservation is one recorded price sample. Rows are append-only.
type PriceObservation struct {
	ID         int64
	ProductID  int64
	PriceMinor int64
	Currency   string
	Tier       int
	CapturedAt time.Time
}

// JobKind enumerates queue message kinds.
type JobKind string

const (
	JobKindCheck  JobKind = "check"
	JobKindDigest JobKind = "digest"
)

// JobStatus enumerates job lifecycle states. done and failed are terminal.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Job is one durable queue message.
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	Payload     json.RawMessage
	RunID       *uuid.UUID
	Status      JobStatus
	Attempts    int
	Error       *string
	LockedUntil *time.Time
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// CheckPayload is the payload of a single-product check request.
type CheckPayload struct {
	ProductID *int64 `json:"product_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

// DigestPayload is the payload of a digest request.
type DigestPayload struct {
	TriggeredBy string `json:"triggered_by"`
}

// DigestRunStatus enumerates digest run states.
type DigestRunStatus string

const (
	RunPending          DigestRunStatus = "pending"
	RunFanningOut       DigestRunStatus = "fanning_out"
	RunAwaitingChildren DigestRunStatus = "awaiting_children"
	RunAggregating      DigestRunStatus = "aggregating"
	RunReporting        DigestRunStatus = "reporting"
	RunDone             DigestRunStatus = "done"
	RunFailed           DigestRunStatus = "failed"
)

// DigestRun records one digest orchestration, fan-in being re-derivable from
// the child job rows tagged with its id.
type DigestRun struct {
	ID             uuid.UUID
	Status         DigestRunStatus
	TriggeredBy    string
	ChildrenTotal  int
	ChildrenFailed int
	StartedAt      time.Time
	FinishedAt     *time.Time
	Error          *string
}
