package entity

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/constants"
)

// ScanJob is one scan request's lifecycle as held by the job store.
// Values handed out by the store are snapshots; mutating one has no effect on the store.
type ScanJob struct {
	ID            uuid.UUID           `json:"id"`
	Status        constants.JobStatus `json:"status"`
	PartialResult json.RawMessage     `json:"partial_result,omitempty"`
	FinalResult   json.RawMessage     `json:"final_result,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
	PartialAt     *time.Time          `json:"partial_at,omitempty"`
	FinalAt       *time.Time          `json:"final_at,omitempty"`
	Persisted     bool                `json:"persisted"`
}

// Clone returns a deep copy so result payloads are never shared between snapshots.
func (j ScanJob) Clone() ScanJob {
	out := j
	out.PartialResult = bytes.Clone(j.PartialResult)
	out.FinalResult = bytes.Clone(j.FinalResult)
	if j.PartialAt != nil {
		t := *j.PartialAt
		out.PartialAt = &t
	}
	if j.FinalAt != nil {
		t := *j.FinalAt
		out.FinalAt = &t
	}
	return out
}

// Expired reports whether the job is past its TTL at now.
func (j ScanJob) Expired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}
