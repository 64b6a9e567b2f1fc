// Package jobs holds scan jobs and enforces their lifecycle state machine.
//
// The Store owns the rules (transitions, expiry, persist-once). Storage is a
// Backend: a versioned key/value map with compare-and-set, so the same rules run
// unchanged on process memory, SQL or Redis.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/menu-safety/internal/entity"
)

// ErrRecordNotFound is returned by a Backend when the key is absent.
var ErrRecordNotFound = errors.New("job record not found")

// Record is what a Backend stores under a job id.
type Record struct {
	Version uint64         `json:"version"`
	Job     entity.ScanJob `json:"job"`
}

// Backend is versioned key/value storage for job records.
type Backend interface {
	// Get returns the record under key or ErrRecordNotFound.
	Get(ctx context.Context, key string) (Record, error)
	// Set writes rec unconditionally. ttl <= 0 means no storage expiry.
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// CompareAndSet replaces the record only if its version equals
	// expectedVersion. The stored version becomes expectedVersion+1 (rec.Version
	// is ignored) and any storage expiry is kept. A version mismatch returns
	// false with a nil error; an absent key returns ErrRecordNotFound.
	CompareAndSet(ctx context.Context, key string, expectedVersion uint64, rec Record) (bool, error)
	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
}
