package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/constants"
	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/entity"
)

const (
	DefaultTTL            = 10 * time.Minute
	DefaultTombstoneGrace = 30 * time.Minute
	defaultMaxRetries     = 8
	maxIDAttempts         = 5
)

// errAlreadyPersisted short-circuits MarkPersisted without touching the record.
var errAlreadyPersisted = errors.New("already persisted")

// Store applies the job state machine on top of a Backend.
//
// Every transition is read, check, compare-and-set, retried a bounded number of
// times on version conflict. Rejected transitions leave the record untouched.
type Store struct {
	backend    Backend
	logger     *slog.Logger
	now        func() time.Time
	newID      func() uuid.UUID
	ttl        time.Duration
	grace      time.Duration
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTL sets how long a job may stay non-terminal.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithTombstoneGrace sets how long a record outlives its TTL before purge.
func WithTombstoneGrace(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator overrides uuid.New.
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithMaxRetries bounds compare-and-set retries per operation.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStore returns a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.New,
		ttl:        DefaultTTL,
		grace:      DefaultTombstoneGrace,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured job TTL.
func (s *Store) TTL() time.Duration { return s.ttl }

// CreateJob stores a new PENDING job. Ids still held by the backend, live or
// tombstoned, are never handed out again.
func (s *Store) CreateJob(ctx context.Context) (uuid.UUID, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		key := id.String()

		_, err := s.backend.Get(ctx, key)
		if err == nil {
			s.logger.Warn("jobs.create.id_collision", "job_id", key, "attempt", attempt+1)
			continue
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return uuid.Nil, storageError("create", err)
		}

		now := s.now()
		job := entity.ScanJob{
			ID:        id,
			Status:    constants.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		if err := s.backend.Set(ctx, key, Record{Version: 1, Job: job}, s.ttl+s.grace); err != nil {
			return uuid.Nil, storageError("create", err)
		}
		s.logger.Debug("jobs.create", "job_id", key, "expires_at", job.ExpiresAt)
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("create job: no free id after %d attempts: %w", maxIDAttempts, common.ErrStorageUnavailable)
}

// SetPartial publishes the quick verdict. Only PENDING jobs accept it.
func (s *Store) SetPartial(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	_, err := s.mutate(ctx, id, func(job *entity.ScanJob, now time.Time) error {
		if err := checkTransition(job.Status, constants.JobStatusPartial); err != nil {
			return err
		}
		job.Status = constants.JobStatusPartial
		job.PartialResult = append(json.RawMessage(nil), result...)
		job.PartialAt = &now
		return nil
	})
	return err
}

// SetFinal publishes the model verdict from PENDING or PARTIAL.
func (s *Store) SetFinal(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	_, err := s.mutate(ctx, id, func(job *entity.ScanJob, now time.Time) error {
		if err := checkTransition(job.Status, constants.JobStatusFinal); err != nil {
			return err
		}
		job.Status = constants.JobStatusFinal
		job.FinalResult = append(json.RawMessage(nil), result...)
		job.FinalAt = &now
		return nil
	})
	return err
}

// Fail moves a non-terminal job to FAILED. Failing a terminal job returns
// ErrInvalidTransition, which callers usually ignore.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.mutate(ctx, id, func(job *entity.ScanJob, _ time.Time) error {
		if err := checkTransition(job.Status, constants.JobStatusFailed); err != nil {
			return err
		}
		job.Status = constants.JobStatusFailed
		job.FailureReason = reason
		return nil
	})
	return err
}

// MarkPersisted flips the persisted flag of a FINAL job. Exactly one caller
// ever sees true; later callers get false and no error.
func (s *Store) MarkPersisted(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.mutate(ctx, id, func(job *entity.ScanJob, _ time.Time) error {
		if job.Status != constants.JobStatusFinal {
			return fmt.Errorf("mark persisted from %s: %w", job.Status, common.ErrInvalidTransition)
		}
		if job.Persisted {
			return errAlreadyPersisted
		}
		job.Persisted = true
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyPersisted):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// GetJob returns a snapshot of the job. Jobs past their TTL are reported as
// EXPIRED until purged, then ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (entity.ScanJob, error) {
	key := id.String()
	rec, err := s.load(ctx, key)
	if err != nil {
		return entity.ScanJob{}, err
	}
	now := s.now()
	if !lapsed(rec.Job, now) {
		return rec.Job, nil
	}
	job := expire(rec.Job, now)
	if ok, err := s.backend.CompareAndSet(ctx, key, rec.Version, Record{Job: job}); err != nil || !ok {
		// Another writer got there first; the next read settles it.
		s.logger.Debug("jobs.expire.deferred", "job_id", key, "error", err)
	}
	return job, nil
}

// load reads key, purging it when its tombstone grace is over.
func (s *Store) load(ctx context.Context, key string) (Record, error) {
	rec, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, fmt.Errorf("job %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return Record{}, storageError("get", err)
	}
	if s.purgeable(rec.Job, s.now()) {
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn("jobs.purge.failed", "job_id", key, "error", err)
		}
		return Record{}, fmt.Errorf("job %s: %w", key, common.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) mutate(ctx context.Context, id uuid.UUID, apply func(job *entity.ScanJob, now time.Time) error) (entity.ScanJob, error) {
	key := id.String()
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return entity.ScanJob{}, err
		}
		rec, err := s.load(ctx, key)
		if err != nil {
			return entity.ScanJob{}, err
		}

		now := s.now()
		job := rec.Job.Clone()
		var applyErr error
		if lapsed(job, now) {
			job = expire(job, now)
			applyErr = fmt.Errorf("job %s expired: %w", key, common.ErrInvalidTransition)
		} else if applyErr = apply(&job, now); applyErr != nil {
			return rec.Job, applyErr
		}
		job.UpdatedAt = now

		ok, err := s.backend.CompareAndSet(ctx, key, rec.Version, Record{Job: job})
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return entity.ScanJob{}, fmt.Errorf("job %s: %w", key, common.ErrNotFound)
		case err != nil:
			return entity.ScanJob{}, storageError("compare-and-set", err)
		case !ok:
			s.logger.Debug("jobs.cas.conflict", "job_id", key, "attempt", attempt+1)
			continue
		}
		return job, applyErr
	}
	return entity.ScanJob{}, fmt.Errorf("job %s: %d version conflicts: %w", key, s.maxRetries, common.ErrStorageUnavailable)
}

func (s *Store) purgeable(job entity.ScanJob, now time.Time) bool {
	return !job.ExpiresAt.IsZero() && !now.Before(job.ExpiresAt.Add(s.grace))
}

// lapsed reports a non-terminal job past its TTL.
func lapsed(job entity.ScanJob, now time.Time) bool {
	return !job.Status.IsTerminal() && job.Expired(now)
}

func expire(job entity.ScanJob, now time.Time) entity.ScanJob {
	job.Status = constants.JobStatusExpired
	job.UpdatedAt = now
	return job
}

func checkTransition(from, to constants.JobStatus) error {
	ok := false
	switch to {
	case constants.JobStatusPartial:
		ok = from == constants.JobStatusPending
	case constants.JobStatusFinal, constants.JobStatusFailed, constants.JobStatusExpired:
		ok = from == constants.JobStatusPending || from == constants.JobStatusPartial
	}
	if !ok {
		return fmt.Errorf("%s -> %s: %w", from, to, common.ErrInvalidTransition)
	}
	return nil
}

func storageError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("job store %s: %v: %w", op, err, common.ErrStorageUnavailable)
}
