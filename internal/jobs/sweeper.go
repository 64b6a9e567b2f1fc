package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/menu-safety/internal/common"
)

// Purger is implemented by backends that can drop records whose storage TTL
// ran out without listing them first.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Scanned int
	Expired int
	Purged  int
}

// Sweep expires lapsed jobs and purges records past their tombstone grace.
// A failure on one key is logged and does not stop the sweep.
func (s *Store) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return res, storageError("keys", err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		rec, err := s.backend.Get(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("jobs.sweep.get_failed", "job_id", key, "error", err)
			continue
		}

		now := s.now()
		switch {
		case s.purgeable(rec.Job, now):
			if err := s.backend.Delete(ctx, key); err != nil {
				s.logger.Warn("jobs.sweep.purge_failed", "job_id", key, "error", err)
				continue
			}
			res.Purged++
		case lapsed(rec.Job, now):
			ok, err := s.backend.CompareAndSet(ctx, key, rec.Version, Record{Job: expire(rec.Job, now)})
			if err != nil {
				s.logger.Warn("jobs.sweep.expire_failed", "job_id", key, "error", err)
				continue
			}
			if ok {
				res.Expired++
			}
		}
	}
	if p, ok := s.backend.(Purger); ok {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			return res, storageError("purge", err)
		}
		res.Purged += int(n)
	}
	return res, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now()
			res, err := s.Sweep(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("jobs.sweep.failed", "error", err, "storage_unavailable", errors.Is(err, common.ErrStorageUnavailable))
				}
				continue
			}
			if res.Expired > 0 || res.Purged > 0 {
				s.logger.Info("jobs.sweep.done",
					"scanned", res.Scanned,
					"expired", res.Expired,
					"purged", res.Purged,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
			}
		}
	}
}
