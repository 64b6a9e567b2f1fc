// Package jobstest checks that a jobs.Backend honours the contract the Store relies on.
package jobstest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/constants"
	"github.com/joseph-ayodele/menu-safety/internal/entity"
	"github.com/joseph-ayodele/menu-safety/internal/jobs"
)

// RunBackendSuite exercises b. It writes only uuid-named keys, so a shared
// backend can be reused across runs.
func RunBackendSuite(t *testing.T, b jobs.Backend) {
	t.Helper()

	newRecord := func() (string, jobs.Record) {
		id := uuid.New()
		now := time.Now().UTC().Truncate(time.Millisecond)
		return id.String(), jobs.Record{
			Version: 1,
			Job: entity.ScanJob{
				ID:        id,
				Status:    constants.JobStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
				ExpiresAt: now.Add(time.Minute),
			},
		}
	}

	t.Run("get missing", func(t *testing.T) {
		_, err := b.Get(context.Background(), uuid.NewString())
		if !errors.Is(err, jobs.ErrRecordNotFound) {
			t.Errorf("err = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		ctx := context.Background()
		key, rec := newRecord()
		if err := b.Set(ctx, key, rec, time.Hour); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := b.Get(ctx, key)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Version != 1 || got.Job.ID != rec.Job.ID || got.Job.Status != constants.JobStatusPending {
			t.Errorf("got %+v", got)
		}
		if !got.Job.ExpiresAt.Equal(rec.Job.ExpiresAt) {
			t.Errorf("expires at %v, want %v", got.Job.ExpiresAt, rec.Job.ExpiresAt)
		}
	})

	t.Run("compare and set", func(t *testing.T) {
		ctx := context.Background()
		key, rec := newRecord()
		if err := b.Set(ctx, key, rec, time.Hour); err != nil {
			t.Fatalf("set: %v", err)
		}

		next := rec
		next.Job.Status = constants.JobStatusPartial
		next.Job.PartialResult = []byte(`{"items":[]}`)

		ok, err := b.CompareAndSet(ctx, key, 7, next)
		if err != nil || ok {
			t.Fatalf("stale version: ok=%v err=%v", ok, err)
		}
		ok, err = b.CompareAndSet(ctx, key, 1, next)
		if err != nil || !ok {
			t.Fatalf("current version: ok=%v err=%v", ok, err)
		}

		got, err := b.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != 2 {
			t.Errorf("version = %d, want 2", got.Version)
		}
		if got.Job.Status != constants.JobStatusPartial || string(got.Job.PartialResult) != `{"items":[]}` {
			t.Errorf("job = %+v", got.Job)
		}

		ok, err = b.CompareAndSet(ctx, key, 1, next)
		if err != nil || ok {
			t.Errorf("replayed version: ok=%v err=%v", ok, err)
		}
	})

	t.Run("compare and set missing", func(t *testing.T) {
		_, rec := newRecord()
		_, err := b.CompareAndSet(context.Background(), uuid.NewString(), 1, rec)
		if !errors.Is(err, jobs.ErrRecordNotFound) {
			t.Errorf("err = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("keys and delete", func(t *testing.T) {
		ctx := context.Background()
		key, rec := newRecord()
		if err := b.Set(ctx, key, rec, 0); err != nil {
			t.Fatal(err)
		}
		keys, err := b.Keys(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Contains(keys, key) {
			t.Errorf("keys %v missing %s", keys, key)
		}
		if err := b.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Get(ctx, key); !errors.Is(err, jobs.ErrRecordNotFound) {
			t.Errorf("get after delete err = %v", err)
		}
		if err := b.Delete(ctx, key); err != nil {
			t.Errorf("second delete err = %v", err)
		}
	})
}
