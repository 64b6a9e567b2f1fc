package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/entity"
	"github.com/joseph-ayodele/menu-safety/internal/jobs"
	"github.com/joseph-ayodele/menu-safety/internal/jobs/jobstest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestSQLite(t *testing.T) *SQLBackend {
	t.Helper()
	ctx := context.Background()
	drv, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"), quietLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = drv.Close() })
	if err := Migrate(ctx, drv); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLBackend(drv, quietLogger())
}

func TestSQLBackend_Contract(t *testing.T) {
	jobstest.RunBackendSuite(t, openTestSQLite(t))
}

func TestSQLBackend_StorageTTL(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	if err := b.Set(ctx, "short", jobs.Record{Version: 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "forever", jobs.Record{Version: 1}, 0); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := b.Get(ctx, "short"); !errors.Is(err, jobs.ErrRecordNotFound) {
		t.Errorf("expired row still readable: %v", err)
	}
	if ok, err := b.CompareAndSet(ctx, "short", 1, jobs.Record{}); ok || !errors.Is(err, jobs.ErrRecordNotFound) {
		t.Errorf("cas on expired row: ok=%v err=%v", ok, err)
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "forever" {
		t.Errorf("keys = %v", keys)
	}

	n, err := b.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("purge = %d, %v", n, err)
	}
}

func TestSQLBackend_DrivesStore(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewStore(openTestSQLite(t), jobs.WithLogger(quietLogger()))

	id, err := store.CreateJob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetPartial(ctx, id, []byte(`{"items":[]}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.SetFinal(ctx, id, []byte(`{"items":[],"summary":"ok"}`)); err != nil {
		t.Fatal(err)
	}
	first, err := store.MarkPersisted(ctx, id)
	if err != nil || !first {
		t.Fatalf("first mark = %v, %v", first, err)
	}
	again, err := store.MarkPersisted(ctx, id)
	if err != nil || again {
		t.Errorf("second mark = %v, %v", again, err)
	}
	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !job.Persisted || string(job.FinalResult) != `{"items":[],"summary":"ok"}` {
		t.Errorf("job = %+v", job)
	}
}

func TestResultRepository(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)
	repo := NewResultRepository(b.drv, quietLogger())
	id := uuid.New()

	if _, _, err := repo.Get(ctx, id); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("get before save err = %v", err)
	}
	if err := repo.Save(ctx, id, []byte(`{"summary":"first"}`)); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, id, []byte(`{"summary":"second"}`)); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	got, savedAt, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"summary":"first"}` {
		t.Errorf("result = %s", got)
	}
	if savedAt.IsZero() {
		t.Error("saved_at not set")
	}
}

func TestFileResultArchive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.jsonl")
	archive, err := OpenFileResultArchive(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	ids := make([]uuid.UUID, 16)
	var wg sync.WaitGroup
	for i := range ids {
		ids[i] = uuid.New()
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := archive.Save(ctx, id, []byte(`{"items":[],"summary":"ok"}`)); err != nil {
				t.Errorf("save %s: %v", id, err)
			}
		}(ids[i])
	}
	wg.Wait()
	if err := archive.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != len(ids) {
		t.Fatalf("archive has %d lines, want %d", len(lines), len(ids))
	}
	seen := make(map[uuid.UUID]bool)
	for _, line := range lines {
		var rec archivedResult
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		if string(rec.Result) != `{"items":[],"summary":"ok"}` || rec.SavedAt.IsZero() {
			t.Errorf("record = %+v", rec)
		}
		seen[rec.JobID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("job %s missing from the archive", id)
		}
	}

	reopened, err := OpenFileResultArchive(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if err := reopened.Save(ctx, uuid.New(), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	raw, _ = os.ReadFile(path)
	if n := strings.Count(string(raw), "\n"); n != len(ids)+1 {
		t.Errorf("reopen truncated or lost lines: %d", n)
	}
}

func TestRedisBackend_Contract(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	rdb, err := OpenRedis(context.Background(), url, quietLogger())
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	jobstest.RunBackendSuite(t, NewRedisBackend(rdb, "menuscan:test:"+uuid.NewString()[:8]+":"))
}

func TestStaticProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	raw := `{"u1": {"allergies": ["peanut", "shrimp"], "language": "fr"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	profiles, err := LoadStaticProfiles(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	uc, err := profiles.FetchContext(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if uc.UserID != "u1" || len(uc.Allergies) != 2 || uc.Language != "fr" {
		t.Errorf("profile = %+v", uc)
	}
	uc.Allergies[0] = "mutated"
	again, _ := profiles.FetchContext(ctx, "u1")
	if again.Allergies[0] != "peanut" {
		t.Error("caller mutation leaked into the profile set")
	}

	unknown, err := profiles.FetchContext(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if want := (entity.UserContext{UserID: "nobody"}); unknown.UserID != want.UserID || len(unknown.Allergies) != 0 {
		t.Errorf("unknown user = %+v", unknown)
	}
}
