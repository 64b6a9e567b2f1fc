package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/menu-safety/internal/jobs"
)

const scanJobTable = "scan_job"

// SQLBackend stores job records in the scan_job table. On Postgres it is durable
// and shared between instances; on SQLite it is durable on a single host.
type SQLBackend struct {
	drv    *entsql.Driver
	logger *slog.Logger
	now    func() time.Time
}

var _ jobs.Backend = (*SQLBackend)(nil)

func NewSQLBackend(drv *entsql.Driver, logger *slog.Logger) *SQLBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLBackend{drv: drv, logger: logger, now: time.Now}
}

func (b *SQLBackend) builder() *entsql.DialectBuilder {
	return entsql.Dialect(b.drv.Dialect())
}

// live matches rows whose storage TTL has not run out.
func (b *SQLBackend) live() *entsql.Predicate {
	return entsql.Or(entsql.EQ("purge_at", 0), entsql.GT("purge_at", b.now().UnixMilli()))
}

func (b *SQLBackend) Get(ctx context.Context, key string) (jobs.Record, error) {
	d := b.builder()
	q, args := d.Select("version", "payload").
		From(d.Table(scanJobTable)).
		Where(entsql.And(entsql.EQ("id", key), b.live())).
		Query()

	var rows entsql.Rows
	if err := b.drv.Query(ctx, q, args, &rows); err != nil {
		return jobs.Record{}, fmt.Errorf("select scan_job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return jobs.Record{}, err
		}
		return jobs.Record{}, jobs.ErrRecordNotFound
	}
	var (
		version int64
		payload string
	)
	if err := rows.Scan(&version, &payload); err != nil {
		return jobs.Record{}, fmt.Errorf("scan scan_job: %w", err)
	}
	rec := jobs.Record{Version: uint64(version)}
	if err := json.Unmarshal([]byte(payload), &rec.Job); err != nil {
		return jobs.Record{}, fmt.Errorf("decode scan_job %s: %w", key, err)
	}
	return rec, nil
}

func (b *SQLBackend) Set(ctx context.Context, key string, rec jobs.Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec.Job)
	if err != nil {
		return err
	}
	var purgeAt int64
	if ttl > 0 {
		purgeAt = b.now().Add(ttl).UnixMilli()
	}
	q, args := b.builder().
		Insert(scanJobTable).
		Columns("id", "version", "status", "payload", "purge_at").
		Values(key, int64(rec.Version), string(rec.Job.Status), string(payload), purgeAt).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	if err := b.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("upsert scan_job: %w", err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	q, args := b.builder().Delete(scanJobTable).Where(entsql.EQ("id", key)).Query()
	if err := b.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("delete scan_job: %w", err)
	}
	return nil
}

func (b *SQLBackend) CompareAndSet(ctx context.Context, key string, expectedVersion uint64, rec jobs.Record) (bool, error) {
	payload, err := json.Marshal(rec.Job)
	if err != nil {
		return false, err
	}
	q, args := b.builder().
		Update(scanJobTable).
		Set("version", int64(expectedVersion+1)).
		Set("status", string(rec.Job.Status)).
		Set("payload", string(payload)).
		Where(entsql.And(
			entsql.EQ("id", key),
			entsql.EQ("version", int64(expectedVersion)),
			b.live(),
		)).
		Query()

	var res sql.Result
	if err := b.drv.Exec(ctx, q, args, &res); err != nil {
		return false, fmt.Errorf("update scan_job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Nothing updated: either the version moved or the row is gone.
	if _, err := b.Get(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}

func (b *SQLBackend) Keys(ctx context.Context) ([]string, error) {
	d := b.builder()
	q, args := d.Select("id").
		From(d.Table(scanJobTable)).
		Where(b.live()).
		Query()

	var rows entsql.Rows
	if err := b.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("list scan_job: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, id)
	}
	return keys, rows.Err()
}

// PurgeExpired deletes rows whose storage TTL ran out. Reads already skip them.
func (b *SQLBackend) PurgeExpired(ctx context.Context) (int64, error) {
	q, args := b.builder().
		Delete(scanJobTable).
		Where(entsql.And(entsql.GT("purge_at", 0), entsql.LTE("purge_at", b.now().UnixMilli()))).
		Query()
	var res sql.Result
	if err := b.drv.Exec(ctx, q, args, &res); err != nil {
		return 0, fmt.Errorf("purge scan_job: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		b.logger.Info("repository.scan_job.purged", "rows", n)
	}
	return n, err
}
