package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/internal/common"
)

const scanResultTable = "scan_result"

// ResultRepository archives final verdicts in the scan_result table.
type ResultRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewResultRepository(drv *entsql.Driver, logger *slog.Logger) *ResultRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultRepository{drv: drv, logger: logger}
}

// Save stores the final result for a job. A second save for the same job is ignored.
func (r *ResultRepository) Save(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error {
	q, args := entsql.Dialect(r.drv.Dialect()).
		Insert(scanResultTable).
		Columns("job_id", "result", "saved_at").
		Values(jobID.String(), string(result), time.Now().UnixMilli()).
		OnConflict(entsql.ConflictColumns("job_id"), entsql.DoNothing()).
		Query()
	if err := r.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("scan_result save failed", "job_id", jobID, "error", err)
		return err
	}
	r.logger.Info("scan_result saved", "job_id", jobID, "bytes", len(result))
	return nil
}

// Get returns the archived result for a job.
func (r *ResultRepository) Get(ctx context.Context, jobID uuid.UUID) (json.RawMessage, time.Time, error) {
	d := entsql.Dialect(r.drv.Dialect())
	q, args := d.Select("result", "saved_at").
		From(d.Table(scanResultTable)).
		Where(entsql.EQ("job_id", jobID.String())).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("scan_result %s: %w", jobID, common.ErrNotFound)
	}
	var (
		result  string
		savedAt int64
	)
	if err := rows.Scan(&result, &savedAt); err != nil {
		return nil, time.Time{}, err
	}
	return json.RawMessage(result), time.UnixMilli(savedAt), nil
}
