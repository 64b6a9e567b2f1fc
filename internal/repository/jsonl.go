package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileResultArchive appends final verdicts to a JSON Lines file, one
// {"job_id","saved_at","result"} object per line. It is the persister for
// backends without a results table.
type FileResultArchive struct {
	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

type archivedResult struct {
	JobID   uuid.UUID       `json:"job_id"`
	SavedAt time.Time       `json:"saved_at"`
	Result  json.RawMessage `json:"result"`
}

// OpenFileResultArchive opens path for appending, creating it if needed.
func OpenFileResultArchive(path string, logger *slog.Logger) (*FileResultArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open result archive: %w", err)
	}
	logger.Info("result archive opened", "path", path)
	return &FileResultArchive{f: f, logger: logger}, nil
}

// Save appends one line. Lines are written with a single call so concurrent
// saves never interleave.
func (a *FileResultArchive) Save(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(archivedResult{JobID: jobID, SavedAt: time.Now().UTC(), Result: result})
	if err != nil {
		return fmt.Errorf("encode archived result: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(line); err != nil {
		a.logger.Error("result archive write failed", "job_id", jobID, "error", err)
		return err
	}
	a.logger.Info("result archived", "job_id", jobID, "bytes", len(result))
	return nil
}

func (a *FileResultArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
