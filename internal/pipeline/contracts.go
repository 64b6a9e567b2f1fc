package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/internal/entity"
	"github.com/joseph-ayodele/menu-safety/internal/ocr"
)

// TextExtractor turns a menu photo into text and a quick verdict.
type TextExtractor interface {
	Extract(ctx context.Context, imagePath string) (ocr.Result, error)
}

// ContextFetcher loads a diner's allergy/diet profile.
type ContextFetcher interface {
	FetchContext(ctx context.Context, userID string) (entity.UserContext, error)
}

// Persister durably stores a final result. Save is called at most once per job.
type Persister interface {
	Save(ctx context.Context, id uuid.UUID, finalResult json.RawMessage) error
}

// JobStore is the slice of jobs.Store the controller drives.
type JobStore interface {
	CreateJob(ctx context.Context) (uuid.UUID, error)
	SetPartial(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	SetFinal(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	MarkPersisted(ctx context.Context, id uuid.UUID) (bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (entity.ScanJob, error)
}

// ScanRequest is one submitted menu. Exactly one of Image, ImagePath and
// MenuText is set. Image is the photo itself (base64 in JSON); ImagePath names a
// file already in the scan inbox.
type ScanRequest struct {
	UserID    string   `json:"user_id"`
	Image     []byte   `json:"image,omitempty"`
	ImagePath string   `json:"image_path,omitempty"`
	MenuText  string   `json:"menu_text,omitempty"`
	Allergies []string `json:"allergies,omitempty"`
	Diets     []string `json:"diets,omitempty"`
	Language  string   `json:"language,omitempty"`
}
