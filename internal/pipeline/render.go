package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/internal/llm"
	"github.com/joseph-ayodele/menu-safety/internal/ocr"
	"github.com/joseph-ayodele/menu-safety/internal/optimizer"
)

// PartialResult is the payload stored with SetPartial.
type PartialResult struct {
	Quick         ocr.QuickVerdict `json:"quick"`
	OCRMethod     string           `json:"ocr_method"`
	OCRConfidence float32          `json:"ocr_confidence"`
}

// FinalResult is the payload stored with SetFinal and handed to the Persister.
type FinalResult struct {
	JobID       uuid.UUID         `json:"job_id"`
	Items       []llm.ItemVerdict `json:"items"`
	Summary     string            `json:"summary,omitempty"`
	Counts      map[string]int    `json:"counts"`
	Allergies   []string          `json:"allergies"`
	Diets       []string          `json:"diets,omitempty"`
	Language    string            `json:"language"`
	Dropped     []string          `json:"dropped,omitempty"`
	Truncated   bool              `json:"truncated"`
	Overflow    bool              `json:"protected_overflow"`
	Warnings    []string          `json:"warnings,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

func renderPartial(res ocr.Result) PartialResult {
	return PartialResult{Quick: res.Quick, OCRMethod: res.Method, OCRConfidence: res.Confidence}
}

func renderFinal(id uuid.UUID, v llm.Verdict, opt optimizer.Result, req llm.AnalyzeRequest, warnings []string, now time.Time) FinalResult {
	return FinalResult{
		JobID:       id,
		Items:       v.Items,
		Summary:     v.Summary,
		Counts:      v.Counts(),
		Allergies:   opt.Allergies,
		Diets:       req.Diets,
		Language:    req.Language,
		Dropped:     opt.Dropped,
		Truncated:   len(opt.Dropped) > 0,
		Overflow:    opt.ProtectedOverflow,
		Warnings:    warnings,
		GeneratedAt: now.UTC(),
	}
}
