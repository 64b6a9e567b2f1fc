package llm

import "context"

// Item statuses in a verdict.
const (
	StatusSafe    = "safe"
	StatusCaution = "caution"
	StatusUnsafe  = "unsafe"
)

// ItemVerdict is the model's judgement of one menu item.
type ItemVerdict struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Allergens []string `json:"allergens,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Verdict is the normalized shape we want from the model.
type Verdict struct {
	Items   []ItemVerdict `json:"items"`
	Summary string        `json:"summary,omitempty"`
}

// AnalyzeRequest is the bounded payload handed to the model.
type AnalyzeRequest struct {
	// Tokens is the full bounded list, allergies first.
	Tokens    []string
	Allergies []string
	MenuItems []string
	Diets     []string
	Language  string
}

// Analyzer is the interface our pipeline depends on. It returns the raw model
// JSON; ParseVerdict turns it into a Verdict.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) ([]byte, error)
}
