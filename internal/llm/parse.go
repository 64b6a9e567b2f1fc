package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrInvalidVerdict is returned when model output cannot be turned into a Verdict.
var ErrInvalidVerdict = errors.New("invalid verdict")

// ParseVerdict validates raw model output against the verdict schema, falling
// back to SanitizeVerdict once before giving up. Markdown code fences around the
// JSON are tolerated.
func ParseVerdict(raw []byte, logger *slog.Logger) (Verdict, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc := []byte(stripFences(string(raw)))
	schema := BuildVerdictJSONSchema()

	if err := ValidateJSONAgainstSchema(schema, doc); err != nil {
		cleaned, changed, sErr := SanitizeVerdict(doc)
		if sErr != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, sErr)
		}
		if vErr := ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, vErr)
		}
		logger.Warn("llm.verdict.lenient_sanitize_applied", "changed", changed)
		doc = cleaned
	}

	var v Verdict
	if err := json.Unmarshal(doc, &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if v.Items == nil {
		v.Items = []ItemVerdict{}
	}
	return v, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Counts tallies items per status.
func (v Verdict) Counts() map[string]int {
	out := map[string]int{StatusSafe: 0, StatusCaution: 0, StatusUnsafe: 0}
	for _, it := range v.Items {
		out[it.Status]++
	}
	return out
}
