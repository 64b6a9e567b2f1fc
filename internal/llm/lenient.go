package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/menu-safety/constants"
)

// statusSynonyms maps looser model wording onto the schema enum.
var statusSynonyms = map[string]string{
	"safe":      StatusSafe,
	"ok":        StatusSafe,
	"okay":      StatusSafe,
	"fine":      StatusSafe,
	"caution":   StatusCaution,
	"warning":   StatusCaution,
	"warn":      StatusCaution,
	"maybe":     StatusCaution,
	"uncertain": StatusCaution,
	"unknown":   StatusCaution,
	"unsafe":    StatusUnsafe,
	"avoid":     StatusUnsafe,
	"danger":    StatusUnsafe,
	"dangerous": StatusUnsafe,
	"not safe":  StatusUnsafe,
}

// SanitizeVerdict repairs common model deviations so the document can still
// validate: status wording, null or stray fields, allergen spelling. Items with
// no name are dropped; an item whose status cannot be read becomes "caution",
// never "safe". Returns the cleaned document and what was changed.
func SanitizeVerdict(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var changed []string
	for k := range m {
		if k != "items" && k != "summary" {
			delete(m, k)
			changed = append(changed, k+"(unknown)")
		}
	}
	if s, ok := m["summary"]; ok {
		if str, isStr := s.(string); !isStr || strings.TrimSpace(str) == "" {
			delete(m, "summary")
			changed = append(changed, "summary(empty)")
		}
	}

	rawItems, _ := m["items"].([]any)
	items := make([]any, 0, len(rawItems))
	for i, raw := range rawItems {
		it, ok := raw.(map[string]any)
		if !ok {
			changed = append(changed, fmt.Sprintf("items[%d](type)", i))
			continue
		}
		name, _ := it["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			changed = append(changed, fmt.Sprintf("items[%d](no name)", i))
			continue
		}
		clean := map[string]any{"name": name, "status": normalizeStatus(it["status"])}
		if clean["status"] != it["status"] {
			changed = append(changed, fmt.Sprintf("items[%d].status", i))
		}
		if codes := normalizeAllergens(it["allergens"]); len(codes) > 0 {
			clean["allergens"] = codes
		}
		if reason, ok := it["reason"].(string); ok && strings.TrimSpace(reason) != "" {
			clean["reason"] = strings.TrimSpace(reason)
		}
		items = append(items, clean)
	}
	m["items"] = items

	out, err := json.Marshal(m)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, changed, nil
}

func normalizeStatus(v any) string {
	s, _ := v.(string)
	if st, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return StatusCaution
}

// normalizeAllergens accepts a list or a comma separated string and returns
// canonical codes where known, trimmed lower-case terms otherwise.
func normalizeAllergens(v any) []string {
	var terms []string
	switch t := v.(type) {
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok {
				terms = append(terms, s)
			}
		}
	case string:
		terms = strings.Split(t, ",")
	}
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if a, ok := constants.CanonicalizeAllergen(term); ok {
			term = string(a)
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
