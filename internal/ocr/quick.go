package ocr

import (
	"slices"
	"strings"

	"github.com/joseph-ayodele/menu-safety/constants"
)

// Quick verdict statuses. The quick pass only knows the menu text, so it can
// say an item mentions an allergen but never that an item is safe.
const (
	QuickStatusFlagged = "flagged"
	QuickStatusUnknown = "unknown"
)

// QuickItem is one menu line with the allergens its wording mentions.
type QuickItem struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Allergens []string `json:"allergens,omitempty"`
}

// QuickVerdict is the heuristic result published as a job's partial result.
type QuickVerdict struct {
	Items   []QuickItem `json:"items"`
	Flagged int         `json:"flagged"`
	// Allergens is every code mentioned anywhere on the menu, sorted.
	Allergens []string `json:"allergens"`
	Heuristic bool     `json:"heuristic"`
}

// QuickScan flags each token that names an allergen or one of its synonyms.
// Two-word names such as "tree nut" are matched as well as single words.
func QuickScan(tokens []string) QuickVerdict {
	v := QuickVerdict{Items: make([]QuickItem, 0, len(tokens)), Allergens: []string{}, Heuristic: true}
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		item := QuickItem{Name: tok, Status: QuickStatusUnknown}
		if codes := mentionedAllergens(tok); len(codes) > 0 {
			item.Status = QuickStatusFlagged
			item.Allergens = codes
			v.Flagged++
			for _, c := range codes {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					v.Allergens = append(v.Allergens, c)
				}
			}
		}
		v.Items = append(v.Items, item)
	}
	slices.Sort(v.Allergens)
	return v
}

func mentionedAllergens(s string) []string {
	ws := words(s)
	var codes []string
	add := func(term string) {
		if a, ok := constants.CanonicalizeAllergen(term); ok && !slices.Contains(codes, string(a)) {
			codes = append(codes, string(a))
		}
	}
	for i, w := range ws {
		add(w)
		if i+1 < len(ws) {
			add(strings.Join(ws[i:i+2], " "))
		}
	}
	return codes
}
