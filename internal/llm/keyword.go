package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/menu-safety/constants"
)

// KeywordAnalyzer is an offline Analyzer. It marks an item unsafe when its
// wording names one of the diner's allergens (directly or by synonym) and safe
// otherwise. It is meant for local runs without model credentials.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(req.Allergies))
	for _, a := range req.Allergies {
		if code, ok := constants.CanonicalizeAllergen(a); ok {
			wanted[string(code)] = struct{}{}
		} else if t := strings.ToLower(strings.TrimSpace(a)); t != "" {
			wanted[t] = struct{}{}
		}
	}

	v := Verdict{Items: make([]ItemVerdict, 0, len(req.MenuItems))}
	unsafe := 0
	for _, item := range req.MenuItems {
		iv := ItemVerdict{Name: item, Status: StatusSafe}
		for _, code := range itemAllergens(item) {
			if _, hit := wanted[code]; hit {
				iv.Allergens = append(iv.Allergens, code)
			}
		}
		if len(iv.Allergens) > 0 {
			iv.Status = StatusUnsafe
			iv.Reason = "mentions " + strings.Join(iv.Allergens, ", ")
			unsafe++
		}
		v.Items = append(v.Items, iv)
	}
	v.Summary = fmt.Sprintf("%d of %d items mention a declared allergen", unsafe, len(v.Items))
	return json.Marshal(v)
}

// itemAllergens returns canonical codes (or raw words) mentioned by item.
func itemAllergens(item string) []string {
	ws := strings.FieldsFunc(strings.ToLower(item), func(r rune) bool { return !unicode.IsLetter(r) })
	var out []string
	add := func(term string) {
		if code, ok := constants.CanonicalizeAllergen(term); ok {
			term = string(code)
		}
		if !slices.Contains(out, term) {
			out = append(out, term)
		}
	}
	for i, w := range ws {
		add(w)
		if i+1 < len(ws) {
			if code, ok := constants.CanonicalizeAllergen(ws[i] + " " + ws[i+1]); ok {
				add(string(code))
			}
		}
	}
	return out
}
