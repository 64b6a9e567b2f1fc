package llm

import (
	"strings"
)

// BuildSystemPrompt composes the system message: role, output contract, and the
// rules that keep the model conservative about allergens.
func BuildSystemPrompt(req AnalyzeRequest) string {
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = "en"
	}
	parts := []string{
		"You are a food allergy safety assistant reading a restaurant menu. Return ONLY JSON that matches the provided JSON Schema.",
		"Judge every menu item against the diner's allergies and diets.",
		"Use 'unsafe' when an item clearly contains an allergen, 'caution' when it commonly contains one or the wording is ambiguous, and 'safe' only when you are confident it does not.",
		"Never mark an item 'safe' because an ingredient is not mentioned if the dish traditionally contains an allergen (for example pesto and pine nuts, pad thai and peanuts).",
		"List the allergen codes behind each non-safe status in 'allergens' and give a short 'reason' (under 20 words).",
		"Write 'reason' and 'summary' in language: " + lang + ".",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt lists the diner profile and the bounded menu items.
func BuildUserPrompt(req AnalyzeRequest) string {
	var b strings.Builder
	b.WriteString("Allergies: ")
	if len(req.Allergies) == 0 {
		b.WriteString("(none declared)")
	} else {
		b.WriteString(strings.Join(req.Allergies, ", "))
	}
	if len(req.Diets) > 0 {
		b.WriteString("\nDiets: ")
		b.WriteString(strings.Join(req.Diets, ", "))
	}
	b.WriteString("\n\nMenu items:\n")
	for _, item := range req.MenuItems {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return b.String()
}
