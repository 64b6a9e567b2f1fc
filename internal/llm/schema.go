package llm

// BuildVerdictJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally to validate.
func BuildVerdictJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":   map[string]any{"type": "string", "minLength": 1},
			"status": map[string]any{"type": "string", "enum": []string{StatusSafe, StatusCaution, StatusUnsafe}},
			"allergens": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "minLength": 1},
			},
			"reason": map[string]any{"type": "string"},
		},
		"required": []string{"name", "status"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"items":   map[string]any{"type": "array", "items": item},
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"items"},
	}
}
