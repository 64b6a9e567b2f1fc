package entity

// UserContext is the allergy/diet profile fetched for a scan.
type UserContext struct {
	UserID    string   `json:"user_id"`
	Allergies []string `json:"allergies"`
	Diets     []string `json:"diets,omitempty"`
	Language  string   `json:"language,omitempty"`
}
