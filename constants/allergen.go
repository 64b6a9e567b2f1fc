package constants

import (
	"strings"
)

// Allergen is a canonical allergen code.
type Allergen string

const (
	Crustacean Allergen = "crustacean"
	Mollusc    Allergen = "mollusc"
	Fish       Allergen = "fish"
	Peanut     Allergen = "peanut"
	TreeNut    Allergen = "tree_nut"
	Milk       Allergen = "milk"
	Egg        Allergen = "egg"
	Wheat      Allergen = "wheat"
	Gluten     Allergen = "gluten"
	Soy        Allergen = "soy"
	Sesame     Allergen = "sesame"
	Mustard    Allergen = "mustard"
	Celery     Allergen = "celery"
	Lupin      Allergen = "lupin"
	Sulphite   Allergen = "sulphite"
)

var allAllergens = []Allergen{
	Crustacean,
	Mollusc,
	Fish,
	Peanut,
	TreeNut,
	Milk,
	Egg,
	Wheat,
	Gluten,
	Soy,
	Sesame,
	Mustard,
	Celery,
	Lupin,
	Sulphite,
}

// surface term -> canonical code
var allergenSynonyms = map[string]Allergen{
	"shrimp":      Crustacean,
	"prawn":       Crustacean,
	"prawns":      Crustacean,
	"crab":        Crustacean,
	"lobster":     Crustacean,
	"crayfish":    Crustacean,
	"langoustine": Crustacean,
	"squid":       Mollusc,
	"calamari":    Mollusc,
	"octopus":     Mollusc,
	"mussel":      Mollusc,
	"mussels":     Mollusc,
	"clam":        Mollusc,
	"oyster":      Mollusc,
	"scallop":     Mollusc,
	"salmon":      Fish,
	"tuna":        Fish,
	"cod":         Fish,
	"anchovy":     Fish,
	"anchovies":   Fish,
	"peanuts":     Peanut,
	"groundnut":   Peanut,
	"almond":      TreeNut,
	"almonds":     TreeNut,
	"walnut":      TreeNut,
	"cashew":      TreeNut,
	"pistachio":   TreeNut,
	"hazelnut":    TreeNut,
	"pecan":       TreeNut,
	"dairy":       Milk,
	"lactose":     Milk,
	"cheese":      Milk,
	"butter":      Milk,
	"cream":       Milk,
	"eggs":        Egg,
	"mayonnaise":  Egg,
	"flour":       Wheat,
	"barley":      Gluten,
	"rye":         Gluten,
	"soya":        Soy,
	"tofu":        Soy,
	"edamame":     Soy,
	"tahini":      Sesame,
	"sulfite":     Sulphite,
	"sulfites":    Sulphite,
	"sulphites":   Sulphite,
}

// AllergenCodes returns the canonical codes as strings.
func AllergenCodes() []string {
	result := make([]string, len(allAllergens))
	for i, a := range allAllergens {
		result[i] = string(a)
	}
	return result
}

// CanonicalizeAllergen maps a surface term onto its canonical allergen code.
func CanonicalizeAllergen(input string) (Allergen, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	if a, ok := allergenSynonyms[normalized]; ok {
		return a, true
	}
	for _, a := range allAllergens {
		if normalized == string(a) || normalized == strings.ReplaceAll(string(a), "_", " ") {
			return a, true
		}
	}
	return "", false
}

// DefaultSynonymMap returns a fresh surface->code map usable as an optimizer synonym map.
// Canonical codes map to themselves so that "shrimp" and "crustacean" collapse together.
func DefaultSynonymMap() map[string]string {
	out := make(map[string]string, len(allergenSynonyms)+len(allAllergens))
	for k, v := range allergenSynonyms {
		out[k] = string(v)
	}
	for _, a := range allAllergens {
		out[string(a)] = string(a)
	}
	return out
}

// DefaultProtectedKeywords are never truncated out of a model payload.
// Every canonical code is protected; omitting one risks a false "safe".
func DefaultProtectedKeywords() []string {
	return AllergenCodes()
}
