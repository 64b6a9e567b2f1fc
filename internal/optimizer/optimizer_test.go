package optimizer

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"slices"
	"testing"
	"testing/quick"

	"github.com/joseph-ayodele/menu-safety/constants"
)

func TestOptimize_SynonymsCollapse(t *testing.T) {
	cfg := TokenBudget{
		MaxItems:   10,
		SynonymMap: map[string]string{"shrimp": "crustacean", "prawn": "crustacean"},
	}
	res := Optimize([]string{"shrimp", "prawn"}, nil, cfg)

	if len(res.Bounded) != 1 {
		t.Fatalf("expected a single bounded item, got %v", res.Bounded)
	}
	if res.Bounded[0] != "shrimp" {
		t.Errorf("expected first surface form %q, got %q", "shrimp", res.Bounded[0])
	}
	if res.Collapsed != 1 {
		t.Errorf("expected 1 collapsed duplicate, got %d", res.Collapsed)
	}
}

func TestOptimize_Table(t *testing.T) {
	tests := []struct {
		name        string
		allergies   []string
		menu        []string
		budget      TokenBudget
		wantBounded []string
		wantDropped []string
		wantOver    bool
	}{
		{
			name:        "normalizes case and whitespace",
			allergies:   []string{"  Peanut ", "SESAME"},
			menu:        []string{"Pad Thai"},
			budget:      TokenBudget{MaxItems: 5},
			wantBounded: []string{"peanut", "sesame", "pad thai"},
		},
		{
			name:        "empty terms are ignored",
			allergies:   []string{"", "   ", "egg"},
			budget:      TokenBudget{MaxItems: 5},
			wantBounded: []string{"egg"},
		},
		{
			name:        "stable dedupe across classes keeps first occurrence",
			allergies:   []string{"milk"},
			menu:        []string{"risotto", "Milk", "tiramisu"},
			budget:      TokenBudget{MaxItems: 10},
			wantBounded: []string{"milk", "risotto", "tiramisu"},
		},
		{
			name:        "cap trims from the tail",
			allergies:   []string{"egg"},
			menu:        []string{"a", "b", "c", "d"},
			budget:      TokenBudget{MaxItems: 3},
			wantBounded: []string{"egg", "a", "b"},
			wantDropped: []string{"c", "d"},
		},
		{
			name:        "cap skips protected tail items",
			allergies:   []string{"egg"},
			menu:        []string{"a", "b", "satay peanut"},
			budget:      TokenBudget{MaxItems: 2, ProtectedKeywords: []string{"satay peanut"}},
			wantBounded: []string{"egg", "satay peanut"},
			wantDropped: []string{"a", "b"},
		},
		{
			name:      "protected overflow violates cap deliberately",
			allergies: []string{"peanut", "sesame", "egg"},
			menu:      []string{"noodles"},
			budget: TokenBudget{
				MaxItems:          2,
				ProtectedKeywords: []string{"peanut", "sesame", "egg"},
			},
			wantBounded: []string{"peanut", "sesame", "egg"},
			wantDropped: []string{"noodles"},
			wantOver:    true,
		},
		{
			name:      "protection follows canonical code",
			allergies: []string{"prawn"},
			menu:      []string{"x", "y"},
			budget: TokenBudget{
				MaxItems:          1,
				ProtectedKeywords: []string{"crustacean"},
				SynonymMap:        map[string]string{"prawn": "crustacean"},
			},
			wantBounded: []string{"prawn"},
			wantDropped: []string{"x", "y"},
		},
		{
			name:        "menu first priority keeps unprotected allergy terms",
			allergies:   []string{"a1", "a2"},
			menu:        []string{"m1", "m2"},
			budget:      TokenBudget{MaxItems: 2, Priority: PriorityDropMenuFirst},
			wantBounded: []string{"a1", "a2"},
			wantDropped: []string{"m1", "m2"},
		},
		{
			name:        "allergy first priority keeps menu tokens",
			allergies:   []string{"a1", "a2"},
			menu:        []string{"m1", "m2"},
			budget:      TokenBudget{MaxItems: 3, Priority: PriorityDropAllergyFirst},
			wantBounded: []string{"a1", "m1", "m2"},
			wantDropped: []string{"a2"},
		},
		{
			name:        "zero budget keeps only protected",
			allergies:   []string{"egg", "fish"},
			budget:      TokenBudget{MaxItems: 0, ProtectedKeywords: []string{"fish"}},
			wantBounded: []string{"fish"},
			wantDropped: []string{"egg"},
			wantOver:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Optimize(tt.allergies, tt.menu, tt.budget)
			if !slices.Equal(res.Bounded, tt.wantBounded) {
				t.Errorf("bounded = %v, want %v", res.Bounded, tt.wantBounded)
			}
			if !slices.Equal(res.Dropped, tt.wantDropped) {
				t.Errorf("dropped = %v, want %v", res.Dropped, tt.wantDropped)
			}
			if res.ProtectedOverflow != tt.wantOver {
				t.Errorf("protected overflow = %v, want %v", res.ProtectedOverflow, tt.wantOver)
			}
			if got := len(res.Allergies) + len(res.Menu); got != len(res.Bounded) {
				t.Errorf("class split has %d items, bounded has %d", got, len(res.Bounded))
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"":               PriorityTailOrder,
		"tail":           PriorityTailOrder,
		"MENU_FIRST":     PriorityDropMenuFirst,
		" allergy_first": PriorityDropAllergyFirst,
		"bogus":          PriorityTailOrder,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %q, want %q", in, got, want)
		}
	}
}

// vocabulary small enough that random inputs produce duplicates and synonyms
var vocab = []string{
	"shrimp", "prawn", "crab", "peanut", "peanuts", "milk", "cheese", "egg",
	"salad", "soup", "noodles", "tofu", "soy", " Fish ", "TUNA", "bread",
}

type termInput struct {
	Allergies []string
	Menu      []string
	MaxItems  int
	Protected []string
}

func (termInput) Generate(r *rand.Rand, _ int) reflect.Value {
	pick := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = vocab[r.Intn(len(vocab))]
		}
		return out
	}
	return reflect.ValueOf(termInput{
		Allergies: pick(r.Intn(6)),
		Menu:      pick(r.Intn(20)),
		MaxItems:  r.Intn(8),
		Protected: pick(r.Intn(4)),
	})
}

func (in termInput) budget() TokenBudget {
	return TokenBudget{
		MaxItems:          in.MaxItems,
		ProtectedKeywords: in.Protected,
		SynonymMap:        constants.DefaultSynonymMap(),
	}
}

// Property: len(bounded) <= max(maxItems, protectedCount)
func TestOptimize_Property_BoundedSize(t *testing.T) {
	f := func(in termInput) bool {
		res := Optimize(in.Allergies, in.Menu, in.budget())
		return len(res.Bounded) <= max(in.MaxItems, res.ProtectedCount)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

// Property: every protected keyword present in the input survives.
func TestOptimize_Property_ProtectedSurvive(t *testing.T) {
	f := func(in termInput) bool {
		o := New(in.budget())
		res := o.Optimize(in.Allergies, in.Menu)

		kept := make(map[string]struct{}, len(res.Bounded))
		for _, b := range res.Bounded {
			kept[o.canonical(b)] = struct{}{}
		}
		for _, term := range append(slices.Clone(in.Allergies), in.Menu...) {
			n := normalize(term)
			if _, isProtected := o.protected[o.canonical(n)]; !isProtected {
				if _, isProtected = o.protected[n]; !isProtected {
					continue
				}
			}
			if _, ok := kept[o.canonical(n)]; !ok {
				t.Logf("protected term %q missing from %v", n, res.Bounded)
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

// Property: identical input and config give byte-identical output.
func TestOptimize_Property_Deterministic(t *testing.T) {
	f := func(in termInput) bool {
		a, _ := json.Marshal(Optimize(in.Allergies, in.Menu, in.budget()))
		b, _ := json.Marshal(Optimize(in.Allergies, in.Menu, in.budget()))
		return string(a) == string(b)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 300}); err != nil {
		t.Error(err)
	}
}

func TestOptimize_DoesNotMutateInput(t *testing.T) {
	allergies := []string{" Peanut", "prawn"}
	menu := []string{"Shrimp Tacos"}
	before := slices.Clone(allergies)
	Optimize(allergies, menu, TokenBudget{MaxItems: 1})
	if !slices.Equal(allergies, before) {
		t.Errorf("input mutated: %v", allergies)
	}
}

func BenchmarkOptimize(b *testing.B) {
	o := New(TokenBudget{
		MaxItems:          40,
		ProtectedKeywords: constants.DefaultProtectedKeywords(),
		SynonymMap:        constants.DefaultSynonymMap(),
	})
	allergies := []string{"shrimp", "peanut", "milk", "sesame"}
	menu := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		menu = append(menu, vocab[i%len(vocab)]+" special")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.Optimize(allergies, menu)
	}
}
