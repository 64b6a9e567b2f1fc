// Package optimizer bounds the allergy + menu term list handed to the analysis model.
//
// The pass is pure and synchronous: normalize, canonicalize through a synonym map,
// dedupe (stable, first surface form wins), flag protected terms, then trim
// unprotected items from the tail until the list fits the item budget. Protected
// terms are never dropped, even when they alone exceed the budget.
package optimizer

import (
	"strings"
)

// Priority decides which term class is trimmed first when over budget.
type Priority string

const (
	// PriorityTailOrder trims from the tail of the combined sequence (allergies first, then menu).
	PriorityTailOrder Priority = "tail"
	// PriorityDropMenuFirst trims unprotected menu tokens before any allergy term.
	PriorityDropMenuFirst Priority = "menu_first"
	// PriorityDropAllergyFirst trims unprotected allergy terms before any menu token.
	PriorityDropAllergyFirst Priority = "allergy_first"
)

// ParsePriority maps a config string onto a Priority; unknown values fall back to tail order.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityDropMenuFirst:
		return PriorityDropMenuFirst
	case PriorityDropAllergyFirst:
		return PriorityDropAllergyFirst
	default:
		return PriorityTailOrder
	}
}

// TokenBudget configures a bounding pass.
type TokenBudget struct {
	MaxItems          int
	ProtectedKeywords []string
	SynonymMap        map[string]string
	Priority          Priority
}

// Result is the bounded payload plus diagnostics.
type Result struct {
	Bounded []string `json:"bounded"`
	Dropped []string `json:"dropped,omitempty"`

	// Allergies and Menu are Bounded split by input class, order preserved.
	Allergies []string `json:"allergies"`
	Menu      []string `json:"menu"`

	Collapsed         int  `json:"collapsed"`
	ProtectedCount    int  `json:"protected_count"`
	ProtectedOverflow bool `json:"protected_overflow"`
}

type termClass uint8

const (
	classAllergy termClass = iota
	classMenu
)

type item struct {
	term      string
	class     termClass
	protected bool
	dropped   bool
}

// Optimizer is a TokenBudget with its maps prepared once; safe for concurrent use.
type Optimizer struct {
	maxItems  int
	priority  Priority
	synonyms  map[string]string
	protected map[string]struct{}
}

// New prepares budget for repeated use.
func New(budget TokenBudget) *Optimizer {
	o := &Optimizer{
		maxItems:  budget.MaxItems,
		priority:  ParsePriority(string(budget.Priority)),
		synonyms:  make(map[string]string, len(budget.SynonymMap)),
		protected: make(map[string]struct{}, len(budget.ProtectedKeywords)*2),
	}
	if o.maxItems < 0 {
		o.maxItems = 0
	}
	for k, v := range budget.SynonymMap {
		nk, nv := normalize(k), normalize(v)
		if nk == "" || nv == "" {
			continue
		}
		o.synonyms[nk] = nv
	}
	for _, kw := range budget.ProtectedKeywords {
		n := normalize(kw)
		if n == "" {
			continue
		}
		o.protected[n] = struct{}{}
		o.protected[o.canonical(n)] = struct{}{}
	}
	return o
}

// Optimize runs a one-off pass with budget.
func Optimize(allergyTerms, menuTokens []string, budget TokenBudget) Result {
	return New(budget).Optimize(allergyTerms, menuTokens)
}

// Optimize bounds allergyTerms followed by menuTokens.
func (o *Optimizer) Optimize(allergyTerms, menuTokens []string) Result {
	var res Result
	items := make([]item, 0, len(allergyTerms)+len(menuTokens))
	seen := make(map[string]struct{}, cap(items))

	collect := func(terms []string, class termClass) {
		for _, raw := range terms {
			term := normalize(raw)
			if term == "" {
				continue
			}
			canon := o.canonical(term)
			if _, dup := seen[canon]; dup {
				res.Collapsed++
				continue
			}
			seen[canon] = struct{}{}
			_, pCanon := o.protected[canon]
			_, pTerm := o.protected[term]
			it := item{term: term, class: class, protected: pCanon || pTerm}
			if it.protected {
				res.ProtectedCount++
			}
			items = append(items, it)
		}
	}
	collect(allergyTerms, classAllergy)
	collect(menuTokens, classMenu)

	if excess := len(items) - o.maxItems; excess > 0 {
		for _, match := range o.dropOrder() {
			excess = trimTail(items, excess, match)
			if excess == 0 {
				break
			}
		}
		res.ProtectedOverflow = excess > 0
	}

	res.Bounded = make([]string, 0, len(items))
	res.Allergies = []string{}
	res.Menu = []string{}
	for _, it := range items {
		if it.dropped {
			res.Dropped = append(res.Dropped, it.term)
			continue
		}
		res.Bounded = append(res.Bounded, it.term)
		if it.class == classAllergy {
			res.Allergies = append(res.Allergies, it.term)
		} else {
			res.Menu = append(res.Menu, it.term)
		}
	}
	return res
}

func (o *Optimizer) canonical(term string) string {
	if code, ok := o.synonyms[term]; ok {
		return code
	}
	return term
}

func (o *Optimizer) dropOrder() []func(termClass) bool {
	all := func(termClass) bool { return true }
	only := func(c termClass) func(termClass) bool {
		return func(x termClass) bool { return x == c }
	}
	switch o.priority {
	case PriorityDropMenuFirst:
		return []func(termClass) bool{only(classMenu), only(classAllergy)}
	case PriorityDropAllergyFirst:
		return []func(termClass) bool{only(classAllergy), only(classMenu)}
	default:
		return []func(termClass) bool{all}
	}
}

// trimTail marks unprotected items matching class from the tail until excess
// reaches zero or no candidate is left. Returns the remaining excess.
func trimTail(items []item, excess int, match func(termClass) bool) int {
	for i := len(items) - 1; i >= 0 && excess > 0; i-- {
		it := &items[i]
		if it.protected || it.dropped || !match(it.class) {
			continue
		}
		it.dropped = true
		excess--
	}
	return excess
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
