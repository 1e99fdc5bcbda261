package catalog

import (
	"fmt"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// SNAPSHOT - Read-only catalog view for one run
// =============================================================================

// Snapshot is an immutable copy of the catalog. A batch run or a single
// composition reads one snapshot throughout, so concurrent admin edits never
// produce a half-updated view.
type Snapshot struct {
	categories map[generic.CategoryCode]generic.ItemCategory
	types      map[string]generic.ItemType
	formulas   map[string]Formula
	invalid    map[string]error
}

// NewSnapshot parses every calculated type's formula up front. A type with
// a broken formula stays in the snapshot; FormulaFor reports the error so
// only compositions that use the type fail.
func NewSnapshot(categories []generic.ItemCategory, types []generic.ItemType) *Snapshot {
	s := &Snapshot{
		categories: make(map[generic.CategoryCode]generic.ItemCategory, len(categories)),
		types:      make(map[string]generic.ItemType, len(types)),
		formulas:   make(map[string]Formula),
		invalid:    make(map[string]error),
	}
	for _, c := range categories {
		s.categories[c.Code] = c
	}
	for _, t := range types {
		t.Formula = append([]byte(nil), t.Formula...)
		s.types[t.Code] = t
		if !t.Calculated {
			continue
		}
		f, err := ParseFormula(t.Formula)
		if err != nil {
			s.invalid[t.Code] = err
			continue
		}
		s.formulas[t.Code] = f
	}
	return s
}

// Type returns an active item type.
func (s *Snapshot) Type(code string) (generic.ItemType, bool) {
	t, ok := s.types[code]
	if !ok || !t.Active {
		return generic.ItemType{}, false
	}
	return t, true
}

// MustType returns the active type or a CONFIGURATION error.
func (s *Snapshot) MustType(code string) (generic.ItemType, error) {
	t, ok := s.Type(code)
	if !ok {
		return t, generic.Configurationf("item type %s is missing or inactive", code)
	}
	return t, nil
}

func (s *Snapshot) Category(code generic.CategoryCode) (generic.ItemCategory, bool) {
	c, ok := s.categories[code]
	return c, ok
}

// FormulaFor returns the parsed formula of a calculated type.
func (s *Snapshot) FormulaFor(code string) (Formula, error) {
	if err, ok := s.invalid[code]; ok {
		return nil, err
	}
	f, ok := s.formulas[code]
	if !ok {
		return nil, generic.FormulaError(code, fmt.Errorf("type %s has no formula", code))
	}
	return f, nil
}

// Types returns every type in the snapshot (active or not).
func (s *Snapshot) Types() []generic.ItemType {
	out := make([]generic.ItemType, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, t)
	}
	return out
}
