/*
condition.go - When a discount rule matches

PURPOSE:
  A rule's condition descriptor is stored as JSON and compiled into one of
  a closed set of Condition types. Matching is independent per rule and
  reads only the person's resolved Attributes.

JSON FORMAT:
  {"tipo": "siempre"}
  {"tipo": "categoria", "categorias": ["ACTIVO", "JUVENIL"]}
  {"tipo": "relacion_familiar", "parentescos": ["HERMANO"]}   (empty = any)
  {"tipo": "cantidad_actividades", "min": 2, "max": 3}       (max optional)
  {"tipo": "antiguedad", "minAnios": 5}
  {"tipo": "todas", "condiciones": [ ... ]}

SEE ALSO:
  - rule.go: Compilation of a full rule
*/
package discount

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/fee-engine/generic"
)

// Attributes is what the engine knows about a person for one period.
type Attributes struct {
	PersonID        generic.PersonID
	CategoryCode    string
	FamilyRelations []generic.FamilyRelation
	ActivityCount   int
	TenureYears     int
}

type Condition interface {
	Matches(a Attributes) bool
}

type Always struct{}

type InCategory struct {
	Codes []string
}

type HasFamilyRelation struct {
	// Kinds restricts the relation kinds; empty accepts any.
	Kinds []string
}

type ActivityCount struct {
	Min int
	Max *int
}

type Tenure struct {
	MinYears int
}

type All struct {
	Conditions []Condition
}

func (Always) Matches(Attributes) bool { return true }

func (c InCategory) Matches(a Attributes) bool {
	for _, code := range c.Codes {
		if code == a.CategoryCode {
			return true
		}
	}
	return false
}

func (c HasFamilyRelation) Matches(a Attributes) bool {
	for _, r := range a.FamilyRelations {
		if !r.Active {
			continue
		}
		if len(c.Kinds) == 0 {
			return true
		}
		for _, k := range c.Kinds {
			if k == r.Kind {
				return true
			}
		}
	}
	return false
}

func (c ActivityCount) Matches(a Attributes) bool {
	if a.ActivityCount < c.Min {
		return false
	}
	return c.Max == nil || a.ActivityCount <= *c.Max
}

func (c Tenure) Matches(a Attributes) bool { return a.TenureYears >= c.MinYears }

func (c All) Matches(a Attributes) bool {
	for _, sub := range c.Conditions {
		if !sub.Matches(a) {
			return false
		}
	}
	return true
}

// =============================================================================
// JSON
// =============================================================================

type conditionJSON struct {
	Type       string            `json:"tipo"`
	Categories []string          `json:"categorias,omitempty"`
	Kinds      []string          `json:"parentescos,omitempty"`
	Min        *int              `json:"min,omitempty"`
	Max        *int              `json:"max,omitempty"`
	MinYears   *int              `json:"minAnios,omitempty"`
	Conditions []json.RawMessage `json:"condiciones,omitempty"`
}

// ParseCondition compiles a condition descriptor.
func ParseCondition(raw []byte) (Condition, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c conditionJSON
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid condition JSON: %w", err)
	}

	switch c.Type {
	case "siempre":
		return Always{}, nil
	case "categoria":
		if len(c.Categories) == 0 {
			return nil, fmt.Errorf("categoria condition needs categorias")
		}
		return InCategory{Codes: c.Categories}, nil
	case "relacion_familiar":
		return HasFamilyRelation{Kinds: c.Kinds}, nil
	case "cantidad_actividades":
		if c.Min == nil || *c.Min < 0 {
			return nil, fmt.Errorf("cantidad_actividades condition needs min >= 0")
		}
		if c.Max != nil && *c.Max < *c.Min {
			return nil, fmt.Errorf("cantidad_actividades max below min")
		}
		return ActivityCount{Min: *c.Min, Max: c.Max}, nil
	case "antiguedad":
		if c.MinYears == nil || *c.MinYears < 0 {
			return nil, fmt.Errorf("antiguedad condition needs minAnios >= 0")
		}
		return Tenure{MinYears: *c.MinYears}, nil
	case "todas":
		if len(c.Conditions) == 0 {
			return nil, fmt.Errorf("todas condition needs condiciones")
		}
		all := All{Conditions: make([]Condition, 0, len(c.Conditions))}
		for i, sub := range c.Conditions {
			parsed, err := ParseCondition(sub)
			if err != nil {
				return nil, fmt.Errorf("condiciones[%d]: %w", i, err)
			}
			all.Conditions = append(all.Conditions, parsed)
		}
		return all, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

// EncodeCondition renders c as JSON.
func EncodeCondition(c Condition) ([]byte, error) {
	j, err := toJSON(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

func toJSON(c Condition) (conditionJSON, error) {
	switch v := c.(type) {
	case Always:
		return conditionJSON{Type: "siempre"}, nil
	case InCategory:
		return conditionJSON{Type: "categoria", Categories: v.Codes}, nil
	case HasFamilyRelation:
		return conditionJSON{Type: "relacion_familiar", Kinds: v.Kinds}, nil
	case ActivityCount:
		lo := v.Min
		return conditionJSON{Type: "cantidad_actividades", Min: &lo, Max: v.Max}, nil
	case Tenure:
		years := v.MinYears
		return conditionJSON{Type: "antiguedad", MinYears: &years}, nil
	case All:
		out := conditionJSON{Type: "todas"}
		for _, sub := range v.Conditions {
			b, err := EncodeCondition(sub)
			if err != nil {
				return out, err
			}
			out.Conditions = append(out.Conditions, b)
		}
		return out, nil
	}
	return conditionJSON{}, fmt.Errorf("unsupported condition %T", c)
}

// MustEncodeCondition is EncodeCondition for literals known to be valid.
func MustEncodeCondition(c Condition) []byte {
	b, err := EncodeCondition(c)
	if err != nil {
		panic(err)
	}
	return b
}
