/*
formula.go - Formula descriptors for calculated item types and rules

PURPOSE:
  A formula descriptor says how a value is derived. It is stored as JSON
  on item types and discount rules and parsed into a closed set of Go
  types, so an unknown or malformed descriptor is rejected when it is
  loaded instead of failing silently during composition.

JSON FORMAT:
  {"version": 1, "type": "PorcentajeFijo", "params": {"porcentaje": "15"}}

KINDS:
  CategoriaMonto   The base amount of the person's membership category
  Participacion    The effective price of one activity participation
  Escalado         A percentage stepped by activity count
  PorcentajeFijo   A fixed percentage
  Personalizado    A named function registered in the Registry

  CategoriaMonto and Participacion yield amounts. Escalado and
  PorcentajeFijo yield percentages; as amounts they apply to the
  context's Target. Personalizado yields whatever its function returns.

SEE ALSO:
  - registry.go: Evaluation
  - discount/condition.go: The matching condition descriptors of rules
*/
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/generic"
)

// FormulaVersion is the only descriptor version this build understands.
const FormulaVersion = 1

type FormulaKind string

const (
	KindCategoriaMonto FormulaKind = "CategoriaMonto"
	KindParticipacion  FormulaKind = "Participacion"
	KindEscalado       FormulaKind = "Escalado"
	KindPorcentajeFijo FormulaKind = "PorcentajeFijo"
	KindPersonalizado  FormulaKind = "Personalizado"
)

// Formula is implemented by the five descriptor kinds only.
type Formula interface {
	Kind() FormulaKind
	validate() error
}

type CategoriaMonto struct{}

type Participacion struct{}

// Step applies Percentage from MinCount activities upward.
type Step struct {
	MinCount   int             `json:"minimo"`
	Percentage decimal.Decimal `json:"porcentaje"`
}

type Escalado struct {
	Steps []Step `json:"escalones"`
}

type PorcentajeFijo struct {
	Percentage decimal.Decimal `json:"porcentaje"`
}

type Personalizado struct {
	Name   string          `json:"nombre"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (CategoriaMonto) Kind() FormulaKind { return KindCategoriaMonto }
func (Participacion) Kind() FormulaKind  { return KindParticipacion }
func (Escalado) Kind() FormulaKind       { return KindEscalado }
func (PorcentajeFijo) Kind() FormulaKind { return KindPorcentajeFijo }
func (Personalizado) Kind() FormulaKind  { return KindPersonalizado }

func (CategoriaMonto) validate() error { return nil }
func (Participacion) validate() error  { return nil }

func (e Escalado) validate() error {
	if len(e.Steps) == 0 {
		return fmt.Errorf("escalado needs at least one step")
	}
	for i, s := range e.Steps {
		if s.MinCount < 0 {
			return fmt.Errorf("step %d: negative minimum", i)
		}
		if err := validPercentage(s.Percentage); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if i > 0 && s.MinCount <= e.Steps[i-1].MinCount {
			return fmt.Errorf("steps must have increasing minimums")
		}
	}
	return nil
}

// PercentageFor returns the percentage of the highest step reached by
// count, or zero below the first step.
func (e Escalado) PercentageFor(count int) decimal.Decimal {
	pct := decimal.Zero
	for _, s := range e.Steps {
		if count >= s.MinCount {
			pct = s.Percentage
		}
	}
	return pct
}

func (p PorcentajeFijo) validate() error { return validPercentage(p.Percentage) }

func (p Personalizado) validate() error {
	if p.Name == "" {
		return fmt.Errorf("personalizado needs a function name")
	}
	return nil
}

func validPercentage(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("percentage %s out of range [0, 100]", p)
	}
	return nil
}

// =============================================================================
// JSON
// =============================================================================

type envelope struct {
	Version int             `json:"version"`
	Type    FormulaKind     `json:"type"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ParseFormula decodes and validates a descriptor. Every failure is a
// FORMULA error.
func ParseFormula(raw []byte) (Formula, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, generic.FormulaError("", fmt.Errorf("empty formula"))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, generic.FormulaError("", fmt.Errorf("invalid formula JSON: %w", err))
	}
	if env.Version != FormulaVersion {
		return nil, generic.FormulaError(string(env.Type), fmt.Errorf("unsupported formula version %d", env.Version))
	}

	var f Formula
	switch env.Type {
	case KindCategoriaMonto:
		f = CategoriaMonto{}
	case KindParticipacion:
		f = Participacion{}
	case KindEscalado:
		var e Escalado
		if err := decodeParams(env.Params, &e); err != nil {
			return nil, generic.FormulaError(string(env.Type), err)
		}
		sort.SliceStable(e.Steps, func(i, j int) bool { return e.Steps[i].MinCount < e.Steps[j].MinCount })
		f = e
	case KindPorcentajeFijo:
		var p PorcentajeFijo
		if err := decodeParams(env.Params, &p); err != nil {
			return nil, generic.FormulaError(string(env.Type), err)
		}
		f = p
	case KindPersonalizado:
		var p Personalizado
		if err := decodeParams(env.Params, &p); err != nil {
			return nil, generic.FormulaError(string(env.Type), err)
		}
		f = p
	default:
		return nil, generic.FormulaError(string(env.Type), fmt.Errorf("unknown formula type %q", env.Type))
	}

	if err := f.validate(); err != nil {
		return nil, generic.FormulaError(string(env.Type), err)
	}
	return f, nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// EncodeFormula renders f in the versioned JSON form.
func EncodeFormula(f Formula) ([]byte, error) {
	env := envelope{Version: FormulaVersion, Type: f.Kind()}
	switch f.(type) {
	case CategoriaMonto, Participacion:
	default:
		params, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		env.Params = params
	}
	return json.Marshal(env)
}

// MustEncodeFormula is EncodeFormula for literals known to be valid.
func MustEncodeFormula(f Formula) []byte {
	b, err := EncodeFormula(f)
	if err != nil {
		panic(err)
	}
	return b
}
