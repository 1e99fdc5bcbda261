/*
registry.go - Formula evaluation

PURPOSE:
  Maps each formula kind to its evaluator, plus a sub-registry of named
  functions for Personalizado formulas. A Registry is built once and shared
  read-only by every composition of a run; registering after startup is
  safe but meant for tests and extensions.

USAGE:
  reg := catalog.NewRegistry()
  amount, err := reg.Amount(formula, catalog.FormulaContext{CategoryAmount: &base})
  pct, err := reg.Percentage(formula, catalog.FormulaContext{ActivityCount: 3})

BUILT-IN FUNCTIONS:
  antiguedad_escalonada  params {"porAnio": "1", "maximo": "10"}
                         percentage = min(tenure years * porAnio, maximo)

SEE ALSO:
  - formula.go: Descriptor kinds
*/
package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/generic"
)

// FormulaContext carries everything a formula may read.
type FormulaContext struct {
	// CategoryAmount is the configured base amount of the person's category.
	CategoryAmount *decimal.Decimal
	// Participation is set when evaluating an activity item.
	Participation *generic.Participation
	ActivityCount int
	TenureYears   int
	// Target is the amount a percentage formula applies to.
	Target decimal.Decimal
}

// CustomFunc computes a Personalizado formula.
type CustomFunc func(ctx FormulaContext, params json.RawMessage) (decimal.Decimal, error)

type amountFunc func(r *Registry, f Formula, ctx FormulaContext) (decimal.Decimal, error)

// Registry evaluates formulas. The zero value is not usable; use NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	amounts   map[FormulaKind]amountFunc
	percents  map[FormulaKind]amountFunc
	functions map[string]CustomFunc
}

// NewRegistry returns a registry with every kind and the built-in
// functions registered.
func NewRegistry() *Registry {
	r := &Registry{
		amounts:   make(map[FormulaKind]amountFunc),
		percents:  make(map[FormulaKind]amountFunc),
		functions: make(map[string]CustomFunc),
	}

	r.amounts[KindCategoriaMonto] = func(_ *Registry, _ Formula, ctx FormulaContext) (decimal.Decimal, error) {
		if ctx.CategoryAmount == nil {
			return decimal.Zero, fmt.Errorf("no category amount in context")
		}
		return *ctx.CategoryAmount, nil
	}
	r.amounts[KindParticipacion] = func(_ *Registry, _ Formula, ctx FormulaContext) (decimal.Decimal, error) {
		if ctx.Participation == nil {
			return decimal.Zero, fmt.Errorf("no participation in context")
		}
		return ctx.Participation.EffectivePrice(), nil
	}
	r.amounts[KindEscalado] = func(_ *Registry, f Formula, ctx FormulaContext) (decimal.Decimal, error) {
		return generic.PercentOf(ctx.Target, f.(Escalado).PercentageFor(ctx.ActivityCount)), nil
	}
	r.amounts[KindPorcentajeFijo] = func(_ *Registry, f Formula, ctx FormulaContext) (decimal.Decimal, error) {
		return generic.PercentOf(ctx.Target, f.(PorcentajeFijo).Percentage), nil
	}
	r.amounts[KindPersonalizado] = (*Registry).custom

	r.percents[KindEscalado] = func(_ *Registry, f Formula, ctx FormulaContext) (decimal.Decimal, error) {
		return f.(Escalado).PercentageFor(ctx.ActivityCount), nil
	}
	r.percents[KindPorcentajeFijo] = func(_ *Registry, f Formula, _ FormulaContext) (decimal.Decimal, error) {
		return f.(PorcentajeFijo).Percentage, nil
	}
	r.percents[KindPersonalizado] = (*Registry).custom

	r.functions["antiguedad_escalonada"] = tenureStepped
	return r
}

// RegisterFunction adds or replaces a named Personalizado function.
func (r *Registry) RegisterFunction(name string, fn CustomFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// HasFunction reports whether name is registered.
func (r *Registry) HasFunction(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[name]
	return ok
}

// Amount evaluates f as a money amount, rounded to cents.
func (r *Registry) Amount(f Formula, ctx FormulaContext) (decimal.Decimal, error) {
	return r.eval(r.amounts, f, ctx, true)
}

// Percentage evaluates f as a percentage in [0, 100].
func (r *Registry) Percentage(f Formula, ctx FormulaContext) (decimal.Decimal, error) {
	pct, err := r.eval(r.percents, f, ctx, false)
	if err != nil {
		return decimal.Zero, err
	}
	return generic.ClampPercentage(pct), nil
}

func (r *Registry) eval(table map[FormulaKind]amountFunc, f Formula, ctx FormulaContext, round bool) (decimal.Decimal, error) {
	if f == nil {
		return decimal.Zero, generic.FormulaError("", fmt.Errorf("nil formula"))
	}
	fn, ok := table[f.Kind()]
	if !ok {
		return decimal.Zero, generic.FormulaError(string(f.Kind()), fmt.Errorf("formula kind cannot be evaluated here"))
	}
	v, err := fn(r, f, ctx)
	if err != nil {
		return decimal.Zero, generic.FormulaError(string(f.Kind()), err)
	}
	if v.IsNegative() {
		return decimal.Zero, generic.FormulaError(string(f.Kind()), fmt.Errorf("negative result %s", v))
	}
	if round {
		v = generic.RoundMoney(v)
	}
	return v, nil
}

func (r *Registry) custom(f Formula, ctx FormulaContext) (decimal.Decimal, error) {
	p := f.(Personalizado)
	r.mu.RLock()
	fn, ok := r.functions[p.Name]
	r.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown function %q", p.Name)
	}
	return fn(ctx, p.Params)
}

// =============================================================================
// BUILT-IN FUNCTIONS
// =============================================================================

type tenureParams struct {
	PerYear decimal.Decimal `json:"porAnio"`
	Max     decimal.Decimal `json:"maximo"`
}

func tenureStepped(ctx FormulaContext, raw json.RawMessage) (decimal.Decimal, error) {
	var p tenureParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return decimal.Zero, fmt.Errorf("invalid antiguedad_escalonada params: %w", err)
		}
	}
	pct := p.PerYear.Mul(decimal.NewFromInt(int64(ctx.TenureYears)))
	if !p.Max.IsZero() && pct.GreaterThan(p.Max) {
		pct = p.Max
	}
	return pct, nil
}
