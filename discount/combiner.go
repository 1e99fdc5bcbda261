package discount

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// COMBINERS - One strategy per application mode
// =============================================================================

// Input is what a combiner may read besides the rules themselves.
type Input struct {
	Attributes Attributes
	Registry   *catalog.Registry
	Functions  *Functions
}

// Candidate is a matched rule with its resolved percentage, before the
// global cap.
type Candidate struct {
	Rule       *Rule
	Percentage decimal.Decimal
}

// Combiner resolves the matched rules of one mode. rules arrive in
// evaluation order; the result keeps that order.
type Combiner interface {
	Combine(rules []*Rule, in Input) ([]Candidate, error)
}

// Accumulate keeps every matching rule.
type Accumulate struct{}

// ExclusiveHighestPriority keeps only the first matching rule.
type ExclusiveHighestPriority struct{}

// MaximumOnly keeps only the largest percentage. Ties go to the earlier rule.
type MaximumOnly struct{}

// CustomFunction computes each rule's percentage with its named function.
type CustomFunction struct{}

func (Accumulate) Combine(rules []*Rule, in Input) ([]Candidate, error) {
	out := make([]Candidate, 0, len(rules))
	for _, r := range rules {
		pct, err := rulePercentage(r, in)
		if err != nil {
			return nil, err
		}
		if pct.IsPositive() {
			out = append(out, Candidate{Rule: r, Percentage: pct})
		}
	}
	return out, nil
}

func (ExclusiveHighestPriority) Combine(rules []*Rule, in Input) ([]Candidate, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	pct, err := rulePercentage(rules[0], in)
	if err != nil {
		return nil, err
	}
	if !pct.IsPositive() {
		return nil, nil
	}
	return []Candidate{{Rule: rules[0], Percentage: pct}}, nil
}

func (MaximumOnly) Combine(rules []*Rule, in Input) ([]Candidate, error) {
	var best *Candidate
	for _, r := range rules {
		pct, err := rulePercentage(r, in)
		if err != nil {
			return nil, err
		}
		if !pct.IsPositive() {
			continue
		}
		if best == nil || pct.GreaterThan(best.Percentage) {
			best = &Candidate{Rule: r, Percentage: pct}
		}
	}
	if best == nil {
		return nil, nil
	}
	return []Candidate{*best}, nil
}

func (CustomFunction) Combine(rules []*Rule, in Input) ([]Candidate, error) {
	out := make([]Candidate, 0, len(rules))
	for _, r := range rules {
		fn, ok := in.Functions.lookup(r.Source.CustomFunction)
		if !ok {
			return nil, generic.FormulaError(r.Code(), fmt.Errorf("unknown combination function %q", r.Source.CustomFunction))
		}
		pct, err := fn(r, in)
		if err != nil {
			return nil, generic.FormulaError(r.Code(), err)
		}
		pct = capRule(r, generic.ClampPercentage(pct))
		if pct.IsPositive() {
			out = append(out, Candidate{Rule: r, Percentage: pct})
		}
	}
	return out, nil
}

// DefaultCombiners maps each mode to its strategy.
func DefaultCombiners() map[generic.ApplicationMode]Combiner {
	return map[generic.ApplicationMode]Combiner{
		generic.ModeAccumulative: Accumulate{},
		generic.ModeExclusive:    ExclusiveHighestPriority{},
		generic.ModeMaximum:      MaximumOnly{},
		generic.ModeCustom:       CustomFunction{},
	}
}

func rulePercentage(r *Rule, in Input) (decimal.Decimal, error) {
	if r.Formula == nil {
		return decimal.Zero, generic.FormulaError(r.Code(), fmt.Errorf("rule has no formula"))
	}
	pct, err := in.Registry.Percentage(r.Formula, catalog.FormulaContext{
		ActivityCount: in.Attributes.ActivityCount,
		TenureYears:   in.Attributes.TenureYears,
	})
	if err != nil {
		return decimal.Zero, generic.FormulaError(r.Code(), err)
	}
	return capRule(r, pct), nil
}

// capRule applies the rule's own maxDescuento.
func capRule(r *Rule, pct decimal.Decimal) decimal.Decimal {
	if r.Source.MaxDiscount != nil && pct.GreaterThan(*r.Source.MaxDiscount) {
		return *r.Source.MaxDiscount
	}
	return pct
}

// =============================================================================
// NAMED COMBINATION FUNCTIONS
// =============================================================================

// CombinationFunc returns the percentage of a PERSONALIZADO rule.
type CombinationFunc func(r *Rule, in Input) (decimal.Decimal, error)

const (
	FuncLargestFamilyDiscount = "mayor_descuento_familiar"
	FuncActivitySteps         = "escalado_actividades"
)

// DefaultActivitySteps is used by escalado_actividades when the rule has no
// Escalado formula of its own.
var DefaultActivitySteps = catalog.Escalado{Steps: []catalog.Step{
	{MinCount: 2, Percentage: decimal.NewFromInt(10)},
	{MinCount: 3, Percentage: decimal.NewFromInt(20)},
}}

// Functions is a registry of named combination functions. Build one per
// engine with NewFunctions and register extras before loading rules.
type Functions struct {
	byName map[string]CombinationFunc
}

// NewFunctions returns a registry holding the built-in functions.
func NewFunctions() *Functions {
	return &Functions{byName: map[string]CombinationFunc{
		FuncLargestFamilyDiscount: largestFamilyDiscount,
		FuncActivitySteps:         activitySteps,
	}}
}

// Register adds or replaces a named combination function.
func (f *Functions) Register(name string, fn CombinationFunc) {
	f.byName[name] = fn
}

// Has reports whether name is registered. A nil registry holds the
// built-in functions only.
func (f *Functions) Has(name string) bool {
	_, ok := f.lookup(name)
	return ok
}

func (f *Functions) lookup(name string) (CombinationFunc, bool) {
	if f == nil {
		f = NewFunctions()
	}
	fn, ok := f.byName[name]
	return fn, ok
}

// largestFamilyDiscount takes the largest percentage among the person's
// active family relations, filtered by the rule's relation kinds if any.
func largestFamilyDiscount(r *Rule, in Input) (decimal.Decimal, error) {
	filter := HasFamilyRelation{}
	if c, ok := r.Condition.(HasFamilyRelation); ok {
		filter = c
	}
	best := decimal.Zero
	for _, rel := range in.Attributes.FamilyRelations {
		one := Attributes{FamilyRelations: []generic.FamilyRelation{rel}}
		if !filter.Matches(one) {
			continue
		}
		if rel.Percentage.GreaterThan(best) {
			best = rel.Percentage
		}
	}
	return best, nil
}

func activitySteps(r *Rule, in Input) (decimal.Decimal, error) {
	steps := DefaultActivitySteps
	if e, ok := r.Formula.(catalog.Escalado); ok {
		steps = e
	}
	return steps.PercentageFor(in.Attributes.ActivityCount), nil
}
