package discount

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// COMPILED RULE
// =============================================================================

// Rule is a DiscountRule with its descriptors parsed.
type Rule struct {
	Source    generic.DiscountRule
	Condition Condition
	// Formula is nil for PERSONALIZADO rules that rely only on their function.
	Formula catalog.Formula
}

func (r *Rule) Code() string                  { return r.Source.Code }
func (r *Rule) Mode() generic.ApplicationMode { return r.Source.Mode }

// Compile validates a stored rule against fns (nil means the built-in
// functions). Errors are FORMULA errors naming the rule.
func Compile(src generic.DiscountRule, fns *Functions) (*Rule, error) {
	if src.Code == "" {
		return nil, generic.Validationf("rule code is required")
	}
	if !src.Mode.Valid() {
		return nil, generic.FormulaError(src.Code, fmt.Errorf("unknown application mode %q", src.Mode))
	}
	if !src.AppliesToBase && !src.AppliesToActivities {
		return nil, generic.FormulaError(src.Code, fmt.Errorf("rule applies to neither base nor activities"))
	}
	if src.MaxDiscount != nil {
		if src.MaxDiscount.IsNegative() || src.MaxDiscount.GreaterThan(generic.MustParseDecimal("100")) {
			return nil, generic.FormulaError(src.Code, fmt.Errorf("maxDescuento %s out of range", src.MaxDiscount))
		}
	}

	cond, err := ParseCondition(src.Condition)
	if err != nil {
		return nil, generic.FormulaError(src.Code, err)
	}

	rule := &Rule{Source: src, Condition: cond}

	if src.Mode == generic.ModeCustom {
		if !fns.Has(src.CustomFunction) {
			return nil, generic.FormulaError(src.Code, fmt.Errorf("unknown combination function %q", src.CustomFunction))
		}
		if len(bytes.TrimSpace(src.Formula)) == 0 {
			return rule, nil
		}
	}

	f, err := catalog.ParseFormula(src.Formula)
	if err != nil {
		return nil, generic.FormulaError(src.Code, err)
	}
	switch f.Kind() {
	case catalog.KindCategoriaMonto, catalog.KindParticipacion:
		return nil, generic.FormulaError(src.Code, fmt.Errorf("formula %s does not yield a percentage", f.Kind()))
	}
	rule.Formula = f
	return rule, nil
}

// CompileAll compiles every rule and orders them for evaluation: codes
// listed in priorityOrder first (in that order), then ascending priority,
// then code.
func CompileAll(records []generic.DiscountRule, priorityOrder []string, fns *Functions) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(records))
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		r, err := Compile(rec, fns)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	rank := make(map[string]int, len(priorityOrder))
	for i, code := range priorityOrder {
		if _, dup := rank[code]; !dup {
			rank[code] = i
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		ri, iok := rank[rules[i].Code()]
		rj, jok := rank[rules[j].Code()]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		if rules[i].Source.Priority != rules[j].Source.Priority {
			return rules[i].Source.Priority < rules[j].Source.Priority
		}
		return rules[i].Code() < rules[j].Code()
	})
	return rules, nil
}
