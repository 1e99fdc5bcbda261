/*
Package discount evaluates discount rules for one person.

PURPOSE:
  Given a person's attributes and the amounts composed so far, decides
  which rules apply and how much each one discounts.

HOW IT WORKS:
  1. Rules are ordered once per run: configured priority codes first, then
     ascending priority, then code.
  2. Each rule's condition is matched independently.
  3. Matching rules are grouped by application mode and each group is
     resolved by its Combiner:
       ACUMULATIVO    every rule applies (each capped by its maxDescuento)
       EXCLUSIVO      only the first matching rule applies
       MAXIMO         only the largest percentage applies
       PERSONALIZADO  each rule's named function computes its percentage
  4. The global cap (DiscountConfig.TotalLimit) truncates the combined
     percentage per target (base, activities), walking outcomes in
     evaluation order. An outcome truncated to zero is dropped.
  5. Percentages become amounts. A target's discounts never exceed the
     target amount.

CONCURRENCY:
  An Engine is immutable after construction and safe for concurrent use.

SEE ALSO:
  - condition.go, rule.go, combiner.go
  - composer/compose.go: Turns outcomes into DESCUENTO items
*/
package discount

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/generic"
)

// Outcome is one effective rule after combination and capping.
type Outcome struct {
	RuleCode            string
	RuleName            string
	Mode                generic.ApplicationMode
	Percentage          decimal.Decimal
	AppliesToBase       bool
	AppliesToActivities bool
	// Capped is set when the global cap reduced the rule's percentage.
	Capped bool

	BaseDiscount       decimal.Decimal
	ActivitiesDiscount decimal.Decimal
}

// Amount is the total discount of the outcome.
func (o Outcome) Amount() decimal.Decimal {
	return o.BaseDiscount.Add(o.ActivitiesDiscount)
}

type Engine struct {
	rules     []*Rule
	rank      map[string]int
	config    generic.DiscountConfig
	registry  *catalog.Registry
	functions *Functions
	combiners map[generic.ApplicationMode]Combiner
}

// NewEngine builds an engine over rules already in evaluation order.
func NewEngine(rules []*Rule, cfg generic.DiscountConfig, reg *catalog.Registry, fns *Functions) *Engine {
	if fns == nil {
		fns = NewFunctions()
	}
	rank := make(map[string]int, len(rules))
	for i, r := range rules {
		rank[r.Code()] = i
	}
	return &Engine{
		rules:     rules,
		rank:      rank,
		config:    cfg,
		registry:  reg,
		functions: fns,
		combiners: DefaultCombiners(),
	}
}

// Load compiles the stored rules and builds an engine with the built-in
// combination functions.
func Load(records []generic.DiscountRule, cfg generic.DiscountConfig, reg *catalog.Registry) (*Engine, error) {
	return LoadWith(records, cfg, reg, NewFunctions())
}

// LoadWith is Load with an explicit function registry.
func LoadWith(records []generic.DiscountRule, cfg generic.DiscountConfig, reg *catalog.Registry, fns *Functions) (*Engine, error) {
	rules, err := CompileAll(records, cfg.PriorityOrder, fns)
	if err != nil {
		return nil, err
	}
	return NewEngine(rules, cfg, reg, fns), nil
}

func (e *Engine) Rules() []*Rule                 { return e.rules }
func (e *Engine) Config() generic.DiscountConfig { return e.config }

// Evaluate returns the effective outcomes in evaluation order.
func (e *Engine) Evaluate(attrs Attributes, base, activities decimal.Decimal) ([]Outcome, error) {
	byMode := make(map[generic.ApplicationMode][]*Rule)
	var modes []generic.ApplicationMode
	for _, r := range e.rules {
		if !r.Condition.Matches(attrs) {
			continue
		}
		if _, seen := byMode[r.Mode()]; !seen {
			modes = append(modes, r.Mode())
		}
		byMode[r.Mode()] = append(byMode[r.Mode()], r)
	}

	in := Input{Attributes: attrs, Registry: e.registry, Functions: e.functions}
	var candidates []Candidate
	for _, mode := range modes {
		combiner, ok := e.combiners[mode]
		if !ok {
			continue
		}
		resolved, err := combiner.Combine(byMode[mode], in)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, resolved...)
	}
	sortCandidates(candidates, e.rank)

	return e.applyCap(candidates, base, activities), nil
}

func (e *Engine) applyCap(candidates []Candidate, base, activities decimal.Decimal) []Outcome {
	limit := e.config.Limit()
	usedBase, usedActivities := decimal.Zero, decimal.Zero
	leftBase, leftActivities := base, activities

	outcomes := make([]Outcome, 0, len(candidates))
	for _, c := range candidates {
		src := c.Rule.Source
		pct := c.Percentage
		if src.AppliesToBase {
			pct = decimal.Min(pct, limit.Sub(usedBase))
		}
		if src.AppliesToActivities {
			pct = decimal.Min(pct, limit.Sub(usedActivities))
		}
		if !pct.IsPositive() {
			continue
		}

		o := Outcome{
			RuleCode:            src.Code,
			RuleName:            src.Name,
			Mode:                src.Mode,
			Percentage:          pct,
			AppliesToBase:       src.AppliesToBase,
			AppliesToActivities: src.AppliesToActivities,
			Capped:              pct.LessThan(c.Percentage),
			BaseDiscount:        decimal.Zero,
			ActivitiesDiscount:  decimal.Zero,
		}
		if src.AppliesToBase {
			usedBase = usedBase.Add(pct)
			o.BaseDiscount = decimal.Min(generic.PercentOf(base, pct), leftBase)
			leftBase = leftBase.Sub(o.BaseDiscount)
		}
		if src.AppliesToActivities {
			usedActivities = usedActivities.Add(pct)
			o.ActivitiesDiscount = decimal.Min(generic.PercentOf(activities, pct), leftActivities)
			leftActivities = leftActivities.Sub(o.ActivitiesDiscount)
		}
		if !o.Amount().IsPositive() {
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func sortCandidates(cs []Candidate, rank map[string]int) {
	sort.SliceStable(cs, func(i, j int) bool {
		return rank[cs[i].Rule.Code()] < rank[cs[j].Rule.Code()]
	})
}
