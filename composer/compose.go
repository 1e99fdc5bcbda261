/*
Package composer builds the priced line items of a cuota.

PURPOSE:
  Compose turns one person's inputs for one period into an ordered list of
  items and a total. It is pure: no store access, no clock, no randomness.
  Given the same inputs it returns the same amounts, which is what makes
  regeneration idempotent.

ITEM ORDER:
  1. BASE        CUOTA_BASE at the member category's amount (suppressed by
                 an eligible TOTAL exemption)
  2. ACTIVIDAD   one per participation active in the period, by activity
                 name then participation id
  3. DESCUENTO   one per effective discount rule outcome, in rule order
  4. DESCUENTO   the exemption discount on the post-rule subtotals
  5. manual      one per adjustment replayed into the period, in creation
                 order; the item type's category gives the sign

  total = Σ signed items. A subtractive adjustment never takes the running
  total below zero; it is truncated and the composition carries a warning.

ERRORS:
  CONFIGURATION  no active membership category, or no amount for it, or a
                 system item type missing from the catalog
  FORMULA        a calculated type's formula cannot be evaluated

SEE ALSO:
  - loader.go: Builds Env and PersonInputs with bulk reads
  - service.go: Persists compositions
*/
package composer

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/discount"
	"github.com/warp/fee-engine/exemption"
	"github.com/warp/fee-engine/generic"
)

// Env is the run-wide, read-only state shared by every composition.
type Env struct {
	Catalog  *catalog.Snapshot
	Registry *catalog.Registry
	// Rules is nil when no rule is active.
	Rules *discount.Engine
	// Fees maps member category code to its configuration.
	Fees map[string]generic.MemberCategory
}

// PersonInputs is everything Compose reads about one person.
type PersonInputs struct {
	Person       generic.Person
	CategoryCode string
	// CuotaID is set when recomposing an existing cuota, so adjustments
	// bound to that cuota are replayed.
	CuotaID         generic.CuotaID
	Participations  []generic.Participation
	FamilyRelations []generic.FamilyRelation
	Exemptions      []generic.Exemption
	Adjustments     []generic.Adjustment
}

// Composition is the result of composing one cuota. Items carry no IDs or
// timestamps; the service assigns them when persisting.
type Composition struct {
	PersonID     generic.PersonID
	Period       generic.Period
	CategoryCode string
	Items        []generic.Item
	Total        decimal.Decimal
	Outcomes     []discount.Outcome
	Warnings     []string
}

// subtotals tracks the running amounts per target.
type subtotals struct {
	base       decimal.Decimal
	activities decimal.Decimal
	total      decimal.Decimal
}

func Compose(in PersonInputs, env Env, period generic.Period) (Composition, error) {
	comp := Composition{
		PersonID:     in.Person.ID,
		Period:       period,
		CategoryCode: in.CategoryCode,
		Total:        decimal.Zero,
	}
	if err := period.Validate(); err != nil {
		return comp, err
	}
	if env.Catalog == nil {
		return comp, generic.Configurationf("no catalog loaded")
	}
	if in.CategoryCode == "" {
		return comp, generic.Configurationf("person %s has no active membership category", in.Person.ID)
	}
	fee, ok := env.Fees[in.CategoryCode]
	if !ok || !fee.Active {
		return comp, generic.Configurationf("membership category %s has no configured base amount", in.CategoryCode)
	}
	if fee.BaseAmount.IsNegative() {
		return comp, generic.Configurationf("membership category %s has a negative base amount", in.CategoryCode)
	}

	day := period.BillingDate()
	effect := exemption.EffectOn(in.Exemptions, day)
	if effect.MultiplePartial() {
		comp.Warnings = append(comp.Warnings, fmt.Sprintf(
			"%d partial exemptions eligible, applying the largest (%s%%)",
			effect.PartialCount, effect.Partial.Percentage))
	}

	b := &builder{env: env, comp: &comp}

	// 1. Base
	if effect.Total == nil {
		if err := b.base(fee); err != nil {
			return comp, err
		}
	}

	// 2. Activities
	active := activeParticipations(in.Participations, period)
	for i := range active {
		if err := b.activity(active[i]); err != nil {
			return comp, err
		}
	}

	// 3. Rule discounts
	gross := b.sub
	if env.Rules != nil {
		attrs := discount.Attributes{
			PersonID:        in.Person.ID,
			CategoryCode:    in.CategoryCode,
			FamilyRelations: activeRelations(in.FamilyRelations),
			ActivityCount:   len(active),
			TenureYears:     generic.YearsBetween(in.Person.EnrolledAt, day),
		}
		outcomes, err := env.Rules.Evaluate(attrs, gross.base, gross.activities)
		if err != nil {
			return comp, err
		}
		comp.Outcomes = outcomes
		for _, o := range outcomes {
			if err := b.ruleDiscount(o); err != nil {
				return comp, err
			}
		}
	}

	// 4. Exemption discount
	if effect.Total != nil && effect.Total.AppliesToActivities {
		if err := b.exemptionDiscount(*effect.Total, false, true); err != nil {
			return comp, err
		}
	}
	if effect.Partial != nil {
		if err := b.exemptionDiscount(*effect.Partial, effect.Partial.AppliesToBase, effect.Partial.AppliesToActivities); err != nil {
			return comp, err
		}
	}

	// 5. Manual adjustments
	for _, a := range replayable(in.Adjustments, period, in.CuotaID) {
		if err := b.adjustment(a, gross); err != nil {
			return comp, err
		}
	}

	// 6. Total
	comp.Total = generic.RoundMoney(generic.SumItems(comp.Items))
	return comp, nil
}

type builder struct {
	env  Env
	comp *Composition
	sub  subtotals
}

func (b *builder) systemType(code string) (generic.ItemType, error) {
	return b.env.Catalog.MustType(code)
}

func (b *builder) amount(code string, ctx catalog.FormulaContext) (decimal.Decimal, error) {
	f, err := b.env.Catalog.FormulaFor(code)
	if err != nil {
		return decimal.Zero, err
	}
	if b.env.Registry == nil {
		return decimal.Zero, generic.FormulaError(code, fmt.Errorf("no formula registry"))
	}
	return b.env.Registry.Amount(f, ctx)
}

func (b *builder) add(t generic.ItemType, it generic.Item) {
	it.TypeCode = t.Code
	it.Category = t.Category
	if it.Quantity <= 0 {
		it.Quantity = 1
	}
	it.Order = len(b.comp.Items) + 1
	b.comp.Items = append(b.comp.Items, it)
	b.sub.total = b.sub.total.Add(it.SignedTotal())
}

func (b *builder) base(fee generic.MemberCategory) error {
	t, err := b.systemType(generic.TypeCuotaBase)
	if err != nil {
		return err
	}
	amount, err := b.amount(t.Code, catalog.FormulaContext{CategoryAmount: &fee.BaseAmount})
	if err != nil {
		return err
	}
	b.add(t, generic.Item{
		Concept:   "Cuota " + fee.Name,
		Amount:    amount,
		Automatic: true,
		Editable:  t.Configurable,
	})
	b.sub.base = amount
	return nil
}

func (b *builder) activity(p generic.Participation) error {
	t, err := b.systemType(generic.TypeActividad)
	if err != nil {
		return err
	}
	amount, err := b.amount(t.Code, catalog.FormulaContext{Participation: &p})
	if err != nil {
		return err
	}
	b.add(t, generic.Item{
		Concept:   p.ActivityName,
		Amount:    amount,
		Automatic: true,
		Editable:  t.Configurable,
		Metadata:  map[string]string{generic.MetaActivityID: p.ActivityID},
	})
	b.sub.activities = b.sub.activities.Add(amount)
	return nil
}

func (b *builder) ruleDiscount(o discount.Outcome) error {
	t, err := b.systemType(generic.TypeDescuentoRegla)
	if err != nil {
		return err
	}
	pct := o.Percentage
	meta := map[string]string{
		generic.MetaRuleCode:   o.RuleCode,
		generic.MetaPercentage: pct.String(),
		generic.MetaMode:       string(o.Mode),
	}
	if o.Capped {
		meta[generic.MetaWarning] = "limited by the total discount cap"
	}
	b.add(t, generic.Item{
		Concept:    o.RuleName,
		Amount:     o.Amount(),
		Percentage: &pct,
		Automatic:  true,
		Editable:   t.Configurable,
		Metadata:   meta,
	})
	b.sub.base = b.sub.base.Sub(o.BaseDiscount)
	b.sub.activities = b.sub.activities.Sub(o.ActivitiesDiscount)
	return nil
}

// exemptionDiscount discounts e's percentage of the current subtotals of
// the selected targets.
func (b *builder) exemptionDiscount(e generic.Exemption, onBase, onActivities bool) error {
	baseCut, actCut := decimal.Zero, decimal.Zero
	if onBase {
		baseCut = decimal.Min(generic.PercentOf(b.sub.base, e.Percentage), b.sub.base)
	}
	if onActivities {
		actCut = decimal.Min(generic.PercentOf(b.sub.activities, e.Percentage), b.sub.activities)
	}
	amount := baseCut.Add(actCut)
	if !amount.IsPositive() {
		return nil
	}

	t, err := b.systemType(generic.TypeDescuentoExencion)
	if err != nil {
		return err
	}
	pct := e.Percentage
	b.add(t, generic.Item{
		Concept:    exemptionConcept(e),
		Amount:     amount,
		Percentage: &pct,
		Automatic:  true,
		Editable:   t.Configurable,
		Metadata: map[string]string{
			generic.MetaExemptionID: string(e.ID),
			generic.MetaPercentage:  pct.String(),
		},
	})
	b.sub.base = b.sub.base.Sub(baseCut)
	b.sub.activities = b.sub.activities.Sub(actCut)
	return nil
}

func exemptionConcept(e generic.Exemption) string {
	if e.Motive != "" {
		return fmt.Sprintf("Exención %s (%s)", e.Kind, e.Motive)
	}
	return fmt.Sprintf("Exención %s", e.Kind)
}

// adjustment replays a manual adjustment. Percentages apply to the gross
// subtotal of the adjustment's target.
func (b *builder) adjustment(a generic.Adjustment, gross subtotals) error {
	t, ok := b.env.Catalog.Type(a.TypeCode)
	if !ok {
		b.comp.Warnings = append(b.comp.Warnings, fmt.Sprintf(
			"adjustment %s skipped: item type %s is missing or inactive", a.ID, a.TypeCode))
		return nil
	}

	var amount decimal.Decimal
	var pct *decimal.Decimal
	switch a.Mode {
	case generic.AdjustmentPercentage:
		v := a.Value
		pct = &v
		amount = generic.PercentOf(targetAmount(a.AppliesTo, gross), v)
	default:
		amount = generic.RoundMoney(a.Value)
	}

	meta := map[string]string{generic.MetaAdjustmentID: string(a.ID)}
	if t.Category.Subtractive() && amount.GreaterThan(b.sub.total) {
		amount = decimal.Max(b.sub.total, decimal.Zero)
		meta[generic.MetaWarning] = "truncated so the total is not negative"
		b.comp.Warnings = append(b.comp.Warnings, fmt.Sprintf(
			"adjustment %s truncated to %s so the total is not negative", a.ID, amount))
	}
	if !amount.IsPositive() {
		return nil
	}

	b.add(t, generic.Item{
		Concept:    a.Concept,
		Amount:     amount,
		Percentage: pct,
		Automatic:  false,
		Editable:   t.Configurable,
		Metadata:   meta,
	})
	return nil
}

func targetAmount(target generic.AdjustmentTarget, s subtotals) decimal.Decimal {
	switch target {
	case generic.TargetBase:
		return s.base
	case generic.TargetActivities:
		return s.activities
	default:
		return s.base.Add(s.activities)
	}
}

// =============================================================================
// INPUT FILTERS
// =============================================================================

func activeParticipations(ps []generic.Participation, period generic.Period) []generic.Participation {
	out := make([]generic.Participation, 0, len(ps))
	for _, p := range ps {
		if p.ActiveIn(period) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ActivityName != out[j].ActivityName {
			return out[i].ActivityName < out[j].ActivityName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func activeRelations(rs []generic.FamilyRelation) []generic.FamilyRelation {
	out := make([]generic.FamilyRelation, 0, len(rs))
	for _, r := range rs {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

func replayable(as []generic.Adjustment, period generic.Period, cuotaID generic.CuotaID) []generic.Adjustment {
	out := make([]generic.Adjustment, 0, len(as))
	for _, a := range as {
		if a.AppliesIn(period, cuotaID) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
