package composer_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/composer"
	"github.com/warp/fee-engine/discount"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var march = generic.NewPeriod(2025, time.March)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newEnv builds an Env over the default catalog, one ACTIVO category of
// 10000 and the given rule documents.
func newEnv(t *testing.T, cfg generic.DiscountConfig, docs ...string) composer.Env {
	t.Helper()
	f := factory.NewRuleFactory(nil)
	var records []generic.DiscountRule
	for _, doc := range docs {
		r, err := f.ParseRule(doc)
		require.NoError(t, err)
		records = append(records, *r)
	}
	reg := catalog.NewRegistry()
	engine, err := discount.Load(records, cfg, reg)
	require.NoError(t, err)
	return composer.Env{
		Catalog:  catalog.NewSnapshot(catalog.DefaultCategories(), catalog.SystemTypes()),
		Registry: reg,
		Rules:    engine,
		Fees: map[string]generic.MemberCategory{
			"ACTIVO": {Code: "ACTIVO", Name: "Activo", BaseAmount: dec("10000"), Active: true},
		},
	}
}

func member(participations ...generic.Participation) composer.PersonInputs {
	return composer.PersonInputs{
		Person:         generic.Person{ID: "socio-1", Name: "Ana", EnrolledAt: generic.Date(2020, time.January, 1)},
		CategoryCode:   "ACTIVO",
		Participations: participations,
	}
}

func natacion() generic.Participation {
	return generic.Participation{
		ID:            "part-1",
		PersonID:      "socio-1",
		ActivityID:    "natacion",
		ActivityName:  "Natación",
		StandardPrice: dec("2000"),
		From:          generic.Date(2025, time.January, 1),
		Active:        true,
	}
}

func inForce(kind generic.ExemptionKind, pct string, base, activities bool) generic.Exemption {
	return generic.Exemption{
		ID:                  generic.ExemptionID("ex-" + pct),
		PersonID:            "socio-1",
		Kind:                kind,
		Percentage:          dec(pct),
		AppliesToBase:       base,
		AppliesToActivities: activities,
		Motive:              "beca",
		ValidFrom:           generic.Date(2025, time.January, 1),
		State:               generic.ExemptionInForce,
		Active:              true,
	}
}

func itemsOf(comp composer.Composition, code string) []generic.Item {
	var out []generic.Item
	for _, it := range comp.Items {
		if it.TypeCode == code {
			out = append(out, it)
		}
	}
	return out
}

func assertBalanced(t *testing.T, comp composer.Composition) {
	t.Helper()
	assert.True(t, generic.TotalMatches(comp.Total, comp.Items),
		"total %s does not match items sum %s", comp.Total, generic.SumItems(comp.Items))
	assert.False(t, comp.Total.IsNegative(), "total is negative")
}

// =============================================================================
// BASE AND ACTIVITIES
// =============================================================================

func TestCompose_BaseAndActivity(t *testing.T) {
	// GIVEN: ACTIVO at 10000 and one activity at 2000
	env := newEnv(t, generic.DefaultDiscountConfig())

	// WHEN: Composing March
	comp, err := composer.Compose(member(natacion()), env, march)

	// THEN: Two items, total 12000
	require.NoError(t, err)
	require.Len(t, comp.Items, 2)
	assert.Equal(t, generic.TypeCuotaBase, comp.Items[0].TypeCode)
	assert.True(t, dec("10000").Equal(comp.Items[0].Amount))
	assert.Equal(t, "Cuota Activo", comp.Items[0].Concept)
	assert.Equal(t, generic.TypeActividad, comp.Items[1].TypeCode)
	assert.True(t, dec("2000").Equal(comp.Items[1].Amount))
	assert.Equal(t, "natacion", comp.Items[1].Metadata[generic.MetaActivityID])
	assert.Equal(t, "12000", comp.Total.StringFixed(0))
	assert.Equal(t, 1, comp.Items[0].Order)
	assert.Equal(t, 2, comp.Items[1].Order)
	assertBalanced(t, comp)
}

func TestCompose_SpecialPriceWins(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	p := natacion()
	special := dec("1500")
	p.SpecialPrice = &special

	comp, err := composer.Compose(member(p), env, march)

	require.NoError(t, err)
	assert.True(t, dec("11500").Equal(comp.Total))
}

func TestCompose_ParticipationOutsidePeriodIgnored(t *testing.T) {
	// GIVEN: An activity that ended in February
	env := newEnv(t, generic.DefaultDiscountConfig())
	p := natacion()
	end := generic.Date(2025, time.February, 28)
	p.To = &end

	// WHEN: Composing March
	comp, err := composer.Compose(member(p), env, march)

	// THEN: Base only
	require.NoError(t, err)
	assert.Len(t, itemsOf(comp, generic.TypeActividad), 0)
	assert.True(t, dec("10000").Equal(comp.Total))
}

func TestCompose_MissingCategoryIsConfigurationError(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member()
	in.CategoryCode = ""

	_, err := composer.Compose(in, env, march)

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

func TestCompose_UnknownCategoryIsConfigurationError(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member()
	in.CategoryCode = "VITALICIO"

	_, err := composer.Compose(in, env, march)

	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

func TestCompose_MissingSystemTypeIsConfigurationError(t *testing.T) {
	// GIVEN: A catalog without CUOTA_BASE
	env := newEnv(t, generic.DefaultDiscountConfig())
	var types []generic.ItemType
	for _, it := range catalog.SystemTypes() {
		if it.Code != generic.TypeCuotaBase {
			types = append(types, it)
		}
	}
	env.Catalog = catalog.NewSnapshot(catalog.DefaultCategories(), types)

	_, err := composer.Compose(member(), env, march)

	assert.ErrorIs(t, err, generic.ErrConfiguration)
}

// =============================================================================
// RULE DISCOUNTS
// =============================================================================

func TestCompose_FamilyDiscount(t *testing.T) {
	// GIVEN: A 15% family rule on the base and an active relation
	env := newEnv(t, generic.DefaultDiscountConfig(),
		factory.FamilyDiscountJSON("FAMILIAR_15", "Descuento familiar", 15))
	in := member(natacion())
	in.FamilyRelations = []generic.FamilyRelation{{
		ID:   "rel-1", PersonID: "socio-1", RelatedPersonID: "socio-2",
		Kind: "HERMANO", Percentage: dec("15"), Active: true,
	}}

	// WHEN: Composing
	comp, err := composer.Compose(in, env, march)

	// THEN: One DESCUENTO of 1500, total 10500
	require.NoError(t, err)
	discounts := itemsOf(comp, generic.TypeDescuentoRegla)
	require.Len(t, discounts, 1)
	assert.True(t, dec("1500").Equal(discounts[0].Amount))
	assert.Equal(t, generic.CategoryDescuento, discounts[0].Category)
	assert.Equal(t, "FAMILIAR_15", discounts[0].Metadata[generic.MetaRuleCode])
	require.NotNil(t, discounts[0].Percentage)
	assert.True(t, dec("15").Equal(*discounts[0].Percentage))
	assert.True(t, dec("10500").Equal(comp.Total))
	require.Len(t, comp.Outcomes, 1)
	assertBalanced(t, comp)
}

func TestCompose_RuleWithoutMatchAddsNothing(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig(),
		factory.FamilyDiscountJSON("FAMILIAR_15", "Descuento familiar", 15))

	comp, err := composer.Compose(member(natacion()), env, march)

	require.NoError(t, err)
	assert.Empty(t, itemsOf(comp, generic.TypeDescuentoRegla))
	assert.True(t, dec("12000").Equal(comp.Total))
}

func TestCompose_GlobalCapTruncatesLaterRule(t *testing.T) {
	// GIVEN: Two accumulative base rules of 50% and 40% under the 80% cap
	env := newEnv(t, generic.DefaultDiscountConfig(),
		factory.CategoryDiscountJSON("A", "A", []string{"ACTIVO"}, 50),
		`{"codigo":"B","nombre":"B","prioridad":50,"condicion":{"tipo":"siempre"},
		  "formula":{"version":1,"type":"PorcentajeFijo","params":{"porcentaje":"40"}},
		  "modoAplicacion":"ACUMULATIVO","aplicaBase":true}`)

	// WHEN: Composing without activities
	comp, err := composer.Compose(member(), env, march)

	// THEN: 50% then 30% (capped), total 2000
	require.NoError(t, err)
	discounts := itemsOf(comp, generic.TypeDescuentoRegla)
	require.Len(t, discounts, 2)
	assert.True(t, dec("5000").Equal(discounts[0].Amount))
	assert.True(t, dec("3000").Equal(discounts[1].Amount))
	assert.NotEmpty(t, discounts[1].Metadata[generic.MetaWarning])
	assert.True(t, dec("2000").Equal(comp.Total))
	assertBalanced(t, comp)
}

// =============================================================================
// EXEMPTIONS
// =============================================================================

func TestCompose_TotalExemptionSuppressesBase(t *testing.T) {
	// GIVEN: A TOTAL exemption in force
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	in.Exemptions = []generic.Exemption{inForce(generic.ExemptionTotal, "100", true, false)}

	// WHEN: Composing
	comp, err := composer.Compose(in, env, march)

	// THEN: No base item; activities still charged
	require.NoError(t, err)
	assert.Empty(t, itemsOf(comp, generic.TypeCuotaBase))
	assert.True(t, dec("2000").Equal(comp.Total))
	assertBalanced(t, comp)
}

func TestCompose_TotalExemptionOnActivities(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	in.Exemptions = []generic.Exemption{inForce(generic.ExemptionTotal, "100", true, true)}

	comp, err := composer.Compose(in, env, march)

	require.NoError(t, err)
	assert.Len(t, itemsOf(comp, generic.TypeDescuentoExencion), 1)
	assert.True(t, comp.Total.IsZero())
	assertBalanced(t, comp)
}

func TestCompose_PendingExemptionHasNoEffect(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	e := inForce(generic.ExemptionTotal, "100", true, false)
	e.State = generic.ExemptionPending
	in.Exemptions = []generic.Exemption{e}

	comp, err := composer.Compose(in, env, march)

	require.NoError(t, err)
	assert.True(t, dec("12000").Equal(comp.Total))
}

func TestCompose_PartialExemptionOnActivities(t *testing.T) {
	// GIVEN: A 50% PARCIAL exemption on activities only
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	in.Exemptions = []generic.Exemption{inForce(generic.ExemptionPartial, "50", false, true)}

	// WHEN: Composing
	comp, err := composer.Compose(in, env, march)

	// THEN: 1000 off the activities
	require.NoError(t, err)
	ex := itemsOf(comp, generic.TypeDescuentoExencion)
	require.Len(t, ex, 1)
	assert.True(t, dec("1000").Equal(ex[0].Amount))
	assert.True(t, dec("11000").Equal(comp.Total))
	assertBalanced(t, comp)
}

func TestCompose_SeveralPartialExemptionsTakeLargest(t *testing.T) {
	// GIVEN: Two eligible PARCIAL exemptions on the base, 20% and 30%
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	in.Exemptions = []generic.Exemption{
		inForce(generic.ExemptionPartial, "20", true, false),
		inForce(generic.ExemptionPartial, "30", true, false),
	}

	// WHEN: Composing
	comp, err := composer.Compose(in, env, march)

	// THEN: Only 30% applies and a warning is raised
	require.NoError(t, err)
	ex := itemsOf(comp, generic.TypeDescuentoExencion)
	require.Len(t, ex, 1)
	assert.True(t, dec("3000").Equal(ex[0].Amount))
	assert.True(t, dec("9000").Equal(comp.Total))
	assert.Len(t, comp.Warnings, 1)
}

func TestCompose_PartialExemptionAppliesAfterRules(t *testing.T) {
	// GIVEN: 15% family rule, then a 50% PARCIAL exemption on the base
	env := newEnv(t, generic.DefaultDiscountConfig(),
		factory.FamilyDiscountJSON("FAMILIAR_15", "Descuento familiar", 15))
	in := member()
	in.FamilyRelations = []generic.FamilyRelation{{ID: "rel-1", PersonID: "socio-1", Kind: "HIJO", Percentage: dec("15"), Active: true}}
	in.Exemptions = []generic.Exemption{inForce(generic.ExemptionPartial, "50", true, false)}

	comp, err := composer.Compose(in, env, march)

	// THEN: 10000 - 1500 = 8500, half of it exempted
	require.NoError(t, err)
	ex := itemsOf(comp, generic.TypeDescuentoExencion)
	require.Len(t, ex, 1)
	assert.True(t, dec("4250").Equal(ex[0].Amount))
	assert.True(t, dec("4250").Equal(comp.Total))
}

// =============================================================================
// MANUAL ADJUSTMENTS
// =============================================================================

func adjustmentOf(id string, code string, mode generic.AdjustmentMode, value string, target generic.AdjustmentTarget) generic.Adjustment {
	return generic.Adjustment{
		ID:        generic.AdjustmentID(id),
		PersonID:  "socio-1",
		TypeCode:  code,
		Concept:   "ajuste " + id,
		Mode:      mode,
		Value:     dec(value),
		AppliesTo: target,
		Validity:  generic.PeriodRange{From: march},
		Active:    true,
		CreatedAt: time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCompose_AdjustmentsReplayed(t *testing.T) {
	// GIVEN: A fixed surcharge and a 10% discount on activities
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	in.Adjustments = []generic.Adjustment{
		adjustmentOf("adj-1", generic.TypeAjusteRecargo, generic.AdjustmentFixed, "500", generic.TargetAll),
		adjustmentOf("adj-2", generic.TypeAjusteDescuento, generic.AdjustmentPercentage, "10", generic.TargetActivities),
	}

	// WHEN: Composing
	comp, err := composer.Compose(in, env, march)

	// THEN: +500 and -200
	require.NoError(t, err)
	assert.Len(t, itemsOf(comp, generic.TypeAjusteRecargo), 1)
	down := itemsOf(comp, generic.TypeAjusteDescuento)
	require.Len(t, down, 1)
	assert.True(t, dec("200").Equal(down[0].Amount))
	assert.True(t, down[0].Editable)
	assert.False(t, down[0].Automatic)
	assert.Equal(t, "adj-2", down[0].Metadata[generic.MetaAdjustmentID])
	assert.True(t, dec("12300").Equal(comp.Total))
	assertBalanced(t, comp)
}

func TestCompose_AdjustmentOutsideValidityIgnored(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member()
	a := adjustmentOf("adj-1", generic.TypeAjusteRecargo, generic.AdjustmentFixed, "500", generic.TargetAll)
	a.Validity = generic.PeriodRange{From: march.Next()}
	in.Adjustments = []generic.Adjustment{a}

	comp, err := composer.Compose(in, env, march)

	require.NoError(t, err)
	assert.True(t, dec("10000").Equal(comp.Total))
}

func TestCompose_AdjustmentBoundToOtherCuotaIgnored(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member()
	in.CuotaID = "cuota-1"
	a := adjustmentOf("adj-1", generic.TypeAjusteRecargo, generic.AdjustmentFixed, "500", generic.TargetAll)
	other := generic.CuotaID("cuota-2")
	a.CuotaID = &other
	in.Adjustments = []generic.Adjustment{a}

	comp, err := composer.Compose(in, env, march)

	require.NoError(t, err)
	assert.True(t, dec("10000").Equal(comp.Total))
}

func TestCompose_SubtractiveAdjustmentTruncatedAtZero(t *testing.T) {
	// GIVEN: A fixed discount larger than the whole cuota
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member(natacion())
	in.Adjustments = []generic.Adjustment{
		adjustmentOf("adj-1", generic.TypeAjusteDescuento, generic.AdjustmentFixed, "20000", generic.TargetAll),
	}

	// WHEN: Composing
	comp, err := composer.Compose(in, env, march)

	// THEN: Truncated to 12000, total zero, warning raised
	require.NoError(t, err)
	down := itemsOf(comp, generic.TypeAjusteDescuento)
	require.Len(t, down, 1)
	assert.True(t, dec("12000").Equal(down[0].Amount))
	assert.True(t, comp.Total.IsZero())
	assert.NotEmpty(t, comp.Warnings)
	assertBalanced(t, comp)
}

func TestCompose_AdjustmentWithUnknownTypeSkipped(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig())
	in := member()
	in.Adjustments = []generic.Adjustment{
		adjustmentOf("adj-1", "BORRADO", generic.AdjustmentFixed, "500", generic.TargetAll),
	}

	comp, err := composer.Compose(in, env, march)

	require.NoError(t, err)
	assert.True(t, dec("10000").Equal(comp.Total))
	assert.Len(t, comp.Warnings, 1)
}

func TestCompose_IsDeterministic(t *testing.T) {
	env := newEnv(t, generic.DefaultDiscountConfig(),
		factory.ActivityStepsJSON("ESCALADO", "Escalado"))
	tenis := natacion()
	tenis.ID = "part-2"
	tenis.ActivityID = "tenis"
	tenis.ActivityName = "Tenis"
	tenis.StandardPrice = dec("3000")
	in := member(tenis, natacion())

	first, err := composer.Compose(in, env, march)
	require.NoError(t, err)
	second, err := composer.Compose(in, env, march)
	require.NoError(t, err)

	require.Equal(t, len(first.Items), len(second.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].TypeCode, second.Items[i].TypeCode)
		assert.True(t, first.Items[i].Amount.Equal(second.Items[i].Amount))
	}
	// Activities sorted by name: Natación before Tenis
	acts := itemsOf(first, generic.TypeActividad)
	require.Len(t, acts, 2)
	assert.Equal(t, "Natación", acts[0].Concept)
	// 10% of 5000 for two activities
	assert.True(t, dec("14500").Equal(first.Total))
}
