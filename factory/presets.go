package factory

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/discount"
)

// =============================================================================
// PRESET RULES
// =============================================================================
//
// Each preset returns a rule document for ParseRule. They are starting
// points for the common discount shapes of an association.

// FamilyDiscountJSON returns an ACUMULATIVO rule that discounts pct% of the
// base fee of anyone with an active family relation.
func FamilyDiscountJSON(code, name string, pct int64) string {
	return marshal(RuleJSON{
		Code:          code,
		Name:          name,
		Priority:      10,
		Condition:     condition(discount.HasFamilyRelation{}),
		Formula:       formula(catalog.PorcentajeFijo{Percentage: decimal.NewFromInt(pct)}),
		Mode:          "ACUMULATIVO",
		AppliesToBase: true,
	})
}

// LargestFamilyDiscountJSON returns a PERSONALIZADO rule granting the
// largest percentage among the person's family relations.
func LargestFamilyDiscountJSON(code, name string) string {
	return marshal(RuleJSON{
		Code:          code,
		Name:          name,
		Priority:      10,
		Condition:     condition(discount.HasFamilyRelation{}),
		Mode:          "PERSONALIZADO",
		Function:      discount.FuncLargestFamilyDiscount,
		AppliesToBase: true,
	})
}

// ActivityStepsJSON returns a PERSONALIZADO rule discounting activity
// charges by count: 2 activities → 10%, 3 or more → 20%.
func ActivityStepsJSON(code, name string) string {
	minCount := 2
	return marshal(RuleJSON{
		Code:      code,
		Name:      name,
		Priority:  20,
		Condition: condition(discount.ActivityCount{Min: minCount}),
		Formula: formula(catalog.Escalado{Steps: []catalog.Step{
			{MinCount: 2, Percentage: decimal.NewFromInt(10)},
			{MinCount: 3, Percentage: decimal.NewFromInt(20)},
		}}),
		Mode:                "PERSONALIZADO",
		Function:            discount.FuncActivitySteps,
		AppliesToActivities: true,
	})
}

// TenureDiscountJSON returns a MAXIMO rule worth perYear% per year of
// membership, up to max%.
func TenureDiscountJSON(code, name string, minYears int, perYear, max int64) string {
	params, _ := json.Marshal(map[string]string{
		"porAnio": decimal.NewFromInt(perYear).String(),
		"maximo":  decimal.NewFromInt(max).String(),
	})
	return marshal(RuleJSON{
		Code:          code,
		Name:          name,
		Priority:      30,
		Condition:     condition(discount.Tenure{MinYears: minYears}),
		Formula:       formula(catalog.Personalizado{Name: "antiguedad_escalonada", Params: params}),
		Mode:          "MAXIMO",
		AppliesToBase: true,
	})
}

// CategoryDiscountJSON returns an EXCLUSIVO rule for the given member
// categories, applied to base and activities.
func CategoryDiscountJSON(code, name string, categories []string, pct int64) string {
	return marshal(RuleJSON{
		Code:                code,
		Name:                name,
		Priority:            5,
		Condition:           condition(discount.InCategory{Codes: categories}),
		Formula:             formula(catalog.PorcentajeFijo{Percentage: decimal.NewFromInt(pct)}),
		Mode:                "EXCLUSIVO",
		AppliesToBase:       true,
		AppliesToActivities: true,
	})
}

func condition(c discount.Condition) json.RawMessage {
	return json.RawMessage(discount.MustEncodeCondition(c))
}

func formula(f catalog.Formula) json.RawMessage {
	return json.RawMessage(catalog.MustEncodeFormula(f))
}

func marshal(rj RuleJSON) string {
	b, _ := json.MarshalIndent(rj, "", "  ")
	return string(b)
}
