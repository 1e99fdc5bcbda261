package factory_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/discount"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/generic"
)

var now = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func newFactory() *factory.RuleFactory {
	return factory.NewRuleFactory(generic.FixedClock(now))
}

// =============================================================================
// PRESETS
// =============================================================================

func TestPresets_CompileAndEvaluate(t *testing.T) {
	f := newFactory()
	attrs := discount.Attributes{
		CategoryCode:  "CADETE",
		ActivityCount: 3,
		TenureYears:   4,
		FamilyRelations: []generic.FamilyRelation{
			{ID: "r1", Kind: "HERMANO", Percentage: decimal.NewFromInt(12), Active: true},
		},
	}

	tests := []struct {
		name       string
		doc        string
		mode       generic.ApplicationMode
		base       string
		activities string
	}{
		{"family", factory.FamilyDiscountJSON("FAM", "Familiar", 15), generic.ModeAccumulative, "1500", "0"},
		{"largest family", factory.LargestFamilyDiscountJSON("FAM_MAX", "Mayor familiar"), generic.ModeCustom, "1200", "0"},
		{"activity steps", factory.ActivityStepsJSON("ACT", "Escalado"), generic.ModeCustom, "0", "600"},
		{"tenure", factory.TenureDiscountJSON("ANT", "Antigüedad", 1, 2, 10), generic.ModeMaximum, "800", "0"},
		{"category", factory.CategoryDiscountJSON("CAD", "Cadetes", []string{"CADETE"}, 25), generic.ModeExclusive, "2500", "750"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := f.ParseRule(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, rule.Mode)
			assert.True(t, rule.Active)
			assert.NotEmpty(t, rule.ID)
			assert.Equal(t, now, rule.CreatedAt)

			engine, err := discount.Load([]generic.DiscountRule{*rule}, generic.DefaultDiscountConfig(), catalog.NewRegistry())
			require.NoError(t, err)
			outcomes, err := engine.Evaluate(attrs, decimal.NewFromInt(10000), decimal.NewFromInt(3000))
			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.True(t, decimal.RequireFromString(tt.base).Equal(outcomes[0].BaseDiscount), outcomes[0].BaseDiscount.String())
			assert.True(t, decimal.RequireFromString(tt.activities).Equal(outcomes[0].ActivitiesDiscount), outcomes[0].ActivitiesDiscount.String())
		})
	}
}

// =============================================================================
// PARSE RULE
// =============================================================================

func TestParseRule_Defaults(t *testing.T) {
	rule, err := newFactory().ParseRule(`{
		"codigo": "TODOS_5",
		"formula": {"version": 1, "type": "PorcentajeFijo", "params": {"porcentaje": "5"}},
		"aplicaBase": true,
		"activa": false
	}`)

	require.NoError(t, err)
	assert.Equal(t, "TODOS_5", rule.Name)
	assert.Equal(t, generic.ModeAccumulative, rule.Mode)
	assert.JSONEq(t, `{"tipo":"siempre"}`, string(rule.Condition))
	assert.False(t, rule.Active)
}

func TestParseRule_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{"malformed", `{"codigo":`, generic.ErrValidation},
		{"unknown field", `{"codigo":"X","descuento":10}`, generic.ErrValidation},
		{"trailing data", `{"codigo":"X"} {}`, generic.ErrValidation},
		{"no code", `{"nombre":"Sin código","aplicaBase":true}`, generic.ErrValidation},
		{"bad mode", `{"codigo":"X","modoAplicacion":"TODO","aplicaBase":true,
			"formula":{"version":1,"type":"PorcentajeFijo","params":{"porcentaje":"5"}}}`, generic.ErrFormula},
		{"no target", `{"codigo":"X","formula":{"version":1,"type":"PorcentajeFijo","params":{"porcentaje":"5"}}}`, generic.ErrFormula},
		{"bad condition", `{"codigo":"X","aplicaBase":true,"condicion":{"tipo":"luna"},
			"formula":{"version":1,"type":"PorcentajeFijo","params":{"porcentaje":"5"}}}`, generic.ErrFormula},
		{"unknown function", `{"codigo":"X","aplicaBase":true,"modoAplicacion":"PERSONALIZADO","funcion":"magia"}`, generic.ErrFormula},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFactory().ParseRule(tt.doc)

			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestToJSON_ParsesBack(t *testing.T) {
	f := newFactory()
	rule, err := f.ParseRule(factory.TenureDiscountJSON("ANT", "Antigüedad", 5, 1, 10))
	require.NoError(t, err)

	again, err := f.FromJSON(f.ToJSON(*rule))

	require.NoError(t, err)
	assert.Equal(t, rule.ID, again.ID)
	assert.Equal(t, rule.Code, again.Code)
	assert.Equal(t, rule.Mode, again.Mode)
	assert.JSONEq(t, string(rule.Formula), string(again.Formula))
}

// =============================================================================
// RULE SETS
// =============================================================================

func TestParseRuleSet(t *testing.T) {
	doc := `{
		"config": {"limiteDescuentoTotal": "60", "prioridades": ["CAD"]},
		"reglas": [
			{"codigo": "FAM", "prioridad": 10, "condicion": {"tipo": "relacion_familiar"},
			 "formula": {"version": 1, "type": "PorcentajeFijo", "params": {"porcentaje": "15"}},
			 "aplicaBase": true},
			{"codigo": "CAD", "prioridad": 5, "modoAplicacion": "EXCLUSIVO",
			 "condicion": {"tipo": "categoria", "categorias": ["CADETE"]},
			 "formula": {"version": 1, "type": "PorcentajeFijo", "params": {"porcentaje": "25"}},
			 "aplicaBase": true, "aplicaActividades": true}
		]
	}`

	set, err := newFactory().ParseRuleSet(doc)

	require.NoError(t, err)
	require.Len(t, set.Rules, 2)
	require.NotNil(t, set.Config)
	assert.True(t, decimal.NewFromInt(60).Equal(set.Config.TotalLimit))
	assert.Equal(t, []string{"CAD"}, set.Config.PriorityOrder)
}

func TestParseRuleSet_Rejects(t *testing.T) {
	rule := `{"codigo":"FAM","aplicaBase":true,"formula":{"version":1,"type":"PorcentajeFijo","params":{"porcentaje":"15"}}}`

	_, err := newFactory().ParseRuleSet(`{"reglas":[` + rule + `,` + rule + `]}`)
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = newFactory().ParseRuleSet(`{"reglas":[` + rule + `,{"codigo":"MAL","aplicaBase":true}]}`)
	assert.ErrorIs(t, err, generic.ErrFormula)
}

func TestConfigFromJSON_Defaults(t *testing.T) {
	cfg := newFactory().ConfigFromJSON(factory.ConfigJSON{})

	assert.True(t, generic.DefaultTotalLimit.Equal(cfg.TotalLimit))
	assert.Empty(t, cfg.PriorityOrder)
	assert.Equal(t, now, cfg.UpdatedAt)
}

// =============================================================================
// ITEM TYPES
// =============================================================================

func TestParseItemType(t *testing.T) {
	f := newFactory()

	typ, err := f.ParseItemType(`{"codigo":"CUOTA_SOCIAL","nombre":"Cuota social","categoria":"RECARGO",
		"esCalculado":true,"formula":{"version":1,"type":"CategoriaMonto"},"orden":15}`)
	require.NoError(t, err)
	assert.Equal(t, generic.CategoryRecargo, typ.Category)
	assert.True(t, typ.Calculated)
	assert.True(t, typ.Active)

	_, err = f.ParseItemType(`{"codigo":"X","nombre":"X","categoria":"RECARGO","esCalculado":true}`)
	assert.ErrorIs(t, err, generic.ErrBusinessRule)

	_, err = f.ParseItemType(`{"codigo":"","nombre":"X"}`)
	assert.ErrorIs(t, err, generic.ErrValidation)
}
