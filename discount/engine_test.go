package discount_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/discount"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type ruleOpt func(*generic.DiscountRule)

func onActivities(r *generic.DiscountRule) {
	r.AppliesToBase = false
	r.AppliesToActivities = true
}

func onBoth(r *generic.DiscountRule) { r.AppliesToActivities = true }

func when(c discount.Condition) ruleOpt {
	return func(r *generic.DiscountRule) { r.Condition = discount.MustEncodeCondition(c) }
}

func capped(max string) ruleOpt {
	return func(r *generic.DiscountRule) {
		m := dec(max)
		r.MaxDiscount = &m
	}
}

func fixedRule(code string, priority int, mode generic.ApplicationMode, pct string, opts ...ruleOpt) generic.DiscountRule {
	r := generic.DiscountRule{
		ID:            generic.RuleID("id-" + code),
		Code:          code,
		Name:          "Regla " + code,
		Priority:      priority,
		Condition:     discount.MustEncodeCondition(discount.Always{}),
		Formula:       catalog.MustEncodeFormula(catalog.PorcentajeFijo{Percentage: dec(pct)}),
		Mode:          mode,
		AppliesToBase: true,
		Active:        true,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func newEngine(t *testing.T, cfg generic.DiscountConfig, records ...generic.DiscountRule) *discount.Engine {
	t.Helper()
	engine, err := discount.Load(records, cfg, catalog.NewRegistry())
	require.NoError(t, err)
	return engine
}

func codes(outcomes []discount.Outcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.RuleCode
	}
	return out
}

var socio = discount.Attributes{PersonID: "socio-1", CategoryCode: "ACTIVO"}

// =============================================================================
// MODES
// =============================================================================

func TestEvaluate_Modes(t *testing.T) {
	tests := []struct {
		name      string
		rules     []generic.DiscountRule
		wantCodes []string
		wantBase  []string
	}{
		{
			name: "accumulative rules all apply",
			rules: []generic.DiscountRule{
				fixedRule("A", 1, generic.ModeAccumulative, "10"),
				fixedRule("B", 2, generic.ModeAccumulative, "15"),
			},
			wantCodes: []string{"A", "B"},
			wantBase:  []string{"1000", "1500"},
		},
		{
			name: "exclusive keeps the first matching rule",
			rules: []generic.DiscountRule{
				fixedRule("SECOND", 20, generic.ModeExclusive, "30"),
				fixedRule("FIRST", 10, generic.ModeExclusive, "5"),
			},
			wantCodes: []string{"FIRST"},
			wantBase:  []string{"500"},
		},
		{
			name: "exclusive skips rules whose condition fails",
			rules: []generic.DiscountRule{
				fixedRule("CADETES", 1, generic.ModeExclusive, "50", when(discount.InCategory{Codes: []string{"CADETE"}})),
				fixedRule("ACTIVOS", 2, generic.ModeExclusive, "20", when(discount.InCategory{Codes: []string{"ACTIVO"}})),
			},
			wantCodes: []string{"ACTIVOS"},
			wantBase:  []string{"2000"},
		},
		{
			name: "maximum keeps the largest percentage",
			rules: []generic.DiscountRule{
				fixedRule("SMALL", 1, generic.ModeMaximum, "10"),
				fixedRule("LARGE", 2, generic.ModeMaximum, "25"),
			},
			wantCodes: []string{"LARGE"},
			wantBase:  []string{"2500"},
		},
		{
			name: "maximum tie goes to the earlier rule",
			rules: []generic.DiscountRule{
				fixedRule("EARLY", 1, generic.ModeMaximum, "10"),
				fixedRule("LATE", 2, generic.ModeMaximum, "10"),
			},
			wantCodes: []string{"EARLY"},
			wantBase:  []string{"1000"},
		},
		{
			name: "modes combine with each other",
			rules: []generic.DiscountRule{
				fixedRule("ACC", 1, generic.ModeAccumulative, "10"),
				fixedRule("EXC", 2, generic.ModeExclusive, "5"),
				fixedRule("MAX", 3, generic.ModeMaximum, "20"),
			},
			wantCodes: []string{"ACC", "EXC", "MAX"},
			wantBase:  []string{"1000", "500", "2000"},
		},
		{
			name: "per-rule maxDescuento caps the rule",
			rules: []generic.DiscountRule{
				fixedRule("BIG", 1, generic.ModeAccumulative, "60", capped("25")),
			},
			wantCodes: []string{"BIG"},
			wantBase:  []string{"2500"},
		},
		{
			name: "non-matching rule yields nothing",
			rules: []generic.DiscountRule{
				fixedRule("FAM", 1, generic.ModeAccumulative, "15", when(discount.HasFamilyRelation{})),
			},
			wantCodes: []string{},
			wantBase:  []string{},
		},
		{
			name: "inactive rule is ignored",
			rules: []generic.DiscountRule{
				func() generic.DiscountRule {
					r := fixedRule("OFF", 1, generic.ModeAccumulative, "15")
					r.Active = false
					return r
				}(),
			},
			wantCodes: []string{},
			wantBase:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(t, generic.DefaultDiscountConfig(), tt.rules...)

			outcomes, err := engine.Evaluate(socio, dec("10000"), dec("2000"))

			require.NoError(t, err)
			assert.Equal(t, tt.wantCodes, codes(outcomes))
			for i, want := range tt.wantBase {
				assert.True(t, dec(want).Equal(outcomes[i].BaseDiscount),
					"%s: base discount %s, want %s", outcomes[i].RuleCode, outcomes[i].BaseDiscount, want)
				assert.True(t, outcomes[i].ActivitiesDiscount.IsZero())
			}
		})
	}
}

// =============================================================================
// TARGETS AND CAP
// =============================================================================

func TestEvaluate_Targets(t *testing.T) {
	engine := newEngine(t, generic.DefaultDiscountConfig(),
		fixedRule("ACT", 1, generic.ModeAccumulative, "10", onActivities),
		fixedRule("BOTH", 2, generic.ModeAccumulative, "5", onBoth),
	)

	outcomes, err := engine.Evaluate(socio, dec("10000"), dec("2000"))

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].BaseDiscount.IsZero())
	assert.True(t, dec("200").Equal(outcomes[0].ActivitiesDiscount))
	assert.True(t, dec("500").Equal(outcomes[1].BaseDiscount))
	assert.True(t, dec("100").Equal(outcomes[1].ActivitiesDiscount))
	assert.True(t, dec("600").Equal(outcomes[1].Amount()))
}

func TestEvaluate_GlobalCap(t *testing.T) {
	// GIVEN: 50% + 40% + 10% on the base under the default 80% cap
	engine := newEngine(t, generic.DefaultDiscountConfig(),
		fixedRule("A", 1, generic.ModeAccumulative, "50"),
		fixedRule("B", 2, generic.ModeAccumulative, "40"),
		fixedRule("C", 3, generic.ModeAccumulative, "10"),
	)

	// WHEN: Evaluating
	outcomes, err := engine.Evaluate(socio, dec("10000"), decimal.Zero)

	// THEN: A full, B truncated to 30, C dropped
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codes(outcomes))
	assert.False(t, outcomes[0].Capped)
	assert.True(t, outcomes[1].Capped)
	assert.True(t, dec("30").Equal(outcomes[1].Percentage))
	total := outcomes[0].Amount().Add(outcomes[1].Amount())
	assert.True(t, dec("8000").Equal(total))
}

func TestEvaluate_CapIsPerTarget(t *testing.T) {
	// GIVEN: 80% used on the base; a rule on the activities is unaffected
	engine := newEngine(t, generic.DefaultDiscountConfig(),
		fixedRule("BASE", 1, generic.ModeAccumulative, "80"),
		fixedRule("ACT", 2, generic.ModeAccumulative, "30", onActivities),
	)

	outcomes, err := engine.Evaluate(socio, dec("10000"), dec("2000"))

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, dec("600").Equal(outcomes[1].ActivitiesDiscount))
	assert.False(t, outcomes[1].Capped)
}

func TestEvaluate_ConfiguredLimit(t *testing.T) {
	cfg := generic.DefaultDiscountConfig()
	cfg.TotalLimit = dec("20")
	engine := newEngine(t, cfg,
		fixedRule("A", 1, generic.ModeAccumulative, "15"),
		fixedRule("B", 2, generic.ModeAccumulative, "15"),
	)

	outcomes, err := engine.Evaluate(socio, dec("10000"), decimal.Zero)

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, dec("5").Equal(outcomes[1].Percentage))
	assert.True(t, dec("500").Equal(outcomes[1].BaseDiscount))
}

func TestEvaluate_PriorityOrderWins(t *testing.T) {
	// GIVEN: B is listed first in the configured priority order
	cfg := generic.DefaultDiscountConfig()
	cfg.PriorityOrder = []string{"B"}
	engine := newEngine(t, cfg,
		fixedRule("A", 1, generic.ModeAccumulative, "50"),
		fixedRule("B", 99, generic.ModeAccumulative, "50"),
	)

	// WHEN: Evaluating under the cap
	outcomes, err := engine.Evaluate(socio, dec("10000"), decimal.Zero)

	// THEN: B is evaluated first and A takes the truncation
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, codes(outcomes))
	assert.True(t, outcomes[1].Capped)
	assert.Equal(t, "B", engine.Rules()[0].Code())
}

// =============================================================================
// PERSONALIZADO
// =============================================================================

func customRule(code, function string, opts ...ruleOpt) generic.DiscountRule {
	r := fixedRule(code, 1, generic.ModeCustom, "0", opts...)
	r.CustomFunction = function
	r.Formula = nil
	return r
}

func TestEvaluate_LargestFamilyDiscount(t *testing.T) {
	engine := newEngine(t, generic.DefaultDiscountConfig(),
		customRule("FAM", discount.FuncLargestFamilyDiscount, when(discount.HasFamilyRelation{})))
	attrs := socio
	attrs.FamilyRelations = []generic.FamilyRelation{
		{ID: "r1", Kind: "HERMANO", Percentage: dec("10"), Active: true},
		{ID: "r2", Kind: "HIJO", Percentage: dec("20"), Active: true},
		{ID: "r3", Kind: "CONYUGE", Percentage: dec("40"), Active: false},
	}

	outcomes, err := engine.Evaluate(attrs, dec("10000"), decimal.Zero)

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, dec("20").Equal(outcomes[0].Percentage))
	assert.True(t, dec("2000").Equal(outcomes[0].BaseDiscount))
}

func TestEvaluate_LargestFamilyDiscountFiltersKinds(t *testing.T) {
	engine := newEngine(t, generic.DefaultDiscountConfig(),
		customRule("FAM", discount.FuncLargestFamilyDiscount, when(discount.HasFamilyRelation{Kinds: []string{"HERMANO"}})))
	attrs := socio
	attrs.FamilyRelations = []generic.FamilyRelation{
		{ID: "r1", Kind: "HERMANO", Percentage: dec("10"), Active: true},
		{ID: "r2", Kind: "HIJO", Percentage: dec("20"), Active: true},
	}

	outcomes, err := engine.Evaluate(attrs, dec("10000"), decimal.Zero)

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, dec("10").Equal(outcomes[0].Percentage))
}

func TestEvaluate_ActivitySteps(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{count: 1, want: "0"},
		{count: 2, want: "10"},
		{count: 3, want: "20"},
		{count: 5, want: "20"},
	}
	engine := newEngine(t, generic.DefaultDiscountConfig(),
		customRule("STEPS", discount.FuncActivitySteps, onActivities))

	for _, tt := range tests {
		attrs := socio
		attrs.ActivityCount = tt.count
		outcomes, err := engine.Evaluate(attrs, dec("10000"), dec("6000"))
		require.NoError(t, err)

		got := decimal.Zero
		if len(outcomes) == 1 {
			got = outcomes[0].Percentage
		}
		assert.True(t, dec(tt.want).Equal(got), "count %d: got %s want %s", tt.count, got, tt.want)
	}
}

func TestEvaluate_RegisteredFunction(t *testing.T) {
	// GIVEN: An engine whose registry has an extra function
	fns := discount.NewFunctions()
	fns.Register("test_cinco", func(*discount.Rule, discount.Input) (decimal.Decimal, error) {
		return dec("5"), nil
	})
	engine, err := discount.LoadWith([]generic.DiscountRule{customRule("FIVE", "test_cinco")},
		generic.DefaultDiscountConfig(), catalog.NewRegistry(), fns)
	require.NoError(t, err)

	// WHEN: Evaluating
	outcomes, err := engine.Evaluate(socio, dec("10000"), decimal.Zero)

	// THEN: The function's percentage applies
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, dec("500").Equal(outcomes[0].BaseDiscount))

	// AND: Other engines do not see it
	_, err = discount.Load([]generic.DiscountRule{customRule("FIVE", "test_cinco")},
		generic.DefaultDiscountConfig(), catalog.NewRegistry())
	assert.ErrorIs(t, err, generic.ErrFormula)
	assert.False(t, discount.NewFunctions().Has("test_cinco"))
}

func TestEvaluate_TenureFormula(t *testing.T) {
	// GIVEN: antiguedad_escalonada at 2% per year up to 10%
	r := fixedRule("TENURE", 1, generic.ModeMaximum, "0", when(discount.Tenure{MinYears: 1}))
	r.Formula = catalog.MustEncodeFormula(catalog.Personalizado{
		Name:   "antiguedad_escalonada",
		Params: []byte(`{"porAnio":"2","maximo":"10"}`),
	})
	engine := newEngine(t, generic.DefaultDiscountConfig(), r)

	attrs := socio
	attrs.TenureYears = 3
	outcomes, err := engine.Evaluate(attrs, dec("10000"), decimal.Zero)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, dec("6").Equal(outcomes[0].Percentage))

	attrs.TenureYears = 12
	outcomes, err = engine.Evaluate(attrs, dec("10000"), decimal.Zero)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, dec("10").Equal(outcomes[0].Percentage))
}

// =============================================================================
// COMPILATION
// =============================================================================

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *generic.DiscountRule)
	}{
		{"unknown mode", func(r *generic.DiscountRule) { r.Mode = "SUMA" }},
		{"no target", func(r *generic.DiscountRule) { r.AppliesToBase = false }},
		{"bad condition", func(r *generic.DiscountRule) { r.Condition = []byte(`{"tipo":"luna"}`) }},
		{"bad formula version", func(r *generic.DiscountRule) {
			r.Formula = []byte(`{"version":2,"type":"PorcentajeFijo","params":{"porcentaje":"10"}}`)
		}},
		{"amount formula", func(r *generic.DiscountRule) {
			r.Formula = catalog.MustEncodeFormula(catalog.CategoriaMonto{})
		}},
		{"unknown function", func(r *generic.DiscountRule) {
			r.Mode = generic.ModeCustom
			r.CustomFunction = "no_existe"
		}},
		{"max out of range", func(r *generic.DiscountRule) {
			m := dec("150")
			r.MaxDiscount = &m
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fixedRule("X", 1, generic.ModeAccumulative, "10")
			tt.mutate(&r)

			_, err := discount.Compile(r, nil)

			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrFormula)
		})
	}
}

func TestCompile_RequiresCode(t *testing.T) {
	r := fixedRule("", 1, generic.ModeAccumulative, "10")

	_, err := discount.Compile(r, nil)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestCompileAll_OrdersByPriorityThenCode(t *testing.T) {
	rules, err := discount.CompileAll([]generic.DiscountRule{
		fixedRule("C", 5, generic.ModeAccumulative, "1"),
		fixedRule("B", 1, generic.ModeAccumulative, "1"),
		fixedRule("A", 5, generic.ModeAccumulative, "1"),
	}, nil, nil)

	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "B", rules[0].Code())
	assert.Equal(t, "A", rules[1].Code())
	assert.Equal(t, "C", rules[2].Code())
}
