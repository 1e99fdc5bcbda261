/*
Package factory converts JSON documents into discount rule and item type
records.

PURPOSE:
  Rules and item types are configured as JSON so an administrator can add
  a discount without a code change. The factory decodes a document,
  applies defaults, and validates it by compiling it the same way the
  engine will, so a record that passes here never fails at run time for a
  structural reason.

RULE DOCUMENT:
  {
    "codigo": "FAMILIAR_15",
    "nombre": "Descuento familiar",
    "prioridad": 10,
    "condicion": {"tipo": "relacion_familiar"},
    "formula": {"version": 1, "type": "PorcentajeFijo", "params": {"porcentaje": 15}},
    "modoAplicacion": "ACUMULATIVO",
    "maxDescuento": 30,
    "aplicaBase": true,
    "aplicaActividades": false
  }

RULE SET DOCUMENT:
  {
    "config": {"limiteDescuentoTotal": 80, "prioridades": ["FAMILIAR_15"]},
    "reglas": [ {...}, {...} ]
  }

USAGE:
  f := factory.NewRuleFactory(clock)
  rule, err := f.ParseRule(factory.FamilyDiscountJSON("FAMILIAR_15", "Descuento familiar", 15))
  err = store.SaveDiscountRule(ctx, *rule)

SEE ALSO:
  - presets.go: Ready-made rule documents
  - discount/rule.go: Compilation
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/discount"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a discount rule.
type RuleJSON struct {
	ID                  string           `json:"id,omitempty"`
	Code                string           `json:"codigo"`
	Name                string           `json:"nombre"`
	Priority            int              `json:"prioridad"`
	Condition           json.RawMessage  `json:"condicion"`
	Formula             json.RawMessage  `json:"formula,omitempty"`
	Mode                string           `json:"modoAplicacion"`
	Function            string           `json:"funcion,omitempty"`
	MaxDiscount         *decimal.Decimal `json:"maxDescuento,omitempty"`
	AppliesToBase       bool             `json:"aplicaBase"`
	AppliesToActivities bool             `json:"aplicaActividades"`
	Active              *bool            `json:"activa,omitempty"`
}

// ConfigJSON is the JSON representation of the discount configuration.
type ConfigJSON struct {
	TotalLimit    *decimal.Decimal `json:"limiteDescuentoTotal,omitempty"`
	PriorityOrder []string         `json:"prioridades,omitempty"`
}

// RuleSetJSON groups rules with an optional configuration.
type RuleSetJSON struct {
	Config *ConfigJSON `json:"config,omitempty"`
	Rules  []RuleJSON  `json:"reglas"`
}

// ItemTypeJSON is the JSON representation of an item type.
type ItemTypeJSON struct {
	Code         string          `json:"codigo"`
	Name         string          `json:"nombre"`
	Category     string          `json:"categoria"`
	Calculated   bool            `json:"esCalculado"`
	Formula      json.RawMessage `json:"formula,omitempty"`
	Configurable bool            `json:"configurable"`
	DisplayOrder int             `json:"orden"`
}

// RuleSet is a decoded rule set document.
type RuleSet struct {
	Rules  []generic.DiscountRule
	Config *generic.DiscountConfig
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON documents to records.
type RuleFactory struct {
	clock generic.Clock
}

func NewRuleFactory(clock generic.Clock) *RuleFactory {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &RuleFactory{clock: clock}
}

// ParseRule parses and validates one rule document.
func (f *RuleFactory) ParseRule(jsonStr string) (*generic.DiscountRule, error) {
	var rj RuleJSON
	if err := decodeStrict(jsonStr, &rj); err != nil {
		return nil, generic.Validationf("failed to parse rule JSON: %v", err)
	}
	return f.FromJSON(rj)
}

// ParseRuleSet parses a rule set document. Every rule is validated; the
// first invalid one fails the whole document.
func (f *RuleFactory) ParseRuleSet(jsonStr string) (*RuleSet, error) {
	var sj RuleSetJSON
	if err := decodeStrict(jsonStr, &sj); err != nil {
		return nil, generic.Validationf("failed to parse rule set JSON: %v", err)
	}

	set := &RuleSet{}
	seen := make(map[string]bool, len(sj.Rules))
	for _, rj := range sj.Rules {
		if seen[rj.Code] {
			return nil, generic.Validationf("rule %s appears twice", rj.Code)
		}
		seen[rj.Code] = true
		r, err := f.FromJSON(rj)
		if err != nil {
			return nil, err
		}
		set.Rules = append(set.Rules, *r)
	}
	if sj.Config != nil {
		cfg := f.ConfigFromJSON(*sj.Config)
		set.Config = &cfg
	}
	return set, nil
}

// FromJSON converts RuleJSON to a validated generic.DiscountRule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*generic.DiscountRule, error) {
	if rj.Code == "" {
		return nil, generic.Validationf("rule codigo is required")
	}
	if rj.Name == "" {
		rj.Name = rj.Code
	}
	if len(bytes.TrimSpace(rj.Condition)) == 0 {
		rj.Condition = json.RawMessage(`{"tipo":"siempre"}`)
	}

	now := f.clock()
	rule := &generic.DiscountRule{
		ID:                  generic.RuleID(rj.ID),
		Code:                rj.Code,
		Name:                rj.Name,
		Priority:            rj.Priority,
		Condition:           []byte(rj.Condition),
		Formula:             []byte(rj.Formula),
		Mode:                parseMode(rj.Mode),
		CustomFunction:      rj.Function,
		MaxDiscount:         rj.MaxDiscount,
		AppliesToBase:       rj.AppliesToBase,
		AppliesToActivities: rj.AppliesToActivities,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if rule.ID == "" {
		rule.ID = generic.RuleID(uuid.NewString())
	}
	if rj.Active != nil {
		rule.Active = *rj.Active
	}

	// Compiling is the validation: the engine will do exactly this.
	if _, err := discount.Compile(*rule, nil); err != nil {
		return nil, err
	}
	return rule, nil
}

// ToJSON converts a rule back to its document form.
func (f *RuleFactory) ToJSON(r generic.DiscountRule) RuleJSON {
	active := r.Active
	return RuleJSON{
		ID:                  string(r.ID),
		Code:                r.Code,
		Name:                r.Name,
		Priority:            r.Priority,
		Condition:           json.RawMessage(r.Condition),
		Formula:             json.RawMessage(r.Formula),
		Mode:                string(r.Mode),
		Function:            r.CustomFunction,
		MaxDiscount:         r.MaxDiscount,
		AppliesToBase:       r.AppliesToBase,
		AppliesToActivities: r.AppliesToActivities,
		Active:              &active,
	}
}

// ConfigFromJSON applies cj over the default configuration.
func (f *RuleFactory) ConfigFromJSON(cj ConfigJSON) generic.DiscountConfig {
	cfg := generic.DefaultDiscountConfig()
	if cj.TotalLimit != nil {
		cfg.TotalLimit = *cj.TotalLimit
	}
	cfg.PriorityOrder = append([]string(nil), cj.PriorityOrder...)
	cfg.UpdatedAt = f.clock()
	return cfg
}

// ParseItemType parses one item type document. The catalog service still
// checks the category and code uniqueness against the store.
func (f *RuleFactory) ParseItemType(jsonStr string) (*generic.ItemType, error) {
	var tj ItemTypeJSON
	if err := decodeStrict(jsonStr, &tj); err != nil {
		return nil, generic.Validationf("failed to parse item type JSON: %v", err)
	}
	if tj.Code == "" || tj.Name == "" {
		return nil, generic.Validationf("item type codigo and nombre are required")
	}
	t := &generic.ItemType{
		ID:           uuid.NewString(),
		Code:         tj.Code,
		Name:         tj.Name,
		Category:     generic.CategoryCode(tj.Category),
		Calculated:   tj.Calculated,
		Formula:      []byte(tj.Formula),
		Configurable: tj.Configurable,
		DisplayOrder: tj.DisplayOrder,
		Active:       true,
	}
	if t.Calculated {
		if _, err := catalog.ParseFormula(t.Formula); err != nil {
			return nil, generic.BusinessRulef("calculated item type %s needs a valid formula: %v", t.Code, err)
		}
	}
	return t, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func decodeStrict(jsonStr string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after document")
	}
	return nil
}

func parseMode(s string) generic.ApplicationMode {
	if s == "" {
		return generic.ModeAccumulative
	}
	return generic.ApplicationMode(s)
}
