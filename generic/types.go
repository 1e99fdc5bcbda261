/*
Package generic provides the core model of the fee engine.

PURPOSE:
  This package contains the storage-facing types shared by every engine
  component: the catalog records, the fee record (Cuota) and its line
  items, discount rules, exemptions, manual adjustments, and audit
  entries. Algorithms live in the component packages (catalog, discount,
  exemption, adjustment, composer, batch); this package only defines the
  data, the primitives, and the store contracts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts rounded to cents when an item is produced
  - CategoryCode: item categories and their fixed sign rule
  - ItemCategory / ItemType: catalog records
  - Cuota / Item: one person's priced fee record for one period

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Type Safety: distinct ID types for persons, cuotas, items, rules
  3. Auditability: every mutation of these records is logged (audit.go)

SEE ALSO:
  - period.go: Billing period (month + year)
  - store.go: Persistence contracts
  - errors.go: Error kinds
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// SumTolerance is the largest accepted gap between a cuota's total and the
// signed sum of its items.
var SumTolerance = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// PercentOf returns pct% of amount, rounded to cents.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ClampPercentage bounds p to [0, 100].
func ClampPercentage(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PersonID string
type CuotaID string
type ItemID string
type RuleID string
type ExemptionID string
type AdjustmentID string
type ReceiptID string

// =============================================================================
// CATALOG
// =============================================================================

// CategoryCode groups item types and fixes their sign.
type CategoryCode string

const (
	CategoryBase         CategoryCode = "BASE"
	CategoryActividad    CategoryCode = "ACTIVIDAD"
	CategoryDescuento    CategoryCode = "DESCUENTO"
	CategoryRecargo      CategoryCode = "RECARGO"
	CategoryBonificacion CategoryCode = "BONIFICACION"
	CategoryAjuste       CategoryCode = "AJUSTE"
	CategoryOtro         CategoryCode = "OTRO"
)

// Subtractive reports whether items of this category reduce the total.
func (c CategoryCode) Subtractive() bool {
	switch c {
	case CategoryDescuento, CategoryBonificacion, CategoryAjuste:
		return true
	}
	return false
}

// Sign is -1 for subtractive categories and +1 otherwise.
func (c CategoryCode) Sign() int64 {
	if c.Subtractive() {
		return -1
	}
	return 1
}

// Signed applies the category sign to a non-negative amount.
func (c CategoryCode) Signed(amount decimal.Decimal) decimal.Decimal {
	if c.Subtractive() {
		return amount.Neg()
	}
	return amount
}

type ItemCategory struct {
	ID           string
	Code         CategoryCode
	Name         string
	DisplayOrder int
	Active       bool
}

// ItemType is one line-item type. Formula is the raw descriptor; the
// catalog package parses it into a typed formula.
type ItemType struct {
	ID           string
	Code         string
	Name         string
	Category     CategoryCode
	Calculated   bool
	Formula      []byte
	Configurable bool
	DisplayOrder int
	Active       bool
	System       bool
}

// Item type codes the composer emits.
const (
	TypeCuotaBase         = "CUOTA_BASE"
	TypeActividad         = "ACTIVIDAD"
	TypeDescuentoRegla    = "DESCUENTO_REGLA"
	TypeDescuentoExencion = "DESCUENTO_EXENCION"
	TypeAjusteRecargo     = "AJUSTE_RECARGO"
	TypeAjusteDescuento   = "AJUSTE_DESCUENTO"
)

// =============================================================================
// CUOTA - one person's fee record for one period
// =============================================================================

type Cuota struct {
	ID           CuotaID
	PersonID     PersonID
	Period       Period
	ReceiptID    ReceiptID
	Total        decimal.Decimal
	CategoryCode string

	// Pre-item representation. Legacy cuotas carry their amounts here and
	// have no items until migrated.
	Legacy           bool
	LegacyBase       decimal.Decimal
	LegacyActivities decimal.Decimal

	Invalidated bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Metadata keys written on items.
const (
	MetaMigratedFrom = "migratedFrom"
	MetaRuleCode     = "reglaCodigo"
	MetaPercentage   = "porcentaje"
	MetaMode         = "modo"
	MetaExemptionID  = "exencionId"
	MetaAdjustmentID = "ajusteId"
	MetaActivityID   = "actividadId"
	MetaWarning      = "advertencia"
)

// Legacy field names used as migratedFrom values.
const (
	LegacyFieldBase       = "montoBase"
	LegacyFieldActivities = "montoActividades"
)

// Item is one priced line of a cuota. Amount is always non-negative; the
// category decides whether it adds or subtracts.
type Item struct {
	ID         ItemID
	CuotaID    CuotaID
	TypeCode   string
	Category   CategoryCode
	Concept    string
	Amount     decimal.Decimal
	Quantity   int
	Percentage *decimal.Decimal
	Automatic  bool
	Editable   bool
	Order      int
	Metadata   map[string]string
	CreatedAt  time.Time
}

// SignedTotal is the line's contribution to the cuota total.
func (i Item) SignedTotal() decimal.Decimal {
	q := i.Quantity
	if q <= 0 {
		q = 1
	}
	return i.Category.Signed(i.Amount.Mul(decimal.NewFromInt(int64(q))))
}

// SumItems returns the signed sum of items.
func SumItems(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.SignedTotal())
	}
	return total
}

// TotalMatches checks the sum invariant for a cuota.
func TotalMatches(total decimal.Decimal, items []Item) bool {
	return total.Sub(SumItems(items)).Abs().LessThanOrEqual(SumTolerance)
}
