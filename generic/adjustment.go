package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ADJUSTMENT - Operator-entered correction replayed into future cuotas
// =============================================================================

type AdjustmentMode string

const (
	AdjustmentFixed      AdjustmentMode = "FIJO"
	AdjustmentPercentage AdjustmentMode = "PORCENTAJE"
)

// AdjustmentTarget is the subtotal a percentage adjustment is computed on.
type AdjustmentTarget string

const (
	TargetBase       AdjustmentTarget = "BASE"
	TargetActivities AdjustmentTarget = "ACTIVIDADES"
	TargetAll        AdjustmentTarget = "TODOS"
)

type Adjustment struct {
	ID       AdjustmentID
	PersonID PersonID

	// CuotaID restricts the adjustment to one cuota when set.
	CuotaID   *CuotaID
	TypeCode  string
	Concept   string
	Mode      AdjustmentMode
	Value     decimal.Decimal
	AppliesTo AdjustmentTarget
	Validity  PeriodRange
	Motive    string
	Active    bool

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppliesIn reports whether the adjustment is replayed into the cuota for
// period (cuotaID is empty for a cuota not yet created).
func (a Adjustment) AppliesIn(period Period, cuotaID CuotaID) bool {
	if !a.Active || !a.Validity.Contains(period) {
		return false
	}
	if a.CuotaID != nil && *a.CuotaID != cuotaID {
		return false
	}
	return true
}
