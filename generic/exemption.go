package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXEMPTION - Full or partial fee waiver with an approval workflow
// =============================================================================

type ExemptionKind string

const (
	ExemptionTotal   ExemptionKind = "TOTAL"
	ExemptionPartial ExemptionKind = "PARCIAL"
)

type ExemptionState string

const (
	ExemptionPending  ExemptionState = "PENDIENTE_APROBACION"
	ExemptionApproved ExemptionState = "APROBADA"
	ExemptionRejected ExemptionState = "RECHAZADA"
	ExemptionInForce  ExemptionState = "VIGENTE"
	ExemptionExpired  ExemptionState = "VENCIDA"
	ExemptionRevoked  ExemptionState = "REVOCADA"
)

// Terminal states accept no further transitions.
func (s ExemptionState) Terminal() bool {
	switch s {
	case ExemptionRejected, ExemptionExpired, ExemptionRevoked:
		return true
	}
	return false
}

// Effective states are the only ones that can affect a cuota.
func (s ExemptionState) Effective() bool {
	return s == ExemptionApproved || s == ExemptionInForce
}

type Exemption struct {
	ID                  ExemptionID
	PersonID            PersonID
	Kind                ExemptionKind
	Percentage          decimal.Decimal
	AppliesToBase       bool
	AppliesToActivities bool
	Motive              string
	Description         string
	ValidFrom           time.Time
	ValidTo             *time.Time
	State               ExemptionState
	Active              bool

	RequestedBy      string
	ApprovedBy       *string
	ApprovedAt       *time.Time
	RejectionReason  *string
	RevocationReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EligibleOn reports whether the exemption affects a cuota billed on day:
// effective state, active flag, and day inside [ValidFrom, ValidTo or ∞).
func (e Exemption) EligibleOn(day time.Time) bool {
	return e.State.Effective() && e.Active && InWindow(day, e.ValidFrom, e.ValidTo)
}
