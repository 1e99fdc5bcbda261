/*
Package exemption manages fee waivers and their approval lifecycle.

STATE MACHINE:

  PENDIENTE_APROBACION ──aprobar──▶ APROBADA ──activar/sweep──▶ VIGENTE
          │                            │                           │
          │ rechazar                   │ revocar / sweep           │ revocar / sweep
          ▼                            ▼                           ▼
      RECHAZADA                 REVOCADA / VENCIDA          REVOCADA / VENCIDA

  - Initial state: PENDIENTE_APROBACION
  - Terminal states: RECHAZADA, VENCIDA, REVOCADA
  - revocar is allowed from any non-terminal state and clears activa
  - the sweep moves APROBADA/VIGENTE rows whose fechaFin has passed to
    VENCIDA, and APROBADA rows whose window has started to VIGENTE

ELIGIBILITY:
  An exemption affects a cuota billed on day D only if its state is
  APROBADA or VIGENTE, activa is true, and D is in [fechaInicio, fechaFin].
  One TOTAL exemption suppresses the base item; more are redundant. When
  several PARCIAL exemptions are eligible the largest percentage wins and
  the composition carries a warning.

SEE ALSO:
  - generic/exemption.go: Exemption, states, EligibleOn
  - composer/compose.go: Applies the Effect
*/
package exemption

import (
	"time"

	"github.com/warp/fee-engine/generic"
)

type transition string

const (
	opApprove  transition = "aprobar"
	opReject   transition = "rechazar"
	opActivate transition = "activar"
	opRevoke   transition = "revocar"
	opExpire   transition = "vencer"
)

// allowed lists, per operation, the states it may start from.
var allowed = map[transition][]generic.ExemptionState{
	opApprove:  {generic.ExemptionPending},
	opReject:   {generic.ExemptionPending},
	opActivate: {generic.ExemptionApproved},
	opRevoke:   {generic.ExemptionPending, generic.ExemptionApproved, generic.ExemptionInForce},
	opExpire:   {generic.ExemptionApproved, generic.ExemptionInForce},
}

var target = map[transition]generic.ExemptionState{
	opApprove:  generic.ExemptionApproved,
	opReject:   generic.ExemptionRejected,
	opActivate: generic.ExemptionInForce,
	opRevoke:   generic.ExemptionRevoked,
	opExpire:   generic.ExemptionExpired,
}

// checkTransition returns *generic.InvalidTransitionError when op cannot
// start from e's current state.
func checkTransition(e generic.Exemption, op transition) error {
	for _, s := range allowed[op] {
		if e.State == s {
			return nil
		}
	}
	return &generic.InvalidTransitionError{
		Entity: "exemption",
		ID:     string(e.ID),
		From:   string(e.State),
		To:     string(target[op]),
	}
}

// =============================================================================
// EFFECT - What the eligible exemptions of a person do to one cuota
// =============================================================================

type Effect struct {
	// Total is the first eligible TOTAL exemption, if any.
	Total *generic.Exemption
	// Partial is the eligible PARCIAL exemption with the largest percentage.
	Partial *generic.Exemption
	// PartialCount counts eligible PARCIAL exemptions; above one is a
	// data-quality warning.
	PartialCount int
}

// EffectOn resolves the exemptions eligible on day.
func EffectOn(exemptions []generic.Exemption, day time.Time) Effect {
	var eff Effect
	for i := range exemptions {
		e := exemptions[i]
		if !e.EligibleOn(day) {
			continue
		}
		switch e.Kind {
		case generic.ExemptionTotal:
			if eff.Total == nil {
				eff.Total = &e
			}
		case generic.ExemptionPartial:
			eff.PartialCount++
			if eff.Partial == nil || e.Percentage.GreaterThan(eff.Partial.Percentage) {
				eff.Partial = &e
			}
		}
	}
	return eff
}

// MultiplePartial reports the data-quality warning case.
func (e Effect) MultiplePartial() bool { return e.PartialCount > 1 }
