package exemption

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/audit"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

// SystemActor signs transitions made by the sweep.
const SystemActor = "system"

// Rebuilder recomposes a cuota's items inside an open transaction without
// writing an audit entry of its own.
type Rebuilder interface {
	Rebuild(ctx context.Context, tx generic.Store, cuotaID generic.CuotaID) (before, after audit.CuotaState, err error)
}

type Service struct {
	store     generic.Store
	trail     *audit.Trail
	rebuilder Rebuilder
	clock     generic.Clock
	log       *logger.Logger
}

func NewService(store generic.Store, trail *audit.Trail, rebuilder Rebuilder, clock generic.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Service{
		store:     store,
		trail:     trail,
		rebuilder: rebuilder,
		clock:     clock,
		log:       logger.OrNop(log).With("component", "exemption"),
	}
}

// RequestInput describes a new exemption.
type RequestInput struct {
	PersonID            generic.PersonID
	Kind                generic.ExemptionKind
	Percentage          decimal.Decimal
	AppliesToBase       bool
	AppliesToActivities bool
	Motive              string
	Description         string
	ValidFrom           time.Time
	ValidTo             *time.Time
	RequestedBy         string
}

func (in *RequestInput) normalize() error {
	if in.PersonID == "" {
		return generic.Validationf("person is required")
	}
	if in.Motive == "" {
		return generic.Validationf("motive is required")
	}
	if in.RequestedBy == "" {
		return generic.Validationf("requester is required")
	}
	if in.ValidFrom.IsZero() {
		return generic.Validationf("fechaInicio is required")
	}
	if in.ValidTo != nil && generic.DateOf(*in.ValidTo).Before(generic.DateOf(in.ValidFrom)) {
		return generic.Validationf("fechaFin is before fechaInicio")
	}

	hundred := decimal.NewFromInt(100)
	switch in.Kind {
	case generic.ExemptionTotal:
		if !in.Percentage.IsZero() && !in.Percentage.Equal(hundred) {
			return generic.Validationf("a TOTAL exemption is always 100%%")
		}
		in.Percentage = hundred
		in.AppliesToBase = true
	case generic.ExemptionPartial:
		if !in.Percentage.IsPositive() || !in.Percentage.LessThan(hundred) {
			return generic.Validationf("a PARCIAL exemption needs 0 < porcentaje < 100")
		}
		if !in.AppliesToBase && !in.AppliesToActivities {
			return generic.Validationf("a PARCIAL exemption must apply to the base, the activities, or both")
		}
	default:
		return generic.Validationf("unknown exemption kind %q", in.Kind)
	}
	return nil
}

// Request creates an exemption in PENDIENTE_APROBACION.
func (s *Service) Request(ctx context.Context, in RequestInput) (*generic.Exemption, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	now := s.clock()
	e := generic.Exemption{
		ID:                  generic.ExemptionID(uuid.NewString()),
		PersonID:            in.PersonID,
		Kind:                in.Kind,
		Percentage:          in.Percentage,
		AppliesToBase:       in.AppliesToBase,
		AppliesToActivities: in.AppliesToActivities,
		Motive:              in.Motive,
		Description:         in.Description,
		ValidFrom:           generic.DateOf(in.ValidFrom),
		State:               generic.ExemptionPending,
		Active:              true,
		RequestedBy:         in.RequestedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if in.ValidTo != nil {
		to := generic.DateOf(*in.ValidTo)
		e.ValidTo = &to
	}

	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		person, err := tx.GetPerson(ctx, in.PersonID)
		if err != nil {
			return generic.Internal("get person", err)
		}
		if person == nil {
			return generic.NotFound("person", string(in.PersonID))
		}
		if err := tx.InsertExemption(ctx, e); err != nil {
			return generic.Internal("insert exemption", err)
		}
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditCreateExemption,
			Refs:   refs(e),
			Actor:  in.RequestedBy,
			Reason: in.Motive,
			After:  e,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("exemption requested", "exemption", e.ID, "person", e.PersonID, "kind", e.Kind)
	return &e, nil
}

// Approve moves PENDIENTE_APROBACION to APROBADA and records the approver.
func (s *Service) Approve(ctx context.Context, id generic.ExemptionID, approver string) (*generic.Exemption, error) {
	if approver == "" {
		return nil, generic.Validationf("approver is required")
	}
	return s.transition(ctx, id, opApprove, approver, "", func(e *generic.Exemption, now time.Time) {
		e.ApprovedBy = &approver
		e.ApprovedAt = &now
	})
}

// Reject moves PENDIENTE_APROBACION to RECHAZADA. A reason is required.
func (s *Service) Reject(ctx context.Context, id generic.ExemptionID, actor, reason string) (*generic.Exemption, error) {
	if reason == "" {
		return nil, generic.Validationf("a rejection reason is required")
	}
	return s.transition(ctx, id, opReject, actor, reason, func(e *generic.Exemption, _ time.Time) {
		e.RejectionReason = &reason
	})
}

// Activate moves APROBADA to VIGENTE once the validity window has started.
func (s *Service) Activate(ctx context.Context, id generic.ExemptionID, actor string) (*generic.Exemption, error) {
	return s.transition(ctx, id, opActivate, actor, "", nil)
}

// Revoke moves any non-terminal exemption to REVOCADA and deactivates it.
func (s *Service) Revoke(ctx context.Context, id generic.ExemptionID, actor, reason string) (*generic.Exemption, error) {
	if reason == "" {
		return nil, generic.Validationf("a revocation reason is required")
	}
	return s.transition(ctx, id, opRevoke, actor, reason, func(e *generic.Exemption, _ time.Time) {
		e.RevocationReason = &reason
	})
}

func (s *Service) transition(
	ctx context.Context,
	id generic.ExemptionID,
	op transition,
	actor, reason string,
	mutate func(e *generic.Exemption, now time.Time),
) (*generic.Exemption, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}

	var result generic.Exemption
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.GetExemption(ctx, id)
		if err != nil {
			return generic.Internal("get exemption", err)
		}
		if current == nil {
			return generic.NotFound("exemption", string(id))
		}
		updated, err := s.apply(ctx, tx, *current, op, actor, reason, mutate)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("exemption transition", "exemption", id, "op", op, "state", result.State, "actor", actor)
	return &result, nil
}

// apply performs one transition inside tx and records it.
func (s *Service) apply(
	ctx context.Context,
	tx generic.Store,
	before generic.Exemption,
	op transition,
	actor, reason string,
	mutate func(e *generic.Exemption, now time.Time),
) (generic.Exemption, error) {
	if err := checkTransition(before, op); err != nil {
		return before, err
	}

	now := s.clock()
	if op == opActivate && generic.DateOf(now).Before(before.ValidFrom) {
		return before, generic.BusinessRulef("exemption %s starts on %s", before.ID, generic.FormatDate(before.ValidFrom))
	}

	after := before
	after.State = target[op]
	after.UpdatedAt = now
	if after.State.Terminal() {
		after.Active = false
	}
	if mutate != nil {
		mutate(&after, now)
	}

	if err := tx.UpdateExemption(ctx, after); err != nil {
		return before, generic.Internal("update exemption", err)
	}

	action := generic.AuditModifyExemption
	if op == opRevoke {
		action = generic.AuditDeleteExemption
	}
	err := s.trail.Record(ctx, tx, audit.Record{
		Action: action,
		Refs:   refs(after),
		Actor:  actor,
		Reason: reason,
		Before: before,
		After:  after,
	})
	return after, err
}

// =============================================================================
// SWEEP
// =============================================================================

type SweepResult struct {
	Expired   int
	Activated int
	Failed    int
}

// Sweep expires APROBADA/VIGENTE rows whose fechaFin is before today and
// activates APROBADA rows whose window has started. Each row transitions in
// its own transaction.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	candidates, err := s.store.ListSweepable(ctx)
	if err != nil {
		return res, generic.Internal("list sweepable exemptions", err)
	}

	today := generic.DateOf(s.clock())
	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := sweepOp(e, today); !ok {
			continue
		}

		// The listed copy may be stale: re-read under the transaction and
		// skip rows another writer already moved on.
		var op transition
		var swept bool
		err := s.store.WithTx(ctx, func(tx generic.Store) error {
			cur, err := tx.GetExemption(ctx, e.ID)
			if err != nil {
				return generic.Internal("get exemption", err)
			}
			if cur == nil {
				return nil
			}
			var ok bool
			if op, ok = sweepOp(*cur, today); !ok {
				return nil
			}
			if _, err := s.apply(ctx, tx, *cur, op, SystemActor, "sweep", nil); err != nil {
				return err
			}
			swept = true
			return nil
		})
		if err != nil {
			res.Failed++
			s.log.Warn("exemption sweep failed", "exemption", e.ID, "op", op, "error", err)
			continue
		}
		if !swept {
			continue
		}
		if op == opExpire {
			res.Expired++
		} else {
			res.Activated++
		}
	}

	if res.Expired+res.Activated+res.Failed > 0 {
		s.log.Info("exemption sweep", "expired", res.Expired, "activated", res.Activated, "failed", res.Failed)
	}
	return res, nil
}

// sweepOp picks the sweep transition for e on today, if any.
func sweepOp(e generic.Exemption, today time.Time) (transition, bool) {
	if e.State != generic.ExemptionApproved && e.State != generic.ExemptionInForce {
		return "", false
	}
	switch {
	case e.ValidTo != nil && generic.DateOf(*e.ValidTo).Before(today):
		return opExpire, true
	case e.State == generic.ExemptionApproved && !today.Before(generic.DateOf(e.ValidFrom)):
		return opActivate, true
	}
	return "", false
}

// =============================================================================
// APPLY TO CUOTA
// =============================================================================

// ApplyToCuota regenerates a cuota so an eligible exemption takes effect,
// recording one APLICAR_EXENCION entry.
func (s *Service) ApplyToCuota(ctx context.Context, id generic.ExemptionID, cuotaID generic.CuotaID, actor string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	if s.rebuilder == nil {
		return nil, generic.Configurationf("no cuota rebuilder configured")
	}

	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		e, err := tx.GetExemption(ctx, id)
		if err != nil {
			return generic.Internal("get exemption", err)
		}
		if e == nil {
			return generic.NotFound("exemption", string(id))
		}
		c, err := tx.GetCuota(ctx, cuotaID)
		if err != nil {
			return generic.Internal("get cuota", err)
		}
		if c == nil {
			return generic.NotFound("cuota", string(cuotaID))
		}
		if c.PersonID != e.PersonID {
			return generic.BusinessRulef("exemption %s belongs to another person", id)
		}
		if !e.EligibleOn(c.Period.BillingDate()) {
			return generic.BusinessRulef("exemption %s is not eligible for %s", id, c.Period)
		}

		before, rebuilt, err := s.rebuilder.Rebuild(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		after = rebuilt

		r := refs(*e)
		r.CuotaID = &cuotaID
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditApplyExemption,
			Refs:   r,
			Actor:  actor,
			Before: before,
			After:  rebuilt,
		})
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

func (s *Service) Get(ctx context.Context, id generic.ExemptionID) (*generic.Exemption, error) {
	e, err := s.store.GetExemption(ctx, id)
	if err != nil {
		return nil, generic.Internal("get exemption", err)
	}
	if e == nil {
		return nil, generic.NotFound("exemption", string(id))
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, personID generic.PersonID) ([]generic.Exemption, error) {
	return s.store.ListExemptions(ctx, personID)
}

func refs(e generic.Exemption) audit.Refs {
	id := e.ID
	return audit.Refs{PersonID: e.PersonID, ExemptionID: &id}
}
