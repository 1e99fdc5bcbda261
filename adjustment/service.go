/*
Package adjustment manages operator-entered corrections to future cuotas.

PURPOSE:
  An adjustment is replayed into every cuota of its person composed inside
  its validity range (or into one cuota when CuotaID is set). Its item type
  decides the sign: a RECARGO type adds, an AJUSTE or BONIFICACION type
  subtracts.

LIFECYCLE:
  Create      → active, CREAR_AJUSTE
  Update      → MODIFICAR_AJUSTE
  Deactivate  → active=false, MODIFICAR_AJUSTE
  Reactivate  → active=true, MODIFICAR_AJUSTE
  Delete      → logical (active=false), ELIMINAR_AJUSTE
  Purge       → physical; ELIMINAR_AJUSTE is written before the row goes
  ApplyToCuota→ regenerates one cuota now, APLICAR_AJUSTE_MANUAL

  Every call writes exactly one audit entry in the mutation's transaction.

SEE ALSO:
  - generic/adjustment.go: Adjustment, AppliesIn
  - composer/compose.go: Replays adjustments as items
*/
package adjustment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/audit"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

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
		log:       logger.OrNop(log).With("component", "adjustment"),
	}
}

// Input describes a new adjustment.
type Input struct {
	PersonID  generic.PersonID
	CuotaID   *generic.CuotaID
	TypeCode  string
	Concept   string
	Mode      generic.AdjustmentMode
	Value     decimal.Decimal
	AppliesTo generic.AdjustmentTarget
	Validity  generic.PeriodRange
	Motive    string
	Actor     string
}

// Patch changes selected fields of an adjustment. Nil fields are kept.
type Patch struct {
	Concept   *string
	Mode      *generic.AdjustmentMode
	Value     *decimal.Decimal
	AppliesTo *generic.AdjustmentTarget
	Validity  *generic.PeriodRange
	Motive    *string
}

func validate(a generic.Adjustment) error {
	if a.PersonID == "" {
		return generic.Validationf("person is required")
	}
	if a.TypeCode == "" {
		return generic.Validationf("item type is required")
	}
	if a.Concept == "" {
		return generic.Validationf("concept is required")
	}
	switch a.Mode {
	case generic.AdjustmentFixed:
		if !a.Value.IsPositive() {
			return generic.Validationf("a FIJO adjustment needs a positive value")
		}
	case generic.AdjustmentPercentage:
		if !a.Value.IsPositive() || a.Value.GreaterThan(decimal.NewFromInt(100)) {
			return generic.Validationf("a PORCENTAJE adjustment needs 0 < valor <= 100")
		}
	default:
		return generic.Validationf("unknown adjustment mode %q", a.Mode)
	}
	switch a.AppliesTo {
	case generic.TargetBase, generic.TargetActivities, generic.TargetAll:
	default:
		return generic.Validationf("unknown adjustment target %q", a.AppliesTo)
	}
	return a.Validity.Validate()
}

// checkType verifies the item type exists, is active and is manual.
func checkType(ctx context.Context, tx generic.Store, code string) error {
	t, err := tx.GetItemType(ctx, code)
	if err != nil {
		return generic.Internal("get item type", err)
	}
	if t == nil || !t.Active {
		return generic.NotFound("item type", code)
	}
	if t.Calculated {
		return generic.BusinessRulef("item type %s is calculated and cannot carry a manual adjustment", code)
	}
	switch t.Category {
	case generic.CategoryBase, generic.CategoryActividad:
		return generic.BusinessRulef("item type %s belongs to %s and cannot carry a manual adjustment", code, t.Category)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in Input) (*generic.Adjustment, error) {
	if in.Actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	if in.AppliesTo == "" {
		in.AppliesTo = generic.TargetAll
	}
	now := s.clock()
	a := generic.Adjustment{
		ID:        generic.AdjustmentID(uuid.NewString()),
		PersonID:  in.PersonID,
		CuotaID:   in.CuotaID,
		TypeCode:  in.TypeCode,
		Concept:   in.Concept,
		Mode:      in.Mode,
		Value:     in.Value,
		AppliesTo: in.AppliesTo,
		Validity:  in.Validity,
		Motive:    in.Motive,
		Active:    true,
		CreatedBy: in.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validate(a); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		person, err := tx.GetPerson(ctx, a.PersonID)
		if err != nil {
			return generic.Internal("get person", err)
		}
		if person == nil {
			return generic.NotFound("person", string(a.PersonID))
		}
		if err := checkType(ctx, tx, a.TypeCode); err != nil {
			return err
		}
		if a.CuotaID != nil {
			if err := checkCuota(ctx, tx, a); err != nil {
				return err
			}
		}
		if err := tx.InsertAdjustment(ctx, a); err != nil {
			return generic.Internal("insert adjustment", err)
		}
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditCreateAdjustment,
			Refs:   refs(a),
			Actor:  in.Actor,
			Reason: in.Motive,
			After:  a,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("adjustment created", "adjustment", a.ID, "person", a.PersonID, "type", a.TypeCode)
	return &a, nil
}

func checkCuota(ctx context.Context, tx generic.Store, a generic.Adjustment) error {
	c, err := tx.GetCuota(ctx, *a.CuotaID)
	if err != nil {
		return generic.Internal("get cuota", err)
	}
	if c == nil {
		return generic.NotFound("cuota", string(*a.CuotaID))
	}
	if c.PersonID != a.PersonID {
		return generic.BusinessRulef("cuota %s belongs to another person", c.ID)
	}
	return nil
}

// Update applies p to an adjustment.
func (s *Service) Update(ctx context.Context, id generic.AdjustmentID, p Patch, actor, reason string) (*generic.Adjustment, error) {
	return s.mutate(ctx, id, actor, reason, generic.AuditModifyAdjustment, func(tx generic.Store, a *generic.Adjustment) error {
		if p.Concept != nil {
			a.Concept = *p.Concept
		}
		if p.Mode != nil {
			a.Mode = *p.Mode
		}
		if p.Value != nil {
			a.Value = *p.Value
		}
		if p.AppliesTo != nil {
			a.AppliesTo = *p.AppliesTo
		}
		if p.Validity != nil {
			a.Validity = *p.Validity
		}
		if p.Motive != nil {
			a.Motive = *p.Motive
		}
		return validate(*a)
	})
}

func (s *Service) Deactivate(ctx context.Context, id generic.AdjustmentID, actor, reason string) (*generic.Adjustment, error) {
	return s.mutate(ctx, id, actor, reason, generic.AuditModifyAdjustment, func(_ generic.Store, a *generic.Adjustment) error {
		if !a.Active {
			return generic.BusinessRulef("adjustment %s is already inactive", a.ID)
		}
		a.Active = false
		return nil
	})
}

func (s *Service) Reactivate(ctx context.Context, id generic.AdjustmentID, actor, reason string) (*generic.Adjustment, error) {
	return s.mutate(ctx, id, actor, reason, generic.AuditModifyAdjustment, func(tx generic.Store, a *generic.Adjustment) error {
		if a.Active {
			return generic.BusinessRulef("adjustment %s is already active", a.ID)
		}
		if err := checkType(ctx, tx, a.TypeCode); err != nil {
			return err
		}
		a.Active = true
		return nil
	})
}

// Delete is the logical delete: the row stays, inactive.
func (s *Service) Delete(ctx context.Context, id generic.AdjustmentID, actor, reason string) (*generic.Adjustment, error) {
	return s.mutate(ctx, id, actor, reason, generic.AuditDeleteAdjustment, func(_ generic.Store, a *generic.Adjustment) error {
		a.Active = false
		return nil
	})
}

func (s *Service) mutate(
	ctx context.Context,
	id generic.AdjustmentID,
	actor, reason string,
	action generic.AuditAction,
	change func(tx generic.Store, a *generic.Adjustment) error,
) (*generic.Adjustment, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}

	var result generic.Adjustment
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return generic.Internal("get adjustment", err)
		}
		if current == nil {
			return generic.NotFound("adjustment", string(id))
		}

		before := *current
		after := *current
		if err := change(tx, &after); err != nil {
			return err
		}
		after.UpdatedAt = s.clock()

		if err := tx.UpdateAdjustment(ctx, after); err != nil {
			return generic.Internal("update adjustment", err)
		}
		result = after
		return s.trail.Record(ctx, tx, audit.Record{
			Action: action,
			Refs:   refs(after),
			Actor:  actor,
			Reason: reason,
			Before: before,
			After:  after,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("adjustment updated", "adjustment", id, "action", action, "active", result.Active, "actor", actor)
	return &result, nil
}

// Purge physically removes an adjustment. The audit entry holding its last
// state is written first, in the same transaction.
func (s *Service) Purge(ctx context.Context, id generic.AdjustmentID, actor, reason string) error {
	if actor == "" {
		return generic.Validationf("actor is required")
	}
	if reason == "" {
		return generic.Validationf("a reason is required to purge an adjustment")
	}

	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		current, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return generic.Internal("get adjustment", err)
		}
		if current == nil {
			return generic.NotFound("adjustment", string(id))
		}
		if err := s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditDeleteAdjustment,
			Refs:   refs(*current),
			Actor:  actor,
			Reason: reason,
			Before: *current,
		}); err != nil {
			return err
		}
		if err := tx.DeleteAdjustment(ctx, id); err != nil {
			return generic.Internal("delete adjustment", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("adjustment purged", "adjustment", id, "actor", actor)
	return nil
}

// ApplyToCuota regenerates one cuota so the adjustment shows up now instead
// of at the next composition.
func (s *Service) ApplyToCuota(ctx context.Context, id generic.AdjustmentID, cuotaID generic.CuotaID, actor string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	if s.rebuilder == nil {
		return nil, generic.Configurationf("no cuota rebuilder configured")
	}

	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		a, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return generic.Internal("get adjustment", err)
		}
		if a == nil {
			return generic.NotFound("adjustment", string(id))
		}
		c, err := tx.GetCuota(ctx, cuotaID)
		if err != nil {
			return generic.Internal("get cuota", err)
		}
		if c == nil {
			return generic.NotFound("cuota", string(cuotaID))
		}
		if c.PersonID != a.PersonID {
			return generic.BusinessRulef("adjustment %s belongs to another person", id)
		}
		if !a.AppliesIn(c.Period, c.ID) {
			return generic.BusinessRulef("adjustment %s does not apply to cuota %s (%s)", id, cuotaID, c.Period)
		}

		before, rebuilt, err := s.rebuilder.Rebuild(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		after = rebuilt

		r := refs(*a)
		r.CuotaID = &cuotaID
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditApplyAdjustment,
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

func (s *Service) Get(ctx context.Context, id generic.AdjustmentID) (*generic.Adjustment, error) {
	a, err := s.store.GetAdjustment(ctx, id)
	if err != nil {
		return nil, generic.Internal("get adjustment", err)
	}
	if a == nil {
		return nil, generic.NotFound("adjustment", string(id))
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, personID generic.PersonID, includeInactive bool) ([]generic.Adjustment, error) {
	return s.store.ListAdjustments(ctx, personID, includeInactive)
}

func refs(a generic.Adjustment) audit.Refs {
	id := a.ID
	return audit.Refs{PersonID: a.PersonID, CuotaID: a.CuotaID, AdjustmentID: &id}
}
