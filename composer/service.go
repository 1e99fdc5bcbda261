package composer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/audit"
	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

// =============================================================================
// SERVICE - Single-record cuota operations
// =============================================================================

// Service creates and maintains cuotas. Every mutating method runs in one
// transaction and records exactly one audit entry in it.
type Service struct {
	store  generic.Store
	loader *Loader
	trail  *audit.Trail
	clock  generic.Clock
	log    *logger.Logger
}

func NewService(store generic.Store, registry *catalog.Registry, trail *audit.Trail, clock generic.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Service{
		store:  store,
		loader: NewLoader(registry),
		trail:  trail,
		clock:  clock,
		log:    logger.OrNop(log).With("component", "composer"),
	}
}

func (s *Service) Loader() *Loader { return s.loader }

// Create composes and persists the cuota of personID for period.
func (s *Service) Create(ctx context.Context, personID generic.PersonID, period generic.Period, actor string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}

	var state *audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		existing, err := tx.FindCuota(ctx, personID, period)
		if err != nil {
			return generic.Internal("find cuota", err)
		}
		if existing != nil {
			return &generic.DuplicateCuotaError{PersonID: personID, Period: period, ExistingID: existing.ID}
		}

		env, err := s.loader.Env(ctx, tx)
		if err != nil {
			return err
		}
		in, err := s.loader.One(ctx, tx, personID, period)
		if err != nil {
			return err
		}
		comp, err := Compose(in, env, period)
		if err != nil {
			return err
		}
		state, err = s.Persist(ctx, tx, comp, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("cuota created", "cuota", state.Cuota.ID, "person", personID, "period", period.String(), "total", state.Cuota.Total.StringFixed(2))
	return state, nil
}

// Persist writes a composition as a new cuota: receipt, cuota, items and
// the GENERAR_CUOTA entry. tx must be an open transaction; the unique index
// rejects a second live cuota with *generic.DuplicateCuotaError.
func (s *Service) Persist(ctx context.Context, tx generic.Store, comp Composition, actor string) (*audit.CuotaState, error) {
	now := s.clock()
	cuotaID := generic.CuotaID(uuid.NewString())
	receipt := generic.Receipt{
		ID:        generic.ReceiptID(uuid.NewString()),
		PersonID:  comp.PersonID,
		Period:    comp.Period,
		Amount:    comp.Total,
		Status:    generic.ReceiptPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c := generic.Cuota{
		ID:           cuotaID,
		PersonID:     comp.PersonID,
		Period:       comp.Period,
		ReceiptID:    receipt.ID,
		Total:        comp.Total,
		CategoryCode: comp.CategoryCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := tx.SaveReceipt(ctx, receipt); err != nil {
		return nil, generic.Internal("save receipt", err)
	}
	if err := tx.InsertCuota(ctx, c); err != nil {
		return nil, generic.Internal("insert cuota", err)
	}
	items := stamp(comp.Items, cuotaID, now)
	if err := tx.InsertItems(ctx, items); err != nil {
		return nil, generic.Internal("insert items", err)
	}

	state := audit.CuotaState{Cuota: c, Items: items}
	if err := s.trail.Record(ctx, tx, audit.Record{
		Action: generic.AuditGenerateCuota,
		Refs:   audit.Refs{PersonID: c.PersonID, CuotaID: &cuotaID},
		Actor:  actor,
		After:  state,
	}); err != nil {
		return nil, err
	}
	for _, w := range comp.Warnings {
		s.log.Warn("composition warning", "person", comp.PersonID, "period", comp.Period.String(), "warning", w)
	}
	return &state, nil
}

// stamp assigns IDs, the parent cuota and the creation time to composed
// items.
func stamp(items []generic.Item, cuotaID generic.CuotaID, now time.Time) []generic.Item {
	out := make([]generic.Item, len(items))
	for i, it := range items {
		it.ID = generic.ItemID(uuid.NewString())
		it.CuotaID = cuotaID
		it.CreatedAt = now
		out[i] = it
	}
	return out
}

// Preview composes without writing anything.
func (s *Service) Preview(ctx context.Context, personID generic.PersonID, period generic.Period) (Composition, error) {
	if err := period.Validate(); err != nil {
		return Composition{}, err
	}
	env, err := s.loader.Env(ctx, s.store)
	if err != nil {
		return Composition{}, err
	}
	in, err := s.loader.One(ctx, s.store, personID, period)
	if err != nil {
		return Composition{}, err
	}
	existing, err := s.store.FindCuota(ctx, personID, period)
	if err != nil {
		return Composition{}, generic.Internal("find cuota", err)
	}
	if existing != nil {
		in.CuotaID = existing.ID
	}
	return Compose(in, env, period)
}

// =============================================================================
// REGENERATION
// =============================================================================

// Regenerate replaces the items of a cuota with a fresh composition.
func (s *Service) Regenerate(ctx context.Context, cuotaID generic.CuotaID, actor, reason string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		before, rebuilt, err := s.Rebuild(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		after = rebuilt
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditRegenerateCuota,
			Refs:   audit.Refs{PersonID: rebuilt.Cuota.PersonID, CuotaID: &cuotaID},
			Actor:  actor,
			Reason: reason,
			Before: before,
			After:  rebuilt,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("cuota regenerated", "cuota", cuotaID, "total", after.Cuota.Total.StringFixed(2), "actor", actor)
	return &after, nil
}

// Rebuild recomposes a cuota inside tx: items are deleted then inserted,
// and the total and receipt follow. It writes no audit entry; callers
// record the action that caused it.
func (s *Service) Rebuild(ctx context.Context, tx generic.Store, cuotaID generic.CuotaID) (before, after audit.CuotaState, err error) {
	c, items, err := s.load(ctx, tx, cuotaID)
	if err != nil {
		return before, after, err
	}
	if c.Legacy {
		return before, after, generic.BusinessRulef("cuota %s is legacy; migrate it before regenerating", c.ID)
	}
	before = audit.CuotaState{Cuota: *c, Items: items}

	env, err := s.loader.Env(ctx, tx)
	if err != nil {
		return before, after, err
	}
	in, err := s.loader.One(ctx, tx, c.PersonID, c.Period)
	if err != nil {
		return before, after, err
	}
	in.CuotaID = c.ID
	comp, err := Compose(in, env, c.Period)
	if err != nil {
		return before, after, err
	}

	now := s.clock()
	if err := tx.DeleteItems(ctx, c.ID); err != nil {
		return before, after, generic.Internal("delete items", err)
	}
	fresh := stamp(comp.Items, c.ID, now)
	if err := tx.InsertItems(ctx, fresh); err != nil {
		return before, after, generic.Internal("insert items", err)
	}

	updated := *c
	updated.Total = comp.Total
	updated.CategoryCode = comp.CategoryCode
	updated.UpdatedAt = now
	if err := s.saveTotal(ctx, tx, updated); err != nil {
		return before, after, err
	}
	return before, audit.CuotaState{Cuota: updated, Items: fresh}, nil
}

// Recalculate recomputes the total from the stored items without
// recomposing them.
func (s *Service) Recalculate(ctx context.Context, cuotaID generic.CuotaID, actor string) (*audit.CuotaState, error) {
	return s.editItems(ctx, cuotaID, actor, "", func(_ generic.Store, items []generic.Item) ([]generic.Item, error) {
		return items, nil
	})
}

// =============================================================================
// ITEM EDITS
// =============================================================================

// ItemPatch changes an editable item. Nil fields are kept.
type ItemPatch struct {
	Amount   *decimal.Decimal
	Quantity *int
	Concept  *string
}

func (s *Service) UpdateItem(ctx context.Context, cuotaID generic.CuotaID, itemID generic.ItemID, p ItemPatch, actor, reason string) (*audit.CuotaState, error) {
	return s.editItems(ctx, cuotaID, actor, reason, func(tx generic.Store, items []generic.Item) ([]generic.Item, error) {
		i, err := editable(items, itemID)
		if err != nil {
			return nil, err
		}
		it := items[i]
		if p.Amount != nil {
			if p.Amount.IsNegative() {
				return nil, generic.Validationf("item amount cannot be negative")
			}
			it.Amount = generic.RoundMoney(*p.Amount)
		}
		if p.Quantity != nil {
			if *p.Quantity < 1 {
				return nil, generic.Validationf("item quantity must be at least 1")
			}
			it.Quantity = *p.Quantity
		}
		if p.Concept != nil {
			if *p.Concept == "" {
				return nil, generic.Validationf("item concept cannot be empty")
			}
			it.Concept = *p.Concept
		}
		if err := tx.UpdateItem(ctx, it); err != nil {
			return nil, generic.Internal("update item", err)
		}
		items[i] = it
		return items, nil
	})
}

func (s *Service) DeleteItem(ctx context.Context, cuotaID generic.CuotaID, itemID generic.ItemID, actor, reason string) (*audit.CuotaState, error) {
	return s.editItems(ctx, cuotaID, actor, reason, func(tx generic.Store, items []generic.Item) ([]generic.Item, error) {
		i, err := editable(items, itemID)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return nil, generic.Internal("delete item", err)
		}
		return append(items[:i:i], items[i+1:]...), nil
	})
}

func editable(items []generic.Item, id generic.ItemID) (int, error) {
	for i, it := range items {
		if it.ID != id {
			continue
		}
		if !it.Editable {
			return -1, generic.BusinessRulef("item %s (%s) is not editable", id, it.TypeCode)
		}
		return i, nil
	}
	return -1, generic.NotFound("item", string(id))
}

// editItems runs change on the stored items of a cuota, then recomputes
// the total and records RECALCULAR_CUOTA.
func (s *Service) editItems(
	ctx context.Context,
	cuotaID generic.CuotaID,
	actor, reason string,
	change func(tx generic.Store, items []generic.Item) ([]generic.Item, error),
) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		c, items, err := s.load(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		if c.Legacy {
			return generic.BusinessRulef("cuota %s is legacy and has no items to edit", c.ID)
		}
		before := audit.CuotaState{Cuota: *c, Items: append([]generic.Item(nil), items...)}

		items, err = change(tx, items)
		if err != nil {
			return err
		}

		updated := *c
		updated.Total = generic.RoundMoney(generic.SumItems(items))
		updated.UpdatedAt = s.clock()
		if err := s.saveTotal(ctx, tx, updated); err != nil {
			return err
		}
		after = audit.CuotaState{Cuota: updated, Items: items}
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditRecalculateCuota,
			Refs:   audit.Refs{PersonID: c.PersonID, CuotaID: &cuotaID},
			Actor:  actor,
			Reason: reason,
			Before: before,
			After:  after,
		})
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// =============================================================================
// INVALIDATION AND LEGACY MIGRATION
// =============================================================================

// Invalidate soft-invalidates a cuota and cancels its receipt. The period
// becomes free for a new cuota.
func (s *Service) Invalidate(ctx context.Context, cuotaID generic.CuotaID, actor, reason string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	if reason == "" {
		return nil, generic.Validationf("a reason is required to invalidate a cuota")
	}
	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		c, items, err := s.load(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		before := audit.CuotaState{Cuota: *c, Items: items}

		updated := *c
		updated.Invalidated = true
		updated.UpdatedAt = s.clock()
		if err := tx.UpdateCuota(ctx, updated); err != nil {
			return generic.Internal("update cuota", err)
		}
		if err := s.updateReceipt(ctx, tx, updated, generic.ReceiptCancelled); err != nil {
			return err
		}
		after = audit.CuotaState{Cuota: updated, Items: items}
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditRecalculateCuota,
			Refs:   audit.Refs{PersonID: c.PersonID, CuotaID: &cuotaID},
			Actor:  actor,
			Reason: reason,
			Before: before,
			After:  after,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("cuota invalidated", "cuota", cuotaID, "actor", actor)
	return &after, nil
}

// MigrateLegacy turns the amounts of a legacy cuota into items tagged with
// the field they came from. Only migrated items ever carry the tag.
func (s *Service) MigrateLegacy(ctx context.Context, cuotaID generic.CuotaID, actor string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		c, items, err := s.load(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		if !c.Legacy {
			return generic.BusinessRulef("cuota %s is not legacy", c.ID)
		}
		live, err := tx.FindCuota(ctx, c.PersonID, c.Period)
		if err != nil {
			return generic.Internal("find cuota", err)
		}
		if live != nil {
			return &generic.DuplicateCuotaError{PersonID: c.PersonID, Period: c.Period, ExistingID: live.ID}
		}

		types, err := tx.ListItemTypes(ctx)
		if err != nil {
			return generic.Internal("list item types", err)
		}
		categories, err := tx.ListItemCategories(ctx)
		if err != nil {
			return generic.Internal("list item categories", err)
		}
		snap := catalog.NewSnapshot(categories, types)

		var migrated []generic.Item
		for _, f := range []struct {
			field  string
			code   string
			amount decimal.Decimal
		}{
			{generic.LegacyFieldBase, generic.TypeCuotaBase, c.LegacyBase},
			{generic.LegacyFieldActivities, generic.TypeActividad, c.LegacyActivities},
		} {
			if !f.amount.IsPositive() {
				continue
			}
			t, err := snap.MustType(f.code)
			if err != nil {
				return err
			}
			migrated = append(migrated, generic.Item{
				TypeCode:  t.Code,
				Category:  t.Category,
				Concept:   t.Name,
				Amount:    generic.RoundMoney(f.amount),
				Quantity:  1,
				Automatic: true,
				Editable:  t.Configurable,
				Order:     len(migrated) + 1,
				Metadata:  map[string]string{generic.MetaMigratedFrom: f.field},
			})
		}

		now := s.clock()
		migrated = stamp(migrated, c.ID, now)
		if err := tx.InsertItems(ctx, migrated); err != nil {
			return generic.Internal("insert items", err)
		}

		updated := *c
		updated.Legacy = false
		updated.Total = generic.RoundMoney(generic.SumItems(migrated))
		updated.UpdatedAt = now
		if err := s.saveTotal(ctx, tx, updated); err != nil {
			return err
		}
		after = audit.CuotaState{Cuota: updated, Items: migrated}
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditRegenerateCuota,
			Refs:   audit.Refs{PersonID: c.PersonID, CuotaID: &cuotaID},
			Actor:  actor,
			Reason: "migración de cuota legacy",
			Before: audit.CuotaState{Cuota: *c, Items: items},
			After:  after,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("legacy cuota migrated", "cuota", cuotaID, "items", len(after.Items), "actor", actor)
	return &after, nil
}

// RollbackMigration removes the migrated items of a cuota and restores its
// legacy amounts. It refuses when the cuota carries any item the migration
// did not create.
func (s *Service) RollbackMigration(ctx context.Context, cuotaID generic.CuotaID, actor string) (*audit.CuotaState, error) {
	if actor == "" {
		return nil, generic.Validationf("actor is required")
	}
	var after audit.CuotaState
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		c, items, err := s.load(ctx, tx, cuotaID)
		if err != nil {
			return err
		}
		if c.Legacy {
			return generic.BusinessRulef("cuota %s is already legacy", c.ID)
		}

		updated := *c
		updated.Legacy = true
		updated.LegacyBase = decimal.Zero
		updated.LegacyActivities = decimal.Zero
		tagged := 0
		for _, it := range items {
			switch it.Metadata[generic.MetaMigratedFrom] {
			case generic.LegacyFieldBase:
				updated.LegacyBase = updated.LegacyBase.Add(it.Amount)
			case generic.LegacyFieldActivities:
				updated.LegacyActivities = updated.LegacyActivities.Add(it.Amount)
			default:
				return generic.BusinessRulef("cuota %s has item %s that was not migrated", c.ID, it.ID)
			}
			tagged++
		}
		if tagged == 0 {
			return generic.BusinessRulef("cuota %s has no migrated items", c.ID)
		}

		if err := tx.DeleteItems(ctx, c.ID); err != nil {
			return generic.Internal("delete items", err)
		}
		updated.Total = updated.LegacyBase.Add(updated.LegacyActivities)
		updated.UpdatedAt = s.clock()
		if err := s.saveTotal(ctx, tx, updated); err != nil {
			return err
		}
		after = audit.CuotaState{Cuota: updated}
		return s.trail.Record(ctx, tx, audit.Record{
			Action: generic.AuditRegenerateCuota,
			Refs:   audit.Refs{PersonID: c.PersonID, CuotaID: &cuotaID},
			Actor:  actor,
			Reason: "reversión de migración legacy",
			Before: audit.CuotaState{Cuota: *c, Items: items},
			After:  after,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("legacy migration rolled back", "cuota", cuotaID, "actor", actor)
	return &after, nil
}

// =============================================================================
// READS AND HELPERS
// =============================================================================

// Get returns a cuota with its items and checks the sum invariant.
func (s *Service) Get(ctx context.Context, cuotaID generic.CuotaID) (*audit.CuotaState, error) {
	c, err := s.store.GetCuota(ctx, cuotaID)
	if err != nil {
		return nil, generic.Internal("get cuota", err)
	}
	if c == nil {
		return nil, generic.NotFound("cuota", string(cuotaID))
	}
	items, err := s.store.ListItems(ctx, cuotaID)
	if err != nil {
		return nil, generic.Internal("list items", err)
	}
	if err := VerifyTotal(*c, items); err != nil {
		s.log.Warn("cuota total does not match its items", "cuota", cuotaID, "error", err)
	}
	return &audit.CuotaState{Cuota: *c, Items: items}, nil
}

func (s *Service) List(ctx context.Context, personID generic.PersonID) ([]generic.Cuota, error) {
	return s.store.ListCuotas(ctx, personID)
}

// VerifyTotal checks that an item-based cuota's total equals the signed
// sum of its items within generic.SumTolerance.
func VerifyTotal(c generic.Cuota, items []generic.Item) error {
	if c.Legacy {
		return nil
	}
	if generic.TotalMatches(c.Total, items) {
		return nil
	}
	return generic.BusinessRulef("cuota %s total %s differs from its items sum %s",
		c.ID, c.Total.StringFixed(2), generic.SumItems(items).StringFixed(2))
}

// load returns a live cuota and its items.
func (s *Service) load(ctx context.Context, tx generic.Store, cuotaID generic.CuotaID) (*generic.Cuota, []generic.Item, error) {
	c, err := tx.GetCuota(ctx, cuotaID)
	if err != nil {
		return nil, nil, generic.Internal("get cuota", err)
	}
	if c == nil {
		return nil, nil, generic.NotFound("cuota", string(cuotaID))
	}
	if c.Invalidated {
		return nil, nil, generic.BusinessRulef("cuota %s is invalidated", c.ID)
	}
	items, err := tx.ListItems(ctx, cuotaID)
	if err != nil {
		return nil, nil, generic.Internal("list items", err)
	}
	return c, items, nil
}

// saveTotal writes the cuota and moves its receipt to the new total.
func (s *Service) saveTotal(ctx context.Context, tx generic.Store, c generic.Cuota) error {
	if err := tx.UpdateCuota(ctx, c); err != nil {
		return generic.Internal("update cuota", err)
	}
	return s.updateReceipt(ctx, tx, c, "")
}

func (s *Service) updateReceipt(ctx context.Context, tx generic.Store, c generic.Cuota, status string) error {
	if c.ReceiptID == "" {
		return nil
	}
	r, err := tx.GetReceipt(ctx, c.ReceiptID)
	if err != nil {
		return generic.Internal("get receipt", err)
	}
	if r == nil {
		return generic.Internal("update receipt", fmt.Errorf("receipt %s of cuota %s is missing", c.ReceiptID, c.ID))
	}
	r.Amount = c.Total
	if status != "" {
		r.Status = status
	}
	r.UpdatedAt = c.UpdatedAt
	if err := tx.SaveReceipt(ctx, *r); err != nil {
		return generic.Internal("save receipt", err)
	}
	return nil
}
