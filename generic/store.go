/*
store.go - Persistence contracts for the fee engine

PURPOSE:
  Defines the interface between the engine and the relational store.
  Repositories are thin: one method per query, no business logic. The
  engine relies on the store for two things it cannot do itself:

  1. ATOMICITY: WithTx runs a function in one transaction. Item
     regeneration (delete-then-insert), the cuota total, the receipt and
     the audit entry commit together or not at all.

  2. UNIQUENESS: InsertCuota must fail with *DuplicateCuotaError when a
     live item-based cuota already exists for (person, period). This is
     enforced by a unique index, not by an application pre-check, so it
     holds under concurrent batch and single-record creation.

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist. The
  calling service turns that into a NOT_FOUND error with context.

BULK READS:
  The *For methods take a set of person IDs and return one map, so the
  batch generator reads each input kind with a single query regardless of
  cohort size.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (tests use ":memory:")

SEE ALSO:
  - composer/loader.go: Uses the bulk reads
  - batch/generator.go: Uses Savepoint for per-person isolation
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG
// =============================================================================

type CatalogStore interface {
	ListItemCategories(ctx context.Context) ([]ItemCategory, error)
	GetItemCategory(ctx context.Context, code CategoryCode) (*ItemCategory, error)
	SaveItemCategory(ctx context.Context, c ItemCategory) error

	ListItemTypes(ctx context.Context) ([]ItemType, error)
	GetItemType(ctx context.Context, code string) (*ItemType, error)
	// InsertItemType fails with a CONFLICT error when the code exists.
	InsertItemType(ctx context.Context, t ItemType) error
	UpdateItemType(ctx context.Context, t ItemType) error
	DeleteItemType(ctx context.Context, code string) error
	CountItemsByType(ctx context.Context, code string) (int, error)
}

// =============================================================================
// DIRECTORY (collaborator inputs)
// =============================================================================

// Billable is a person with an active SOCIO assignment on the billing date.
type Billable struct {
	Person       Person
	CategoryCode string
}

type BillableQuery struct {
	Period Period
	// CategoryCode restricts to one membership category.
	CategoryCode *string
	// PersonIDs restricts to the given people (empty = everyone).
	PersonIDs []PersonID
	// ExcludeBilled drops people who already have a live cuota for Period.
	ExcludeBilled bool
}

type DirectoryStore interface {
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	// ListBillable is the single eligibility query of a batch run.
	ListBillable(ctx context.Context, q BillableQuery) ([]Billable, error)
	ListMemberCategories(ctx context.Context) ([]MemberCategory, error)
	ParticipationsFor(ctx context.Context, ids []PersonID, period Period) (map[PersonID][]Participation, error)
	FamilyRelationsFor(ctx context.Context, ids []PersonID) (map[PersonID][]FamilyRelation, error)
}

// =============================================================================
// RULES
// =============================================================================

type RuleStore interface {
	ListDiscountRules(ctx context.Context, activeOnly bool) ([]DiscountRule, error)
	GetDiscountRule(ctx context.Context, code string) (*DiscountRule, error)
	// SaveDiscountRule inserts or updates by code.
	SaveDiscountRule(ctx context.Context, r DiscountRule) error
	GetDiscountConfig(ctx context.Context) (DiscountConfig, error)
	SaveDiscountConfig(ctx context.Context, c DiscountConfig) error
}

// =============================================================================
// CUOTAS AND RECEIPTS
// =============================================================================

type CuotaStore interface {
	// InsertCuota fails with *DuplicateCuotaError on a second live cuota
	// for the same person and period.
	InsertCuota(ctx context.Context, c Cuota) error
	UpdateCuota(ctx context.Context, c Cuota) error
	GetCuota(ctx context.Context, id CuotaID) (*Cuota, error)
	// FindCuota returns the live item-based cuota for person and period.
	FindCuota(ctx context.Context, personID PersonID, period Period) (*Cuota, error)
	ListCuotas(ctx context.Context, personID PersonID) ([]Cuota, error)

	ListItems(ctx context.Context, cuotaID CuotaID) ([]Item, error)
	InsertItems(ctx context.Context, items []Item) error
	UpdateItem(ctx context.Context, it Item) error
	DeleteItem(ctx context.Context, id ItemID) error
	DeleteItems(ctx context.Context, cuotaID CuotaID) error
}

type ReceiptStore interface {
	SaveReceipt(ctx context.Context, r Receipt) error
	GetReceipt(ctx context.Context, id ReceiptID) (*Receipt, error)
}

// =============================================================================
// EXEMPTIONS AND ADJUSTMENTS
// =============================================================================

type ExemptionStore interface {
	InsertExemption(ctx context.Context, e Exemption) error
	UpdateExemption(ctx context.Context, e Exemption) error
	GetExemption(ctx context.Context, id ExemptionID) (*Exemption, error)
	ListExemptions(ctx context.Context, personID PersonID) ([]Exemption, error)
	// EffectiveExemptionsFor returns active APROBADA/VIGENTE exemptions.
	EffectiveExemptionsFor(ctx context.Context, ids []PersonID) (map[PersonID][]Exemption, error)
	// ListSweepable returns every active APROBADA/VIGENTE exemption.
	ListSweepable(ctx context.Context) ([]Exemption, error)
}

type AdjustmentStore interface {
	InsertAdjustment(ctx context.Context, a Adjustment) error
	UpdateAdjustment(ctx context.Context, a Adjustment) error
	GetAdjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error)
	ListAdjustments(ctx context.Context, personID PersonID, includeInactive bool) ([]Adjustment, error)
	// ActiveAdjustmentsFor returns active adjustments, in creation order.
	ActiveAdjustmentsFor(ctx context.Context, ids []PersonID) (map[PersonID][]Adjustment, error)
	DeleteAdjustment(ctx context.Context, id AdjustmentID) error
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	// PurgeAudit deletes entries created before cutoff. Retention only.
	PurgeAudit(ctx context.Context, cutoff time.Time) (int64, error)
}

// =============================================================================
// STORE - Everything, plus transactions
// =============================================================================

type Store interface {
	CatalogStore
	DirectoryStore
	RuleStore
	CuotaStore
	ReceiptStore
	ExemptionStore
	AdjustmentStore
	AuditStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// Calling WithTx on a transactional Store runs fn in the same transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Savepoint runs fn inside a nested savepoint of the current transaction.
	// An error rolls back only the savepoint. Outside a transaction it
	// behaves like WithTx.
	Savepoint(ctx context.Context, name string, fn func(Store) error) error
}
