/*
Package audit records and queries the fee audit trail.

PURPOSE:
  Every mutation of an adjustment, an exemption or a cuota records exactly
  one entry through Trail.Record, using the transactional store the
  mutation runs on. A failed audit write fails the mutation.

CRITICAL INVARIANTS:
  1. ONE ENTRY PER MUTATION, written in the mutation's transaction
  2. APPEND-ONLY: entries are never updated
  3. FULL STATE: Before/After are complete snapshots, not diffs
  4. The retention purge is the only delete, and it is logged once per run

SNAPSHOT KINDS:
  "ajuste"    generic.Adjustment
  "exencion"  generic.Exemption
  "cuota"     audit.CuotaState (cuota plus its items)

SEE ALSO:
  - generic/audit.go: AuditEntry, Snapshot
*/
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

const (
	KindAdjustment = "ajuste"
	KindExemption  = "exencion"
	KindCuota      = "cuota"
)

// DefaultQueryLimit bounds Query when the filter sets no limit.
const DefaultQueryLimit = 500

// CuotaState is the snapshot payload of a cuota.
type CuotaState struct {
	Cuota generic.Cuota  `json:"cuota"`
	Items []generic.Item `json:"items"`
}

// Refs identifies what an entry is about.
type Refs struct {
	PersonID     generic.PersonID
	CuotaID      *generic.CuotaID
	AdjustmentID *generic.AdjustmentID
	ExemptionID  *generic.ExemptionID
}

// Record is one mutation to audit. Before is nil on creation and After is
// nil on physical deletion.
type Record struct {
	Action generic.AuditAction
	Refs   Refs
	Actor  string
	Reason string
	Before any
	After  any
}

type Trail struct {
	store generic.AuditStore
	clock generic.Clock
	log   *logger.Logger
}

func NewTrail(store generic.AuditStore, clock generic.Clock, log *logger.Logger) *Trail {
	if clock == nil {
		clock = generic.SystemClock
	}
	return &Trail{store: store, clock: clock, log: logger.OrNop(log).With("component", "audit")}
}

// Record appends one entry through st, which must be the store of the
// mutation's transaction.
func (t *Trail) Record(ctx context.Context, st generic.AuditStore, r Record) error {
	if r.Action == "" {
		return generic.Validationf("audit action is required")
	}
	if r.Actor == "" {
		return generic.Validationf("audit actor is required")
	}

	before, err := snapshot(r.Before)
	if err != nil {
		return err
	}
	after, err := snapshot(r.After)
	if err != nil {
		return err
	}

	entry := generic.AuditEntry{
		ID:           uuid.NewString(),
		Action:       r.Action,
		PersonID:     r.Refs.PersonID,
		CuotaID:      r.Refs.CuotaID,
		AdjustmentID: r.Refs.AdjustmentID,
		ExemptionID:  r.Refs.ExemptionID,
		Before:       before,
		After:        after,
		Actor:        r.Actor,
		Reason:       r.Reason,
		CreatedAt:    t.clock(),
	}
	if err := st.AppendAudit(ctx, entry); err != nil {
		return generic.Internal("append audit "+string(r.Action), err)
	}
	return nil
}

func snapshot(v any) (*generic.Snapshot, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case generic.Adjustment:
		return generic.NewSnapshot(KindAdjustment, s)
	case *generic.Adjustment:
		if s == nil {
			return nil, nil
		}
		return generic.NewSnapshot(KindAdjustment, *s)
	case generic.Exemption:
		return generic.NewSnapshot(KindExemption, s)
	case *generic.Exemption:
		if s == nil {
			return nil, nil
		}
		return generic.NewSnapshot(KindExemption, *s)
	case CuotaState:
		return generic.NewSnapshot(KindCuota, s)
	case *CuotaState:
		if s == nil {
			return nil, nil
		}
		return generic.NewSnapshot(KindCuota, *s)
	default:
		return nil, generic.Internal("audit snapshot", fmt.Errorf("unsupported snapshot type %T", v))
	}
}

// Query returns entries matching f, oldest first.
func (t *Trail) Query(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	entries, err := t.store.QueryAudit(ctx, f)
	if err != nil {
		return nil, generic.Internal("query audit", err)
	}
	return entries, nil
}

// Purge deletes every entry created before cutoff. It bypasses per-row
// auditing and logs a single line for the whole operation.
func (t *Trail) Purge(ctx context.Context, cutoff time.Time, actor string) (int64, error) {
	if actor == "" {
		return 0, generic.Validationf("purge actor is required")
	}
	if !cutoff.Before(t.clock()) {
		return 0, generic.Validationf("purge cutoff %s is not in the past", cutoff.Format(time.RFC3339))
	}
	n, err := t.store.PurgeAudit(ctx, cutoff)
	if err != nil {
		return 0, generic.Internal("purge audit", err)
	}
	t.log.Info("audit retention purge", "cutoff", cutoff.Format(time.RFC3339), "deleted", n, "actor", actor)
	return n, nil
}

// PurgeRetention deletes entries older than retentionDays.
func (t *Trail) PurgeRetention(ctx context.Context, retentionDays int, actor string) (int64, error) {
	if retentionDays <= 0 {
		return 0, generic.Validationf("retention days must be positive")
	}
	cutoff := t.clock().AddDate(0, 0, -retentionDays)
	return t.Purge(ctx, cutoff, actor)
}
