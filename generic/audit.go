/*
audit.go - Immutable audit trail of every fee mutation

PURPOSE:
  Every mutation of an adjustment, an exemption or a cuota writes exactly
  one AuditEntry inside the same transaction as the mutation. If the audit
  write fails the mutation rolls back, so no un-audited change is ever
  committed.

SNAPSHOTS:
  Before/After hold the full object state (not a diff) as a versioned,
  schema-on-read JSON payload. They exist for forensics, not replay.

APPEND-ONLY CONTRACT:
  Entries are never updated. The only removal path is the retention purge
  (audit.Trail.Purge), which deletes in bulk and is logged once at the
  operation level.

SEE ALSO:
  - audit/trail.go: Recording helpers, queries, retention purge
  - store.go: AuditStore
*/
package generic

import (
	"encoding/json"
	"time"
)

type AuditAction string

const (
	AuditCreateAdjustment AuditAction = "CREAR_AJUSTE"
	AuditModifyAdjustment AuditAction = "MODIFICAR_AJUSTE"
	AuditDeleteAdjustment AuditAction = "ELIMINAR_AJUSTE"
	AuditApplyAdjustment  AuditAction = "APLICAR_AJUSTE_MANUAL"
	AuditGenerateCuota    AuditAction = "GENERAR_CUOTA"
	AuditRecalculateCuota AuditAction = "RECALCULAR_CUOTA"
	AuditRegenerateCuota  AuditAction = "REGENERAR_CUOTA"
	AuditCreateExemption  AuditAction = "CREAR_EXENCION"
	AuditModifyExemption  AuditAction = "MODIFICAR_EXENCION"
	AuditDeleteExemption  AuditAction = "ELIMINAR_EXENCION"
	AuditApplyExemption   AuditAction = "APLICAR_EXENCION"
)

// SnapshotVersion is bumped when the shape of a snapshotted type changes.
const SnapshotVersion = 1

// Snapshot is an opaque, versioned copy of an object's state.
type Snapshot struct {
	Version int             `json:"v"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// NewSnapshot captures v. A nil v yields a nil snapshot (no prior state).
func NewSnapshot(kind string, v any) (*Snapshot, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, Internal("snapshot "+kind, err)
	}
	return &Snapshot{Version: SnapshotVersion, Kind: kind, Data: data}, nil
}

// Decode unmarshals the payload into dst.
func (s *Snapshot) Decode(dst any) error {
	if s == nil {
		return nil
	}
	return json.Unmarshal(s.Data, dst)
}

type AuditEntry struct {
	ID           string
	Action       AuditAction
	PersonID     PersonID
	CuotaID      *CuotaID
	AdjustmentID *AdjustmentID
	ExemptionID  *ExemptionID
	Before       *Snapshot
	After        *Snapshot
	Actor        string
	Reason       string
	CreatedAt    time.Time
}

type AuditFilter struct {
	PersonID     *PersonID
	CuotaID      *CuotaID
	AdjustmentID *AdjustmentID
	ExemptionID  *ExemptionID
	Actions      []AuditAction
	From         *time.Time
	To           *time.Time
	Limit        int
}
