package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

func encodeSnapshot(s *generic.Snapshot) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeSnapshot(ns sql.NullString) (*generic.Snapshot, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var s generic.Snapshot
	if err := json.Unmarshal([]byte(ns.String), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func refArg[T ~string](p *T) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func refOf[T ~string](ns sql.NullString) *T {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := T(ns.String)
	return &v
}

func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	before, err := encodeSnapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := encodeSnapshot(e.After)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO historial_ajustes_cuota
			(id, accion, persona_id, cuota_id, ajuste_id, exencion_id,
			 datos_previos, datos_nuevos, usuario, motivo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Action), nullString(string(e.PersonID)), refArg(e.CuotaID),
		refArg(e.AdjustmentID), refArg(e.ExemptionID), before, after,
		e.Actor, nullString(e.Reason), formatTimestamp(e.CreatedAt))
	return err
}

func (s *Store) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var where []string
	var args []any

	if f.PersonID != nil {
		where = append(where, "persona_id = ?")
		args = append(args, string(*f.PersonID))
	}
	if f.CuotaID != nil {
		where = append(where, "cuota_id = ?")
		args = append(args, string(*f.CuotaID))
	}
	if f.AdjustmentID != nil {
		where = append(where, "ajuste_id = ?")
		args = append(args, string(*f.AdjustmentID))
	}
	if f.ExemptionID != nil {
		where = append(where, "exencion_id = ?")
		args = append(args, string(*f.ExemptionID))
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "accion IN ("+strings.Join(marks, ", ")+")")
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTimestamp(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTimestamp(*f.To))
	}

	query := `
		SELECT id, accion, persona_id, cuota_id, ajuste_id, exencion_id,
		       datos_previos, datos_nuevos, usuario, motivo, created_at
		FROM historial_ajustes_cuota`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.AuditEntry
	for rows.Next() {
		var e generic.AuditEntry
		var action, created string
		var personID, cuotaID, adjustmentID, exemptionID, before, after, reason sql.NullString
		if err := rows.Scan(&e.ID, &action, &personID, &cuotaID, &adjustmentID, &exemptionID,
			&before, &after, &e.Actor, &reason, &created); err != nil {
			return nil, err
		}
		e.Action = generic.AuditAction(action)
		e.PersonID = generic.PersonID(personID.String)
		e.CuotaID = refOf[generic.CuotaID](cuotaID)
		e.AdjustmentID = refOf[generic.AdjustmentID](adjustmentID)
		e.ExemptionID = refOf[generic.ExemptionID](exemptionID)
		if e.Before, err = decodeSnapshot(before); err != nil {
			return nil, err
		}
		if e.After, err = decodeSnapshot(after); err != nil {
			return nil, err
		}
		e.Reason = reason.String
		e.CreatedAt = parseTimestamp(created)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) PurgeAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM historial_ajustes_cuota WHERE created_at < ?`, formatTimestamp(cutoff))
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}
