package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

const adjustmentColumns = `id, persona_id, cuota_id, tipo_codigo, concepto, modo, valor, aplica_a,
	desde_periodo, hasta_periodo, motivo, activa, creado_por, created_at, updated_at`

func scanAdjustment(sc interface{ Scan(...any) error }) (generic.Adjustment, error) {
	var a generic.Adjustment
	var id, personID, mode, value, target, from, created, updated string
	var cuotaID, to, motive, createdBy sql.NullString
	var active int
	err := sc.Scan(&id, &personID, &cuotaID, &a.TypeCode, &a.Concept, &mode, &value, &target,
		&from, &to, &motive, &active, &createdBy, &created, &updated)
	if err != nil {
		return a, err
	}
	a.ID = generic.AdjustmentID(id)
	a.PersonID = generic.PersonID(personID)
	if cuotaID.Valid && cuotaID.String != "" {
		cid := generic.CuotaID(cuotaID.String)
		a.CuotaID = &cid
	}
	a.Mode = generic.AdjustmentMode(mode)
	a.Value = parseDecimal(value)
	a.AppliesTo = generic.AdjustmentTarget(target)
	a.Validity.From, _ = generic.ParsePeriod(from)
	if to.Valid && to.String != "" {
		p, err := generic.ParsePeriod(to.String)
		if err == nil {
			a.Validity.To = &p
		}
	}
	a.Motive = motive.String
	a.Active = active == 1
	a.CreatedBy = createdBy.String
	a.CreatedAt = parseTimestamp(created)
	a.UpdatedAt = parseTimestamp(updated)
	return a, nil
}

func adjustmentArgs(a generic.Adjustment) []any {
	var cuotaID, to sql.NullString
	if a.CuotaID != nil {
		cuotaID = sql.NullString{String: string(*a.CuotaID), Valid: true}
	}
	if a.Validity.To != nil {
		to = sql.NullString{String: a.Validity.To.String(), Valid: true}
	}
	return []any{
		string(a.ID), string(a.PersonID), cuotaID, a.TypeCode, a.Concept, string(a.Mode),
		a.Value.String(), string(a.AppliesTo), a.Validity.From.String(), to,
		nullString(a.Motive), boolInt(a.Active), nullString(a.CreatedBy),
		formatTimestamp(a.CreatedAt), formatTimestamp(a.UpdatedAt),
	}
}

func (s *Store) InsertAdjustment(ctx context.Context, a generic.Adjustment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ajustes_cuota (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, adjustmentArgs(a)...)
	if isUniqueConstraintError(err) {
		return generic.Conflictf("adjustment %s already exists", a.ID)
	}
	return err
}

func (s *Store) UpdateAdjustment(ctx context.Context, a generic.Adjustment) error {
	args := adjustmentArgs(a)
	args = append(args[1:], args[0])
	res, err := s.q.ExecContext(ctx, `
		UPDATE ajustes_cuota SET
			persona_id = ?, cuota_id = ?, tipo_codigo = ?, concepto = ?, modo = ?, valor = ?,
			aplica_a = ?, desde_periodo = ?, hasta_periodo = ?, motivo = ?, activa = ?,
			creado_por = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return generic.NotFound("adjustment", string(a.ID))
	}
	return nil
}

func (s *Store) GetAdjustment(ctx context.Context, id generic.AdjustmentID) (*generic.Adjustment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM ajustes_cuota WHERE id = ?`, string(id))
	a, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) queryAdjustments(ctx context.Context, query string, args ...any) ([]generic.Adjustment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) ListAdjustments(ctx context.Context, personID generic.PersonID, includeInactive bool) ([]generic.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM ajustes_cuota WHERE persona_id = ?`
	if !includeInactive {
		query += ` AND activa = 1`
	}
	query += ` ORDER BY created_at, id`
	return s.queryAdjustments(ctx, query, string(personID))
}

func (s *Store) ActiveAdjustmentsFor(ctx context.Context, ids []generic.PersonID) (map[generic.PersonID][]generic.Adjustment, error) {
	result := make(map[generic.PersonID][]generic.Adjustment)
	if len(ids) == 0 {
		return result, nil
	}
	marks, args := inClause(ids)
	list, err := s.queryAdjustments(ctx, `
		SELECT `+adjustmentColumns+` FROM ajustes_cuota
		WHERE persona_id IN (`+marks+`) AND activa = 1
		ORDER BY persona_id, created_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		result[a.PersonID] = append(result[a.PersonID], a)
	}
	return result, nil
}

func (s *Store) DeleteAdjustment(ctx context.Context, id generic.AdjustmentID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM ajustes_cuota WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return generic.NotFound("adjustment", string(id))
	}
	return nil
}
