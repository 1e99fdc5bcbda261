package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// EXEMPTION STORE
// =============================================================================

const exemptionColumns = `id, persona_id, tipo, porcentaje, aplica_base, aplica_actividades,
	motivo, descripcion, fecha_inicio, fecha_fin, estado, activa, solicitado_por,
	aprobado_por, fecha_aprobacion, motivo_rechazo, motivo_revocacion, created_at, updated_at`

func scanExemption(sc interface{ Scan(...any) error }) (generic.Exemption, error) {
	var e generic.Exemption
	var id, personID, kind, pct, from, state, created, updated string
	var description, to, requestedBy, approvedBy, approvedAt, rejection, revocation sql.NullString
	var base, activities, active int
	err := sc.Scan(&id, &personID, &kind, &pct, &base, &activities,
		&e.Motive, &description, &from, &to, &state, &active, &requestedBy,
		&approvedBy, &approvedAt, &rejection, &revocation, &created, &updated)
	if err != nil {
		return e, err
	}
	e.ID = generic.ExemptionID(id)
	e.PersonID = generic.PersonID(personID)
	e.Kind = generic.ExemptionKind(kind)
	e.Percentage = parseDecimal(pct)
	e.AppliesToBase = base == 1
	e.AppliesToActivities = activities == 1
	e.Description = description.String
	e.ValidFrom = parseDate(from)
	e.ValidTo = parseNullDate(to)
	e.State = generic.ExemptionState(state)
	e.Active = active == 1
	e.RequestedBy = requestedBy.String
	e.ApprovedBy = parseNullString(approvedBy)
	e.ApprovedAt = parseNullTimestamp(approvedAt)
	e.RejectionReason = parseNullString(rejection)
	e.RevocationReason = parseNullString(revocation)
	e.CreatedAt = parseTimestamp(created)
	e.UpdatedAt = parseTimestamp(updated)
	return e, nil
}

func exemptionArgs(e generic.Exemption) []any {
	var approvedBy, rejection, revocation sql.NullString
	if e.ApprovedBy != nil {
		approvedBy = sql.NullString{String: *e.ApprovedBy, Valid: true}
	}
	if e.RejectionReason != nil {
		rejection = sql.NullString{String: *e.RejectionReason, Valid: true}
	}
	if e.RevocationReason != nil {
		revocation = sql.NullString{String: *e.RevocationReason, Valid: true}
	}
	return []any{
		string(e.ID), string(e.PersonID), string(e.Kind), e.Percentage.String(),
		boolInt(e.AppliesToBase), boolInt(e.AppliesToActivities),
		e.Motive, nullString(e.Description), generic.FormatDate(e.ValidFrom), nullDate(e.ValidTo),
		string(e.State), boolInt(e.Active), nullString(e.RequestedBy),
		approvedBy, nullTimestamp(e.ApprovedAt), rejection, revocation,
		formatTimestamp(e.CreatedAt), formatTimestamp(e.UpdatedAt),
	}
}

func (s *Store) InsertExemption(ctx context.Context, e generic.Exemption) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO exenciones (`+exemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exemptionArgs(e)...)
	if isUniqueConstraintError(err) {
		return generic.Conflictf("exemption %s already exists", e.ID)
	}
	return err
}

func (s *Store) UpdateExemption(ctx context.Context, e generic.Exemption) error {
	args := exemptionArgs(e)
	// Reorder: every column but id, then id for the WHERE.
	args = append(args[1:], args[0])
	res, err := s.q.ExecContext(ctx, `
		UPDATE exenciones SET
			persona_id = ?, tipo = ?, porcentaje = ?, aplica_base = ?, aplica_actividades = ?,
			motivo = ?, descripcion = ?, fecha_inicio = ?, fecha_fin = ?, estado = ?, activa = ?,
			solicitado_por = ?, aprobado_por = ?, fecha_aprobacion = ?, motivo_rechazo = ?,
			motivo_revocacion = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return generic.NotFound("exemption", string(e.ID))
	}
	return nil
}

func (s *Store) GetExemption(ctx context.Context, id generic.ExemptionID) (*generic.Exemption, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+exemptionColumns+` FROM exenciones WHERE id = ?`, string(id))
	e, err := scanExemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) queryExemptions(ctx context.Context, query string, args ...any) ([]generic.Exemption, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.Exemption
	for rows.Next() {
		e, err := scanExemption(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) ListExemptions(ctx context.Context, personID generic.PersonID) ([]generic.Exemption, error) {
	return s.queryExemptions(ctx, `
		SELECT `+exemptionColumns+` FROM exenciones
		WHERE persona_id = ? ORDER BY fecha_inicio, created_at
	`, string(personID))
}

func (s *Store) EffectiveExemptionsFor(ctx context.Context, ids []generic.PersonID) (map[generic.PersonID][]generic.Exemption, error) {
	result := make(map[generic.PersonID][]generic.Exemption)
	if len(ids) == 0 {
		return result, nil
	}
	marks, args := inClause(ids)
	args = append(args, string(generic.ExemptionApproved), string(generic.ExemptionInForce))
	list, err := s.queryExemptions(ctx, `
		SELECT `+exemptionColumns+` FROM exenciones
		WHERE persona_id IN (`+marks+`) AND activa = 1 AND estado IN (?, ?)
		ORDER BY persona_id, created_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		result[e.PersonID] = append(result[e.PersonID], e)
	}
	return result, nil
}

func (s *Store) ListSweepable(ctx context.Context) ([]generic.Exemption, error) {
	return s.queryExemptions(ctx, `
		SELECT `+exemptionColumns+` FROM exenciones
		WHERE activa = 1 AND estado IN (?, ?)
		ORDER BY created_at, id
	`, string(generic.ExemptionApproved), string(generic.ExemptionInForce))
}
