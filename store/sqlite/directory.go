package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// DIRECTORY STORE - Collaborator inputs (read side)
// =============================================================================

func (s *Store) GetPerson(ctx context.Context, id generic.PersonID) (*generic.Person, error) {
	var p generic.Person
	var enrolled string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, nombre, fecha_alta FROM personas WHERE id = ?
	`, string(id)).Scan(&p.ID, &p.Name, &enrolled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.EnrolledAt = parseDate(enrolled)
	return &p, nil
}

// ListBillable returns people with an active SOCIO assignment on the
// period's billing date. A person with several overlapping assignments is
// returned once, with the most recent one.
func (s *Store) ListBillable(ctx context.Context, q generic.BillableQuery) ([]generic.Billable, error) {
	day := generic.FormatDate(q.Period.BillingDate())

	var sb strings.Builder
	sb.WriteString(`
		SELECT p.id, p.nombre, p.fecha_alta, COALESCE(a.categoria_codigo, '')
		FROM personas p
		JOIN asignaciones_tipo a ON a.persona_id = p.id
		WHERE a.tipo_codigo = ?
		  AND a.fecha_desde <= ?
		  AND (a.fecha_hasta IS NULL OR a.fecha_hasta >= ?)`)
	args := []any{generic.AssignmentSocio, day, day}

	if q.CategoryCode != nil {
		sb.WriteString(` AND a.categoria_codigo = ?`)
		args = append(args, *q.CategoryCode)
	}
	if len(q.PersonIDs) > 0 {
		marks, idArgs := inClause(q.PersonIDs)
		sb.WriteString(` AND p.id IN (` + marks + `)`)
		args = append(args, idArgs...)
	}
	if q.ExcludeBilled {
		sb.WriteString(`
		  AND NOT EXISTS (
			SELECT 1 FROM cuotas c
			WHERE c.persona_id = p.id AND c.anio = ? AND c.mes = ? AND c.invalidada = 0
		  )`)
		args = append(args, q.Period.Year, int(q.Period.Month))
	}
	sb.WriteString(` ORDER BY p.id, a.fecha_desde DESC`)

	rows, err := s.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.Billable
	seen := make(map[generic.PersonID]bool)
	for rows.Next() {
		var b generic.Billable
		var id, enrolled string
		if err := rows.Scan(&id, &b.Person.Name, &enrolled, &b.CategoryCode); err != nil {
			return nil, err
		}
		b.Person.ID = generic.PersonID(id)
		if seen[b.Person.ID] {
			continue
		}
		seen[b.Person.ID] = true
		b.Person.EnrolledAt = parseDate(enrolled)
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *Store) ListMemberCategories(ctx context.Context) ([]generic.MemberCategory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT codigo, nombre, monto_base, activa FROM categorias_socio ORDER BY codigo
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.MemberCategory
	for rows.Next() {
		var c generic.MemberCategory
		var amount string
		var active int
		if err := rows.Scan(&c.Code, &c.Name, &amount, &active); err != nil {
			return nil, err
		}
		c.BaseAmount = parseDecimal(amount)
		c.Active = active == 1
		result = append(result, c)
	}
	return result, rows.Err()
}

// ParticipationsFor returns active participations overlapping period,
// ordered by activity name then id.
func (s *Store) ParticipationsFor(ctx context.Context, ids []generic.PersonID, period generic.Period) (map[generic.PersonID][]generic.Participation, error) {
	result := make(map[generic.PersonID][]generic.Participation)
	if len(ids) == 0 {
		return result, nil
	}

	marks, args := inClause(ids)
	args = append(args, generic.FormatDate(period.End()), generic.FormatDate(period.Start()))
	rows, err := s.q.QueryContext(ctx, `
		SELECT pa.id, pa.persona_id, pa.actividad_id, ac.nombre, ac.precio,
		       pa.precio_especial, pa.fecha_inicio, pa.fecha_fin, pa.activa
		FROM participaciones pa
		JOIN actividades ac ON ac.id = pa.actividad_id
		WHERE pa.persona_id IN (`+marks+`)
		  AND pa.activa = 1
		  AND pa.fecha_inicio <= ?
		  AND (pa.fecha_fin IS NULL OR pa.fecha_fin >= ?)
		ORDER BY pa.persona_id, ac.nombre, pa.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p generic.Participation
		var personID, price, from string
		var special, to sql.NullString
		var active int
		if err := rows.Scan(&p.ID, &personID, &p.ActivityID, &p.ActivityName, &price,
			&special, &from, &to, &active); err != nil {
			return nil, err
		}
		p.PersonID = generic.PersonID(personID)
		p.StandardPrice = parseDecimal(price)
		p.SpecialPrice = parseNullDecimal(special)
		p.From = parseDate(from)
		p.To = parseNullDate(to)
		p.Active = active == 1
		result[p.PersonID] = append(result[p.PersonID], p)
	}
	return result, rows.Err()
}

func (s *Store) FamilyRelationsFor(ctx context.Context, ids []generic.PersonID) (map[generic.PersonID][]generic.FamilyRelation, error) {
	result := make(map[generic.PersonID][]generic.FamilyRelation)
	if len(ids) == 0 {
		return result, nil
	}

	marks, args := inClause(ids)
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, persona_id, familiar_id, tipo, porcentaje, activa
		FROM relaciones_familiares
		WHERE persona_id IN (`+marks+`) AND activa = 1
		ORDER BY persona_id, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r generic.FamilyRelation
		var personID, relatedID, pct string
		var active int
		if err := rows.Scan(&r.ID, &personID, &relatedID, &r.Kind, &pct, &active); err != nil {
			return nil, err
		}
		r.PersonID = generic.PersonID(personID)
		r.RelatedPersonID = generic.PersonID(relatedID)
		r.Percentage = parseDecimal(pct)
		r.Active = active == 1
		result[r.PersonID] = append(result[r.PersonID], r)
	}
	return result, rows.Err()
}

// =============================================================================
// DIRECTORY WRITES - Used by demo scenarios and tests
// =============================================================================

func (s *Store) SavePerson(ctx context.Context, p generic.Person) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO personas (id, nombre, fecha_alta) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET nombre = excluded.nombre, fecha_alta = excluded.fecha_alta
	`, string(p.ID), p.Name, generic.FormatDate(p.EnrolledAt))
	return err
}

func (s *Store) SaveAssignment(ctx context.Context, a generic.TypeAssignment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO asignaciones_tipo
			(id, persona_id, tipo_codigo, categoria_codigo, fecha_desde, fecha_hasta)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.PersonID), a.TypeCode, nullString(a.CategoryCode),
		generic.FormatDate(a.From), nullDate(a.To))
	return err
}

func (s *Store) SaveMemberCategory(ctx context.Context, c generic.MemberCategory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categorias_socio (codigo, nombre, monto_base, activa) VALUES (?, ?, ?, ?)
		ON CONFLICT(codigo) DO UPDATE SET
			nombre = excluded.nombre, monto_base = excluded.monto_base, activa = excluded.activa
	`, c.Code, c.Name, c.BaseAmount.String(), boolInt(c.Active))
	return err
}

func (s *Store) SaveActivity(ctx context.Context, a generic.Activity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO actividades (id, nombre, precio) VALUES (?, ?, ?)
	`, a.ID, a.Name, a.Price.String())
	return err
}

func (s *Store) SaveParticipation(ctx context.Context, p generic.Participation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO participaciones
			(id, persona_id, actividad_id, precio_especial, fecha_inicio, fecha_fin, activa)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.PersonID), p.ActivityID, nullDecimal(p.SpecialPrice),
		generic.FormatDate(p.From), nullDate(p.To), boolInt(p.Active))
	return err
}

func (s *Store) SaveFamilyRelation(ctx context.Context, r generic.FamilyRelation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO relaciones_familiares
			(id, persona_id, familiar_id, tipo, porcentaje, activa)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.PersonID), string(r.RelatedPersonID), r.Kind,
		r.Percentage.String(), boolInt(r.Active))
	return err
}

// =============================================================================
// RECEIPT STORE
// =============================================================================

func (s *Store) SaveReceipt(ctx context.Context, r generic.Receipt) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recibos (id, persona_id, periodo, importe, estado, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			importe = excluded.importe,
			estado = excluded.estado,
			updated_at = excluded.updated_at
	`, string(r.ID), string(r.PersonID), r.Period.String(), r.Amount.String(), r.Status,
		formatTimestamp(r.CreatedAt), formatTimestamp(r.UpdatedAt))
	return err
}

func (s *Store) GetReceipt(ctx context.Context, id generic.ReceiptID) (*generic.Receipt, error) {
	var r generic.Receipt
	var rid, personID, period, amount, created, updated string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, persona_id, periodo, importe, estado, created_at, updated_at
		FROM recibos WHERE id = ?
	`, string(id)).Scan(&rid, &personID, &period, &amount, &r.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.ID = generic.ReceiptID(rid)
	r.PersonID = generic.PersonID(personID)
	r.Period, _ = generic.ParsePeriod(period)
	r.Amount = parseDecimal(amount)
	r.CreatedAt = parseTimestamp(created)
	r.UpdatedAt = parseTimestamp(updated)
	return &r, nil
}
