package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// CUOTA STORE
// =============================================================================

const cuotaColumns = `id, persona_id, anio, mes, recibo_id, categoria_codigo, monto_total,
	legacy, monto_base, monto_actividades, invalidada, created_at, updated_at`

func scanCuota(sc interface{ Scan(...any) error }) (generic.Cuota, error) {
	var c generic.Cuota
	var id, personID, total, created, updated string
	var month int
	var receipt, category, legacyBase, legacyActivities sql.NullString
	var legacy, invalidated int
	err := sc.Scan(&id, &personID, &c.Period.Year, &month, &receipt, &category, &total,
		&legacy, &legacyBase, &legacyActivities, &invalidated, &created, &updated)
	if err != nil {
		return c, err
	}
	c.ID = generic.CuotaID(id)
	c.PersonID = generic.PersonID(personID)
	c.Period.Month = time.Month(month)
	c.ReceiptID = generic.ReceiptID(receipt.String)
	c.CategoryCode = category.String
	c.Total = parseDecimal(total)
	c.Legacy = legacy == 1
	if legacyBase.Valid {
		c.LegacyBase = parseDecimal(legacyBase.String)
	}
	if legacyActivities.Valid {
		c.LegacyActivities = parseDecimal(legacyActivities.String)
	}
	c.Invalidated = invalidated == 1
	c.CreatedAt = parseTimestamp(created)
	c.UpdatedAt = parseTimestamp(updated)
	return c, nil
}

func cuotaArgs(c generic.Cuota) []any {
	var legacyBase, legacyActivities sql.NullString
	if c.Legacy || !c.LegacyBase.IsZero() || !c.LegacyActivities.IsZero() {
		legacyBase = sql.NullString{String: c.LegacyBase.String(), Valid: true}
		legacyActivities = sql.NullString{String: c.LegacyActivities.String(), Valid: true}
	}
	return []any{
		string(c.ID), string(c.PersonID), c.Period.Year, int(c.Period.Month),
		nullString(string(c.ReceiptID)), nullString(c.CategoryCode), c.Total.String(),
		boolInt(c.Legacy), legacyBase, legacyActivities, boolInt(c.Invalidated),
		formatTimestamp(c.CreatedAt), formatTimestamp(c.UpdatedAt),
	}
}

// InsertCuota relies on idx_cuotas_persona_periodo for uniqueness.
func (s *Store) InsertCuota(ctx context.Context, c generic.Cuota) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO cuotas (`+cuotaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cuotaArgs(c)...)
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		dup := &generic.DuplicateCuotaError{PersonID: c.PersonID, Period: c.Period}
		if existing, findErr := s.FindCuota(ctx, c.PersonID, c.Period); findErr == nil && existing != nil {
			dup.ExistingID = existing.ID
		}
		return dup
	}
	return fmt.Errorf("failed to insert cuota: %w", err)
}

func (s *Store) UpdateCuota(ctx context.Context, c generic.Cuota) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE cuotas SET
			recibo_id = ?, categoria_codigo = ?, monto_total = ?, legacy = ?,
			monto_base = ?, monto_actividades = ?, invalidada = ?, updated_at = ?
		WHERE id = ?
	`, nullString(string(c.ReceiptID)), nullString(c.CategoryCode), c.Total.String(),
		boolInt(c.Legacy), nullDecimal(&c.LegacyBase), nullDecimal(&c.LegacyActivities),
		boolInt(c.Invalidated), formatTimestamp(c.UpdatedAt), string(c.ID))
	if isUniqueConstraintError(err) {
		return &generic.DuplicateCuotaError{PersonID: c.PersonID, Period: c.Period}
	}
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return generic.NotFound("cuota", string(c.ID))
	}
	return nil
}

func (s *Store) GetCuota(ctx context.Context, id generic.CuotaID) (*generic.Cuota, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+cuotaColumns+` FROM cuotas WHERE id = ?`, string(id))
	c, err := scanCuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCuota(ctx context.Context, personID generic.PersonID, period generic.Period) (*generic.Cuota, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+cuotaColumns+` FROM cuotas
		WHERE persona_id = ? AND anio = ? AND mes = ? AND legacy = 0 AND invalidada = 0
	`, string(personID), period.Year, int(period.Month))
	c, err := scanCuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCuotas(ctx context.Context, personID generic.PersonID) ([]generic.Cuota, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+cuotaColumns+` FROM cuotas WHERE persona_id = ? ORDER BY anio, mes, created_at
	`, string(personID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.Cuota
	for rows.Next() {
		c, err := scanCuota(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, cuota_id, tipo_codigo, categoria_codigo, concepto, monto, cantidad,
	porcentaje, es_automatico, es_editable, orden, metadata_json, created_at`

func (s *Store) ListItems(ctx context.Context, cuotaID generic.CuotaID) ([]generic.Item, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items_cuota WHERE cuota_id = ? ORDER BY orden, id
	`, string(cuotaID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.Item
	for rows.Next() {
		var it generic.Item
		var id, cuota, category, amount, created string
		var pct, meta sql.NullString
		var automatic, editable int
		if err := rows.Scan(&id, &cuota, &it.TypeCode, &category, &it.Concept, &amount, &it.Quantity,
			&pct, &automatic, &editable, &it.Order, &meta, &created); err != nil {
			return nil, err
		}
		it.ID = generic.ItemID(id)
		it.CuotaID = generic.CuotaID(cuota)
		it.Category = generic.CategoryCode(category)
		it.Amount = parseDecimal(amount)
		it.Percentage = parseNullDecimal(pct)
		it.Automatic = automatic == 1
		it.Editable = editable == 1
		it.CreatedAt = parseTimestamp(created)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &it.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata on item %s: %w", id, err)
			}
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *Store) InsertItems(ctx context.Context, items []generic.Item) error {
	for _, it := range items {
		meta, err := encodeMetadata(it.Metadata)
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO items_cuota (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, string(it.ID), string(it.CuotaID), it.TypeCode, string(it.Category), it.Concept,
			it.Amount.String(), it.Quantity, nullDecimal(it.Percentage), boolInt(it.Automatic),
			boolInt(it.Editable), it.Order, meta, formatTimestamp(it.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert item %s: %w", it.TypeCode, err)
		}
	}
	return nil
}

func (s *Store) UpdateItem(ctx context.Context, it generic.Item) error {
	meta, err := encodeMetadata(it.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE items_cuota SET
			concepto = ?, monto = ?, cantidad = ?, porcentaje = ?, metadata_json = ?
		WHERE id = ?
	`, it.Concept, it.Amount.String(), it.Quantity, nullDecimal(it.Percentage), meta, string(it.ID))
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return generic.NotFound("item", string(it.ID))
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id generic.ItemID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM items_cuota WHERE id = ?`, string(id))
	return err
}

func (s *Store) DeleteItems(ctx context.Context, cuotaID generic.CuotaID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM items_cuota WHERE cuota_id = ?`, string(cuotaID))
	return err
}
