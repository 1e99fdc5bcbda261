package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, codigo, nombre, prioridad, condicion_json, formula_json, modo, funcion,
	max_descuento, aplica_base, aplica_actividades, activa, created_at, updated_at`

func scanRule(sc interface{ Scan(...any) error }) (generic.DiscountRule, error) {
	var r generic.DiscountRule
	var id, condition, formula, mode, created, updated string
	var function, maxDiscount sql.NullString
	var base, activities, active int
	err := sc.Scan(&id, &r.Code, &r.Name, &r.Priority, &condition, &formula, &mode, &function,
		&maxDiscount, &base, &activities, &active, &created, &updated)
	if err != nil {
		return r, err
	}
	r.ID = generic.RuleID(id)
	r.Condition = []byte(condition)
	r.Formula = []byte(formula)
	r.Mode = generic.ApplicationMode(mode)
	r.CustomFunction = function.String
	r.MaxDiscount = parseNullDecimal(maxDiscount)
	r.AppliesToBase = base == 1
	r.AppliesToActivities = activities == 1
	r.Active = active == 1
	r.CreatedAt = parseTimestamp(created)
	r.UpdatedAt = parseTimestamp(updated)
	return r, nil
}

func (s *Store) ListDiscountRules(ctx context.Context, activeOnly bool) ([]generic.DiscountRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM reglas_descuento`
	if activeOnly {
		query += ` WHERE activa = 1`
	}
	query += ` ORDER BY prioridad, codigo`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.DiscountRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) GetDiscountRule(ctx context.Context, code string) (*generic.DiscountRule, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM reglas_descuento WHERE codigo = ?`, code)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveDiscountRule upserts by code. The id and created_at of an existing
// rule are kept.
func (s *Store) SaveDiscountRule(ctx context.Context, r generic.DiscountRule) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reglas_descuento (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(codigo) DO UPDATE SET
			nombre = excluded.nombre,
			prioridad = excluded.prioridad,
			condicion_json = excluded.condicion_json,
			formula_json = excluded.formula_json,
			modo = excluded.modo,
			funcion = excluded.funcion,
			max_descuento = excluded.max_descuento,
			aplica_base = excluded.aplica_base,
			aplica_actividades = excluded.aplica_actividades,
			activa = excluded.activa,
			updated_at = excluded.updated_at
	`, string(r.ID), r.Code, r.Name, r.Priority, string(r.Condition), string(r.Formula),
		string(r.Mode), nullString(r.CustomFunction), nullDecimal(r.MaxDiscount),
		boolInt(r.AppliesToBase), boolInt(r.AppliesToActivities), boolInt(r.Active),
		formatTimestamp(r.CreatedAt), formatTimestamp(r.UpdatedAt))
	return err
}

// GetDiscountConfig returns the stored configuration, or the defaults when
// none has been saved.
func (s *Store) GetDiscountConfig(ctx context.Context) (generic.DiscountConfig, error) {
	var limit, updated string
	var order sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT limite_total, prioridades_json, updated_at FROM config_descuento WHERE id = 1
	`).Scan(&limit, &order, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.DefaultDiscountConfig(), nil
	}
	if err != nil {
		return generic.DiscountConfig{}, err
	}

	cfg := generic.DiscountConfig{
		TotalLimit: parseDecimal(limit),
		UpdatedAt:  parseTimestamp(updated),
	}
	if order.Valid && order.String != "" {
		if err := json.Unmarshal([]byte(order.String), &cfg.PriorityOrder); err != nil {
			return generic.DiscountConfig{}, fmt.Errorf("corrupt priority order: %w", err)
		}
	}
	return cfg, nil
}

func (s *Store) SaveDiscountConfig(ctx context.Context, c generic.DiscountConfig) error {
	order, err := json.Marshal(c.PriorityOrder)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO config_descuento (id, limite_total, prioridades_json, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			limite_total = excluded.limite_total,
			prioridades_json = excluded.prioridades_json,
			updated_at = excluded.updated_at
	`, c.TotalLimit.String(), string(order), formatTimestamp(c.UpdatedAt))
	return err
}
