package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// CATALOG STORE
// =============================================================================

func (s *Store) ListItemCategories(ctx context.Context) ([]generic.ItemCategory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, codigo, nombre, orden, activa
		FROM categorias_item ORDER BY orden, codigo
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.ItemCategory
	for rows.Next() {
		var c generic.ItemCategory
		var code string
		var active int
		if err := rows.Scan(&c.ID, &code, &c.Name, &c.DisplayOrder, &active); err != nil {
			return nil, err
		}
		c.Code = generic.CategoryCode(code)
		c.Active = active == 1
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetItemCategory(ctx context.Context, code generic.CategoryCode) (*generic.ItemCategory, error) {
	var c generic.ItemCategory
	var codeStr string
	var active int
	err := s.q.QueryRowContext(ctx, `
		SELECT id, codigo, nombre, orden, activa
		FROM categorias_item WHERE codigo = ?
	`, string(code)).Scan(&c.ID, &codeStr, &c.Name, &c.DisplayOrder, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Code = generic.CategoryCode(codeStr)
	c.Active = active == 1
	return &c, nil
}

// SaveItemCategory upserts by code.
func (s *Store) SaveItemCategory(ctx context.Context, c generic.ItemCategory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categorias_item (id, codigo, nombre, orden, activa)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(codigo) DO UPDATE SET
			nombre = excluded.nombre,
			orden = excluded.orden,
			activa = excluded.activa
	`, c.ID, string(c.Code), c.Name, c.DisplayOrder, boolInt(c.Active))
	return err
}

const itemTypeColumns = `id, codigo, nombre, categoria_codigo, es_calculado, formula_json,
	configurable, orden, activo, sistema`

func scanItemType(sc interface{ Scan(...any) error }) (generic.ItemType, error) {
	var t generic.ItemType
	var category string
	var formula sql.NullString
	var calculated, configurable, active, system int
	err := sc.Scan(&t.ID, &t.Code, &t.Name, &category, &calculated, &formula,
		&configurable, &t.DisplayOrder, &active, &system)
	if err != nil {
		return t, err
	}
	t.Category = generic.CategoryCode(category)
	t.Calculated = calculated == 1
	t.Configurable = configurable == 1
	t.Active = active == 1
	t.System = system == 1
	if formula.Valid && formula.String != "" {
		t.Formula = []byte(formula.String)
	}
	return t, nil
}

func (s *Store) ListItemTypes(ctx context.Context) ([]generic.ItemType, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+itemTypeColumns+` FROM tipos_item_cuota ORDER BY orden, codigo`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.ItemType
	for rows.Next() {
		t, err := scanItemType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) GetItemType(ctx context.Context, code string) (*generic.ItemType, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+itemTypeColumns+` FROM tipos_item_cuota WHERE codigo = ?`, code)
	t, err := scanItemType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) InsertItemType(ctx context.Context, t generic.ItemType) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tipos_item_cuota (`+itemTypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Code, t.Name, string(t.Category), boolInt(t.Calculated), nullBytes(t.Formula),
		boolInt(t.Configurable), t.DisplayOrder, boolInt(t.Active), boolInt(t.System))
	if isUniqueConstraintError(err) {
		return generic.Conflictf("item type %s already exists", t.Code)
	}
	return err
}

func (s *Store) UpdateItemType(ctx context.Context, t generic.ItemType) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tipos_item_cuota SET
			nombre = ?, categoria_codigo = ?, es_calculado = ?, formula_json = ?,
			configurable = ?, orden = ?, activo = ?
		WHERE codigo = ?
	`, t.Name, string(t.Category), boolInt(t.Calculated), nullBytes(t.Formula),
		boolInt(t.Configurable), t.DisplayOrder, boolInt(t.Active), t.Code)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return generic.NotFound("item type", t.Code)
	}
	return nil
}

func (s *Store) DeleteItemType(ctx context.Context, code string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM tipos_item_cuota WHERE codigo = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to delete item type %s: %w", code, err)
	}
	return nil
}

func (s *Store) CountItemsByType(ctx context.Context, code string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items_cuota WHERE tipo_codigo = ?`, code).Scan(&n)
	return n, err
}
