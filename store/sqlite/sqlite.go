/*
Package sqlite provides a SQLite-backed implementation of generic.Store.

PURPOSE:
  Implements every persistence interface the fee engine needs using
  SQLite. In production the same SQL runs on PostgreSQL with minor
  dialect changes (partial unique indexes and savepoints exist in both).

KEY TABLES:
  categorias_item / tipos_item_cuota:  Catalog
  cuotas / items_cuota:                Fee records and their line items
  recibos:                             Receivable counterpart of a cuota
  reglas_descuento / config_descuento: Discount rules and global config
  exenciones / ajustes_cuota:          Waivers and manual corrections
  historial_ajustes_cuota:             Append-only audit trail
  personas / asignaciones_tipo / categorias_socio / actividades /
  participaciones / relaciones_familiares: Collaborator inputs

UNIQUENESS:
  idx_cuotas_persona_periodo is a partial unique index over live,
  item-based cuotas. It is the authority for "one cuota per person per
  period"; InsertCuota maps its violation to *generic.DuplicateCuotaError.

TRANSACTIONS:
  WithTx returns a Store bound to the *sql.Tx, so every repository method
  called inside fn runs in the transaction. Savepoint nests a SAVEPOINT
  inside the current transaction; the batch generator uses one per person.

CONCURRENCY:
  The pool is limited to one connection. SQLite serializes writers anyway,
  and ":memory:" databases are per-connection. Code running inside WithTx
  must use the Store it receives, never the outer one.

STORAGE FORMATS:
  Money/percentages: decimal strings
  Dates:             "2006-01-02"
  Timestamps:        RFC3339 (UTC)
  Descriptors:       JSON text (formulas, conditions, metadata, snapshots)

USAGE:
  store, err := sqlite.New("./data/cuotas.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/generic"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.Store using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

var _ generic.Store = (*Store)(nil)

var savepointSeq atomic.Int64

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS categorias_item (
		id TEXT PRIMARY KEY,
		codigo TEXT NOT NULL UNIQUE,
		nombre TEXT NOT NULL,
		orden INTEGER NOT NULL DEFAULT 0,
		activa INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS tipos_item_cuota (
		id TEXT PRIMARY KEY,
		codigo TEXT NOT NULL UNIQUE,
		nombre TEXT NOT NULL,
		categoria_codigo TEXT NOT NULL REFERENCES categorias_item(codigo),
		es_calculado INTEGER NOT NULL DEFAULT 0,
		formula_json TEXT,
		configurable INTEGER NOT NULL DEFAULT 1,
		orden INTEGER NOT NULL DEFAULT 0,
		activo INTEGER NOT NULL DEFAULT 1,
		sistema INTEGER NOT NULL DEFAULT 0
	);

	-- Collaborator inputs
	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		nombre TEXT NOT NULL,
		fecha_alta TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categorias_socio (
		codigo TEXT PRIMARY KEY,
		nombre TEXT NOT NULL,
		monto_base TEXT NOT NULL,
		activa INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS asignaciones_tipo (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL REFERENCES personas(id),
		tipo_codigo TEXT NOT NULL,
		categoria_codigo TEXT,
		fecha_desde TEXT NOT NULL,
		fecha_hasta TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_asignaciones_persona
		ON asignaciones_tipo(persona_id, tipo_codigo);

	CREATE TABLE IF NOT EXISTS actividades (
		id TEXT PRIMARY KEY,
		nombre TEXT NOT NULL,
		precio TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participaciones (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL REFERENCES personas(id),
		actividad_id TEXT NOT NULL REFERENCES actividades(id),
		precio_especial TEXT,
		fecha_inicio TEXT NOT NULL,
		fecha_fin TEXT,
		activa INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_participaciones_persona
		ON participaciones(persona_id);

	CREATE TABLE IF NOT EXISTS relaciones_familiares (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL REFERENCES personas(id),
		familiar_id TEXT NOT NULL,
		tipo TEXT NOT NULL,
		porcentaje TEXT NOT NULL,
		activa INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_relaciones_persona
		ON relaciones_familiares(persona_id);

	-- Receivables
	CREATE TABLE IF NOT EXISTS recibos (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL,
		periodo TEXT NOT NULL,
		importe TEXT NOT NULL,
		estado TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Cuotas and items
	CREATE TABLE IF NOT EXISTS cuotas (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL,
		anio INTEGER NOT NULL,
		mes INTEGER NOT NULL,
		recibo_id TEXT REFERENCES recibos(id),
		categoria_codigo TEXT,
		monto_total TEXT NOT NULL,
		legacy INTEGER NOT NULL DEFAULT 0,
		monto_base TEXT,
		monto_actividades TEXT,
		invalidada INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one live item-based cuota per person and period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cuotas_persona_periodo
		ON cuotas(persona_id, anio, mes)
		WHERE legacy = 0 AND invalidada = 0;

	CREATE INDEX IF NOT EXISTS idx_cuotas_periodo
		ON cuotas(anio, mes);

	CREATE TABLE IF NOT EXISTS items_cuota (
		id TEXT PRIMARY KEY,
		cuota_id TEXT NOT NULL REFERENCES cuotas(id) ON DELETE CASCADE,
		tipo_codigo TEXT NOT NULL,
		categoria_codigo TEXT NOT NULL,
		concepto TEXT NOT NULL,
		monto TEXT NOT NULL,
		cantidad INTEGER NOT NULL DEFAULT 1,
		porcentaje TEXT,
		es_automatico INTEGER NOT NULL DEFAULT 1,
		es_editable INTEGER NOT NULL DEFAULT 0,
		orden INTEGER NOT NULL DEFAULT 0,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_cuota
		ON items_cuota(cuota_id, orden);
	CREATE INDEX IF NOT EXISTS idx_items_tipo
		ON items_cuota(tipo_codigo);

	-- Discount rules
	CREATE TABLE IF NOT EXISTS reglas_descuento (
		id TEXT PRIMARY KEY,
		codigo TEXT NOT NULL UNIQUE,
		nombre TEXT NOT NULL,
		prioridad INTEGER NOT NULL DEFAULT 100,
		condicion_json TEXT NOT NULL,
		formula_json TEXT NOT NULL,
		modo TEXT NOT NULL,
		funcion TEXT,
		max_descuento TEXT,
		aplica_base INTEGER NOT NULL DEFAULT 1,
		aplica_actividades INTEGER NOT NULL DEFAULT 0,
		activa INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config_descuento (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		limite_total TEXT NOT NULL,
		prioridades_json TEXT,
		updated_at TEXT NOT NULL
	);

	-- Exemptions
	CREATE TABLE IF NOT EXISTS exenciones (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL,
		tipo TEXT NOT NULL,
		porcentaje TEXT NOT NULL,
		aplica_base INTEGER NOT NULL DEFAULT 1,
		aplica_actividades INTEGER NOT NULL DEFAULT 0,
		motivo TEXT NOT NULL,
		descripcion TEXT,
		fecha_inicio TEXT NOT NULL,
		fecha_fin TEXT,
		estado TEXT NOT NULL,
		activa INTEGER NOT NULL DEFAULT 1,
		solicitado_por TEXT,
		aprobado_por TEXT,
		fecha_aprobacion TEXT,
		motivo_rechazo TEXT,
		motivo_revocacion TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exenciones_persona_estado
		ON exenciones(persona_id, estado);

	-- Manual adjustments
	CREATE TABLE IF NOT EXISTS ajustes_cuota (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL,
		cuota_id TEXT,
		tipo_codigo TEXT NOT NULL,
		concepto TEXT NOT NULL,
		modo TEXT NOT NULL,
		valor TEXT NOT NULL,
		aplica_a TEXT NOT NULL,
		desde_periodo TEXT NOT NULL,
		hasta_periodo TEXT,
		motivo TEXT,
		activa INTEGER NOT NULL DEFAULT 1,
		creado_por TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ajustes_persona
		ON ajustes_cuota(persona_id, activa);

	-- Audit trail (append-only; only the retention purge deletes)
	CREATE TABLE IF NOT EXISTS historial_ajustes_cuota (
		id TEXT PRIMARY KEY,
		accion TEXT NOT NULL,
		persona_id TEXT,
		cuota_id TEXT,
		ajuste_id TEXT,
		exencion_id TEXT,
		datos_previos TEXT,
		datos_nuevos TEXT,
		usuario TEXT NOT NULL,
		motivo TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_historial_persona
		ON historial_ajustes_cuota(persona_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_historial_created
		ON historial_ajustes_cuota(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

var savepointName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Savepoint runs fn inside a SAVEPOINT of the current transaction.
func (s *Store) Savepoint(ctx context.Context, name string, fn func(generic.Store) error) error {
	if s.tx == nil {
		return s.WithTx(ctx, func(tx generic.Store) error {
			return tx.Savepoint(ctx, name, fn)
		})
	}

	sp := fmt.Sprintf("sp_%s_%d", savepointName.ReplaceAllString(name, "_"), savepointSeq.Add(1))
	if _, err := s.q.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	if err := fn(s); err != nil {
		if _, rbErr := s.q.ExecContext(ctx, "ROLLBACK TO "+sp); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint failed: %v)", err, rbErr)
		}
		if _, relErr := s.q.ExecContext(ctx, "RELEASE "+sp); relErr != nil {
			return errors.Join(err, fmt.Errorf("failed to release savepoint: %w", relErr))
		}
		return err
	}

	if _, err := s.q.ExecContext(ctx, "RELEASE "+sp); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// Reset deletes all data (demo scenarios and tests).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"historial_ajustes_cuota", "items_cuota", "cuotas", "recibos",
		"ajustes_cuota", "exenciones", "reglas_descuento", "config_descuento",
		"relaciones_familiares", "participaciones", "actividades",
		"asignaciones_tipo", "categorias_socio", "personas",
		"tipos_item_cuota", "categorias_item",
	}
	for _, t := range tables {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: generic.FormatDate(*t), Valid: true}
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(generic.DateLayout, s)
	return t
}

func parseNullDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseDate(ns.String)
	return &t
}

func parseNullTimestamp(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimestamp(ns.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	return generic.MustParseDecimal(s)
}

func parseNullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := parseDecimal(ns.String)
	return &d
}

func parseNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// inClause renders "?, ?, ?" and the matching args.
func inClause(ids []generic.PersonID) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = string(id)
	}
	return strings.Join(marks, ", "), args
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowsAffected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}
