/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Error envelope and status mapping
- Cuota generation, preview and lookups
- Batch endpoint
- Discount rules and configuration
- Exemption and adjustment lifecycles over HTTP
- Audit queries
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
	"github.com/warp/fee-engine/store/sqlite"
)

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, config.Default().Engine, generic.FixedClock(testNow), logger.Nop())
	require.NoError(t, h.Catalog.Seed(context.Background()))
	return h
}

// setupMember seeds socio-1 (ACTIVO, swimming) and returns a router.
func setupMember(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.seedDirectory(ctx))
	require.NoError(t, h.member(ctx, "socio-1", "Ana Pereyra", "ACTIVO", 3))
	require.NoError(t, h.enroll(ctx, "socio-1", "natacion"))
	return h, NewRouter(h)
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "tesoreria")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind generic.ErrorKind) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody[ErrorBody](t, rec)
	assert.Equal(t, string(kind), body.Error.Kind)
	assert.NotEmpty(t, body.Error.Message)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind generic.ErrorKind
		want int
	}{
		{generic.KindValidation, http.StatusBadRequest},
		{generic.KindNotFound, http.StatusNotFound},
		{generic.KindConflict, http.StatusConflict},
		{generic.KindBusinessRule, http.StatusUnprocessableEntity},
		{generic.KindConfiguration, http.StatusUnprocessableEntity},
		{generic.KindFormula, http.StatusUnprocessableEntity},
		{generic.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}

func TestHealthz(t *testing.T) {
	router := NewRouter(setupTestHandler(t))

	rec := do(t, router, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMutationsRequireActor(t *testing.T) {
	_, router := setupMember(t)
	req := httptest.NewRequest(http.MethodPost, "/api/cuotas", strings.NewReader(`{"personaId":"socio-1","periodo":"2025-03"}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)
	assert.Contains(t, rec.Body.String(), ActorHeader)
}

func TestRequestValidation(t *testing.T) {
	_, router := setupMember(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed", "/api/cuotas", `{"personaId":`},
		{"missing person", "/api/cuotas", `{"periodo":"2025-03"}`},
		{"bad period", "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-13"}`},
		{"exemption kind", "/api/exemptions", `{"personaId":"socio-1","tipo":"MEDIA","motivo":"x","fechaInicio":"2025-03-01"}`},
		{"adjustment without desde", "/api/adjustments", `{"personaId":"socio-1","tipoItem":"AJUSTE_RECARGO","concepto":"Mora","tipoAjuste":"FIJO","valor":"500"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.path, tt.body)

			assertError(t, rec, http.StatusBadRequest, generic.KindValidation)
		})
	}
}

// =============================================================================
// CUOTAS
// =============================================================================

func TestCreateCuota(t *testing.T) {
	_, router := setupMember(t)

	// WHEN: Generating March for socio-1
	rec := do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)

	// THEN: Base 10,000 plus swimming 2,000
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cuota := decodeBody[CuotaDTO](t, rec)
	assert.Equal(t, "2025-03", cuota.Period)
	assert.Equal(t, "ACTIVO", cuota.CategoryCode)
	assert.True(t, decimal.NewFromInt(12000).Equal(cuota.Total), cuota.Total.String())
	require.Len(t, cuota.Items, 2)
	assert.Equal(t, generic.TypeCuotaBase, cuota.Items[0].TypeCode)
	assert.NotEmpty(t, cuota.ReceiptID)

	// AND: The same period again is a conflict
	rec = do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)
	assertError(t, rec, http.StatusConflict, generic.KindConflict)

	// AND: It can be read back
	rec = do(t, router, http.MethodGet, "/api/cuotas/"+cuota.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[CuotaDTO](t, rec).Items, 2)

	rec = do(t, router, http.MethodGet, "/api/cuotas?persona=socio-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]CuotaDTO](t, rec), 1)
}

func TestCreateCuota_Errors(t *testing.T) {
	h, router := setupMember(t)
	require.NoError(t, h.member(context.Background(), "socio-2", "Sin categoría", "", 1))

	rec := do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-2","periodo":"2025-03"}`)
	assertError(t, rec, http.StatusUnprocessableEntity, generic.KindConfiguration)

	rec = do(t, router, http.MethodGet, "/api/cuotas/no-existe", "")
	assertError(t, rec, http.StatusNotFound, generic.KindNotFound)

	rec = do(t, router, http.MethodGet, "/api/cuotas", "")
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)
}

func TestPreviewCuota_WritesNothing(t *testing.T) {
	h, router := setupMember(t)

	rec := do(t, router, http.MethodPost, "/api/cuotas/preview", `{"personaId":"socio-1","periodo":"2025-03"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	comp := decodeBody[CompositionDTO](t, rec)
	assert.Equal(t, "12000.00", comp.Total)
	assert.Empty(t, comp.Rules)
	assert.NotNil(t, comp.Warnings)

	cuotas, err := h.Cuotas.List(context.Background(), "socio-1")
	require.NoError(t, err)
	assert.Empty(t, cuotas)
}

func TestInvalidateThenRegenerate(t *testing.T) {
	_, router := setupMember(t)
	rec := do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[CuotaDTO](t, rec)

	// WHEN: Invalidating without a motive, then with one
	rec = do(t, router, http.MethodPost, "/api/cuotas/"+first.ID+"/invalidate", `{}`)
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)

	rec = do(t, router, http.MethodPost, "/api/cuotas/"+first.ID+"/invalidate", `{"motivo":"alta tardía"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[CuotaDTO](t, rec).Invalidated)

	// THEN: The period can be generated again
	rec = do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEqual(t, first.ID, decodeBody[CuotaDTO](t, rec).ID)
}

// =============================================================================
// BATCH
// =============================================================================

func TestGenerateBatch(t *testing.T) {
	h, router := setupMember(t)
	require.NoError(t, h.member(context.Background(), "socio-2", "Sin categoría", "", 1))

	rec := do(t, router, http.MethodPost, "/api/batch/generate", `{"periodo":"2025-03"}`)

	// THEN: One cuota and one per-person error in a 200 response
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[BatchResultDTO](t, rec)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 1, res.GeneratedCount)
	assert.Equal(t, 1, res.ErrorCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, generic.PersonID("socio-2"), res.Errors[0].PersonID)
	assert.Equal(t, generic.KindConfiguration, res.Errors[0].Kind)
	assert.False(t, res.Aborted)

	// AND: Running it again skips the billed member
	rec = do(t, router, http.MethodPost, "/api/batch/generate", `{"periodo":"2025-03","personas":["socio-1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[BatchResultDTO](t, rec).GeneratedCount)
}

// =============================================================================
// RULES
// =============================================================================

func TestRules(t *testing.T) {
	_, router := setupMember(t)
	doc := factory.FamilyDiscountJSON("FAMILIAR_15", "Descuento familiar", 15)

	rec := do(t, router, http.MethodPost, "/api/rules", doc)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/rules", doc)
	assertError(t, rec, http.StatusConflict, generic.KindConflict)

	rec = do(t, router, http.MethodPut, "/api/rules/OTRA", doc)
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)

	rec = do(t, router, http.MethodPost, "/api/rules", `{"codigo":"MAL","aplicaBase":true,"funcion":"magia","modoAplicacion":"PERSONALIZADO"}`)
	assertError(t, rec, http.StatusUnprocessableEntity, generic.KindFormula)

	rec = do(t, router, http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decodeBody[[]factory.RuleJSON](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, "FAMILIAR_15", rules[0].Code)
}

func TestDiscountConfig(t *testing.T) {
	_, router := setupMember(t)

	rec := do(t, router, http.MethodPut, "/api/rules/config", `{"limiteDescuentoTotal":"150"}`)
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)

	rec = do(t, router, http.MethodPut, "/api/rules/config", `{"limiteDescuentoTotal":"60","prioridades":["FAMILIAR"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/rules/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeBody[factory.ConfigJSON](t, rec)
	require.NotNil(t, cfg.TotalLimit)
	assert.True(t, decimal.NewFromInt(60).Equal(*cfg.TotalLimit))
	assert.Equal(t, []string{"FAMILIAR"}, cfg.PriorityOrder)
}

// =============================================================================
// EXEMPTIONS
// =============================================================================

func TestExemptionLifecycle(t *testing.T) {
	_, router := setupMember(t)

	// GIVEN: A requested TOTAL exemption
	rec := do(t, router, http.MethodPost, "/api/exemptions",
		`{"personaId":"socio-1","tipo":"TOTAL","motivo":"Situación económica","fechaInicio":"2025-03-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decodeBody[ExemptionDTO](t, rec)
	assert.Equal(t, string(generic.ExemptionPending), e.State)
	assert.Equal(t, "tesoreria", e.RequestedBy)
	assert.True(t, decimal.NewFromInt(100).Equal(e.Percentage))

	// WHEN: Approving and activating
	rec = do(t, router, http.MethodPost, "/api/exemptions/"+e.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(generic.ExemptionApproved), decodeBody[ExemptionDTO](t, rec).State)

	rec = do(t, router, http.MethodPost, "/api/exemptions/"+e.ID+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(generic.ExemptionInForce), decodeBody[ExemptionDTO](t, rec).State)

	// THEN: Rejecting now is an invalid transition
	rec = do(t, router, http.MethodPost, "/api/exemptions/"+e.ID+"/reject", `{"motivo":"tarde"}`)
	assertError(t, rec, http.StatusUnprocessableEntity, generic.KindBusinessRule)

	// AND: The cuota only charges the activity
	rec = do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(2000).Equal(decodeBody[CuotaDTO](t, rec).Total))

	rec = do(t, router, http.MethodGet, "/api/exemptions?persona=socio-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ExemptionDTO](t, rec), 1)
}

func TestExemption_NotFound(t *testing.T) {
	_, router := setupMember(t)

	rec := do(t, router, http.MethodPost, "/api/exemptions/no-existe/approve", "")
	assertError(t, rec, http.StatusNotFound, generic.KindNotFound)

	rec = do(t, router, http.MethodPost, "/api/exemptions",
		`{"personaId":"nadie","tipo":"TOTAL","motivo":"x","fechaInicio":"2025-03-01"}`)
	assertError(t, rec, http.StatusNotFound, generic.KindNotFound)
}

// =============================================================================
// ADJUSTMENTS AND AUDIT
// =============================================================================

func TestAdjustmentLifecycle(t *testing.T) {
	_, router := setupMember(t)

	// GIVEN: A fixed surcharge from March
	rec := do(t, router, http.MethodPost, "/api/adjustments",
		`{"personaId":"socio-1","tipoItem":"AJUSTE_RECARGO","concepto":"Recargo por mora","tipoAjuste":"FIJO","valor":"500","aplicaA":"TODOS","desde":"2025-03","motivo":"Pago fuera de término"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeBody[AdjustmentDTO](t, rec)
	assert.Equal(t, "2025-03", a.From)
	assert.Nil(t, a.To)
	assert.True(t, a.Active)

	// WHEN: Generating the cuota
	rec = do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The surcharge is included
	assert.True(t, decimal.NewFromInt(12500).Equal(decodeBody[CuotaDTO](t, rec).Total))

	// AND: Updating the validity needs desde
	rec = do(t, router, http.MethodPut, "/api/adjustments/"+a.ID, `{"hasta":"2025-06","motivo":"acotar"}`)
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)

	rec = do(t, router, http.MethodPut, "/api/adjustments/"+a.ID, `{"desde":"2025-03","hasta":"2025-06","motivo":"acotar"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[AdjustmentDTO](t, rec)
	require.NotNil(t, updated.To)
	assert.Equal(t, "2025-06", *updated.To)

	// AND: A logical delete keeps it listed as inactive
	rec = do(t, router, http.MethodDelete, "/api/adjustments/"+a.ID, `{"motivo":"error de carga"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeBody[AdjustmentDTO](t, rec).Active)

	rec = do(t, router, http.MethodGet, "/api/adjustments?persona=socio-1", "")
	assert.Empty(t, decodeBody[[]AdjustmentDTO](t, rec))
	rec = do(t, router, http.MethodGet, "/api/adjustments?persona=socio-1&inactivos=true", "")
	assert.Len(t, decodeBody[[]AdjustmentDTO](t, rec), 1)

	// AND: The trail holds create, modify and delete
	rec = do(t, router, http.MethodGet, "/api/audit?ajuste="+a.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, string(generic.AuditCreateAdjustment), entries[0].Action)
	assert.Equal(t, "tesoreria", entries[0].Actor)
	assert.NotEmpty(t, entries[0].After)
}

func TestAdjustment_RejectsCalculatedType(t *testing.T) {
	_, router := setupMember(t)

	rec := do(t, router, http.MethodPost, "/api/adjustments",
		`{"personaId":"socio-1","tipoItem":"CUOTA_BASE","concepto":"Base","tipoAjuste":"FIJO","valor":"500","desde":"2025-03"}`)

	assertError(t, rec, http.StatusUnprocessableEntity, generic.KindBusinessRule)
}

func TestQueryAudit(t *testing.T) {
	_, router := setupMember(t)
	rec := do(t, router, http.MethodPost, "/api/cuotas", `{"personaId":"socio-1","periodo":"2025-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"by person", "?persona=socio-1", 1},
		{"by action", "?accion=GENERAR_CUOTA", 1},
		{"other action", "?accion=CREAR_AJUSTE", 0},
		{"same day inclusive", "?desde=2025-03-10&hasta=2025-03-10", 1},
		{"before", "?hasta=2025-03-09", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/audit"+tt.query, "")

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decodeBody[[]AuditEntryDTO](t, rec), tt.want)
		})
	}

	rec = do(t, router, http.MethodGet, "/api/audit?limite=-1", "")
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)
}

func TestPurgeAudit_RejectsFutureCutoff(t *testing.T) {
	_, router := setupMember(t)

	rec := do(t, router, http.MethodPost, "/api/audit/purge", `{"antesDe":"2030-01-01"}`)
	assertError(t, rec, http.StatusBadRequest, generic.KindValidation)

	rec = do(t, router, http.MethodPost, "/api/audit/purge", `{"antesDe":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"deleted":0}`, rec.Body.String())
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog(t *testing.T) {
	_, router := setupMember(t)

	rec := do(t, router, http.MethodGet, "/api/catalog/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]CategoryDTO](t, rec), 7)

	rec = do(t, router, http.MethodPost, "/api/catalog/types",
		`{"codigo":"BONIF_COLABORADOR","nombre":"Bonificación colaborador","categoria":"BONIFICACION","configurable":true,"orden":55}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	typ := decodeBody[ItemTypeDTO](t, rec)
	assert.False(t, typ.System)

	rec = do(t, router, http.MethodDelete, "/api/catalog/types/BONIF_COLABORADOR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"deleted"}`, rec.Body.String())

	rec = do(t, router, http.MethodDelete, "/api/catalog/types/CUOTA_BASE", "")
	assertError(t, rec, http.StatusUnprocessableEntity, generic.KindBusinessRule)
}
