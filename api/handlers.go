/*
handlers.go - HTTP API handlers for the fee engine

PURPOSE:
  Exposes the fee engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the services.

ENDPOINTS:
  Cuotas:
    GET    /api/cuotas?persona=ID            List a person's cuotas
    POST   /api/cuotas                       Generate one cuota
    POST   /api/cuotas/preview               Compose without saving
    GET    /api/cuotas/{id}                  Cuota with items
    POST   /api/cuotas/{id}/regenerate       Rebuild items from current inputs
    POST   /api/cuotas/{id}/recalculate      Recompute total from items
    POST   /api/cuotas/{id}/invalidate       Supersede (receipt ANULADO)
    POST   /api/cuotas/{id}/migrate          Legacy → item-based
    POST   /api/cuotas/{id}/rollback         Undo a migration
    PUT    /api/cuotas/{id}/items/{itemId}   Edit an editable item
    DELETE /api/cuotas/{id}/items/{itemId}   Remove an editable item

  Batch:
    POST   /api/batch/generate               Generate a whole period

  Catalog and rules:
    GET/POST        /api/catalog/categories, /api/catalog/types
    PUT/DELETE      /api/catalog/types/{code}
    GET/POST        /api/rules
    PUT             /api/rules/{code}
    POST            /api/rules/import
    GET/PUT         /api/rules/config

  Exemptions, adjustments, audit: see handlers_records.go

ACTOR:
  Mutations read the acting user from the X-Actor header. There is no
  authentication; the header is trusted.

ERROR HANDLING:
  Errors are returned as {"error": {"kind", "message"}} with a status
  derived from the error kind:
  - 400: VALIDATION
  - 404: NOT_FOUND
  - 409: CONFLICT (duplicate cuota, duplicate code)
  - 422: BUSINESS_RULE, CONFIGURATION, FORMULA
  - 500: INTERNAL

SEE ALSO:
  - dto.go: Request/response data structures
  - handlers_records.go: Exemption, adjustment and audit endpoints
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/adjustment"
	"github.com/warp/fee-engine/audit"
	"github.com/warp/fee-engine/batch"
	"github.com/warp/fee-engine/catalog"
	"github.com/warp/fee-engine/composer"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/exemption"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
	"github.com/warp/fee-engine/store/sqlite"
)

const (
	ActorHeader  = "X-Actor"
	maxBodyBytes = 1 << 20
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Catalog     *catalog.Service
	Cuotas      *composer.Service
	Batch       *batch.Generator
	Exemptions  *exemption.Service
	Adjustments *adjustment.Service
	Trail       *audit.Trail
	Rules       *factory.RuleFactory

	cfg      config.EngineConfig
	clock    generic.Clock
	log      *logger.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires every service over store.
func NewHandler(store *sqlite.Store, cfg config.EngineConfig, clock generic.Clock, log *logger.Logger) *Handler {
	if clock == nil {
		clock = generic.SystemClock
	}
	log = logger.OrNop(log)

	trail := audit.NewTrail(store, clock, log)
	cuotas := composer.NewService(store, catalog.NewRegistry(), trail, clock, log)
	gen := batch.NewGenerator(store, cuotas, batch.Config{
		ChunkSize:         cfg.BatchChunkSize,
		Workers:           cfg.BatchWorkers,
		MaxReportedErrors: cfg.MaxReportedErrors,
	}, clock, log)

	return &Handler{
		Store:       store,
		Catalog:     catalog.NewService(store, log),
		Cuotas:      cuotas,
		Batch:       gen,
		Exemptions:  exemption.NewService(store, trail, cuotas, clock, log),
		Adjustments: adjustment.NewService(store, trail, cuotas, clock, log),
		Trail:       trail,
		Rules:       factory.NewRuleFactory(clock),
		cfg:         cfg,
		clock:       clock,
		log:         log.With("component", "api"),
		validate:    newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CUOTA HANDLERS
// =============================================================================

// ListCuotas returns a person's cuotas, newest period first.
// GET /api/cuotas?persona=ID
func (h *Handler) ListCuotas(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("persona")
	if personID == "" {
		h.fail(w, r, generic.Validationf("query parameter persona is required"))
		return
	}
	cuotas, err := h.Cuotas.List(r.Context(), generic.PersonID(personID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]CuotaDTO, len(cuotas))
	for i, c := range cuotas {
		dtos[i] = toCuotaDTO(c, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCuota generates one person's cuota for a period.
// POST /api/cuotas
func (h *Handler) CreateCuota(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreateCuotaRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	st, err := h.Cuotas.Create(r.Context(), generic.PersonID(req.PersonID), period, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStateDTO(st))
}

// PreviewCuota composes without writing anything.
// POST /api/cuotas/preview
func (h *Handler) PreviewCuota(w http.ResponseWriter, r *http.Request) {
	var req CreateCuotaRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	comp, err := h.Cuotas.Preview(r.Context(), generic.PersonID(req.PersonID), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompositionDTO(comp))
}

// GetCuota returns one cuota with its items.
// GET /api/cuotas/{id}
func (h *Handler) GetCuota(w http.ResponseWriter, r *http.Request) {
	st, err := h.Cuotas.Get(r.Context(), cuotaParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

// RegenerateCuota rebuilds the automatic items from current inputs.
// POST /api/cuotas/{id}/regenerate
func (h *Handler) RegenerateCuota(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req OptionalReasonRequest
	if err := h.decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Cuotas.Regenerate(r.Context(), cuotaParam(r), actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

// RecalculateCuota recomputes the total from the stored items.
// POST /api/cuotas/{id}/recalculate
func (h *Handler) RecalculateCuota(w http.ResponseWriter, r *http.Request) {
	h.cuotaAction(w, r, func(actor string) (*audit.CuotaState, error) {
		return h.Cuotas.Recalculate(r.Context(), cuotaParam(r), actor)
	})
}

// InvalidateCuota supersedes a cuota so the period can be generated again.
// POST /api/cuotas/{id}/invalidate
func (h *Handler) InvalidateCuota(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ReasonRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Cuotas.Invalidate(r.Context(), cuotaParam(r), actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

// MigrateCuota converts a legacy cuota to items.
// POST /api/cuotas/{id}/migrate
func (h *Handler) MigrateCuota(w http.ResponseWriter, r *http.Request) {
	h.cuotaAction(w, r, func(actor string) (*audit.CuotaState, error) {
		return h.Cuotas.MigrateLegacy(r.Context(), cuotaParam(r), actor)
	})
}

// RollbackCuota restores the legacy amounts of a migrated cuota.
// POST /api/cuotas/{id}/rollback
func (h *Handler) RollbackCuota(w http.ResponseWriter, r *http.Request) {
	h.cuotaAction(w, r, func(actor string) (*audit.CuotaState, error) {
		return h.Cuotas.RollbackMigration(r.Context(), cuotaParam(r), actor)
	})
}

// UpdateItem edits an editable item and recomputes the total.
// PUT /api/cuotas/{id}/items/{itemId}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateItemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	patch := composer.ItemPatch{Amount: req.Amount, Quantity: req.Quantity, Concept: req.Concept}
	st, err := h.Cuotas.UpdateItem(r.Context(), cuotaParam(r), itemParam(r), patch, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

// DeleteItem removes an editable item and recomputes the total.
// DELETE /api/cuotas/{id}/items/{itemId}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ReasonRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Cuotas.DeleteItem(r.Context(), cuotaParam(r), itemParam(r), actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

func (h *Handler) cuotaAction(w http.ResponseWriter, r *http.Request, fn func(actor string) (*audit.CuotaState, error)) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := fn(actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

// =============================================================================
// BATCH
// =============================================================================

// GenerateBatch runs the batch generator for one period. Per-person
// failures are part of a 200 response; only a setup failure is an error.
// POST /api/batch/generate
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req BatchRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]generic.PersonID, len(req.PersonIDs))
	for i, id := range req.PersonIDs {
		ids[i] = generic.PersonID(id)
	}

	res, err := h.Batch.Generate(r.Context(), batch.Request{
		Period:       period,
		CategoryCode: req.CategoryCode,
		PersonIDs:    ids,
		Actor:        actor,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(res))
}

// =============================================================================
// CATALOG
// =============================================================================

// ListCategories returns every item category.
// GET /api/catalog/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Catalog.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = CategoryDTO{ID: c.ID, Code: string(c.Code), Name: c.Name, DisplayOrder: c.DisplayOrder, Active: c.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveCategory adds or reactivates a category.
// POST /api/catalog/categories
func (h *Handler) SaveCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Catalog.CreateCategory(r.Context(), generic.ItemCategory{
		Code:         generic.CategoryCode(req.Code),
		Name:         req.Name,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CategoryDTO{ID: c.ID, Code: string(c.Code), Name: c.Name, DisplayOrder: c.DisplayOrder, Active: c.Active})
}

// DeactivateCategory hides a category.
// DELETE /api/catalog/categories/{code}
func (h *Handler) DeactivateCategory(w http.ResponseWriter, r *http.Request) {
	code := generic.CategoryCode(chi.URLParam(r, "code"))
	if err := h.Catalog.DeactivateCategory(r.Context(), code); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ListItemTypes returns every item type.
// GET /api/catalog/types
func (h *Handler) ListItemTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Catalog.ListTypes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ItemTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toItemTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItemType creates a type from an item type document.
// POST /api/catalog/types
func (h *Handler) CreateItemType(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Rules.ParseItemType(doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.Catalog.CreateItemType(r.Context(), *t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemTypeDTO(*created))
}

// UpdateItemType changes a type. The code in the path wins.
// PUT /api/catalog/types/{code}
func (h *Handler) UpdateItemType(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Rules.ParseItemType(doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t.Code = chi.URLParam(r, "code")
	updated, err := h.Catalog.UpdateItemType(r.Context(), *t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemTypeDTO(*updated))
}

// DeleteItemType deletes a type, or deactivates it when items use it.
// DELETE /api/catalog/types/{code}
func (h *Handler) DeleteItemType(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Catalog.DeleteItemType(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := "deactivated"
	if deleted {
		status = "deleted"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// =============================================================================
// DISCOUNT RULES
// =============================================================================

// ListRules returns every rule as a rule document.
// GET /api/rules?activas=true
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListDiscountRules(r.Context(), r.URL.Query().Get("activas") == "true")
	if err != nil {
		h.fail(w, r, generic.Internal("list rules", err))
		return
	}
	docs := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		docs[i] = h.Rules.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, docs)
}

// CreateRule stores a new rule from a rule document.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.Rules.ParseRule(doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	err = h.Store.WithTx(r.Context(), func(tx generic.Store) error {
		existing, err := tx.GetDiscountRule(r.Context(), rule.Code)
		if err != nil {
			return generic.Internal("get rule", err)
		}
		if existing != nil {
			return generic.Conflictf("rule %s already exists", rule.Code)
		}
		return tx.SaveDiscountRule(r.Context(), *rule)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("discount rule created", "code", rule.Code, "mode", rule.Mode)
	writeJSON(w, http.StatusCreated, h.Rules.ToJSON(*rule))
}

// UpdateRule replaces an existing rule, keeping its ID and creation time.
// PUT /api/rules/{code}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	doc, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.Rules.ParseRule(doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rule.Code != code {
		h.fail(w, r, generic.Validationf("rule codigo %q does not match path %q", rule.Code, code))
		return
	}

	err = h.Store.WithTx(r.Context(), func(tx generic.Store) error {
		existing, err := tx.GetDiscountRule(r.Context(), code)
		if err != nil {
			return generic.Internal("get rule", err)
		}
		if existing == nil {
			return generic.NotFound("rule", code)
		}
		rule.ID = existing.ID
		rule.CreatedAt = existing.CreatedAt
		return tx.SaveDiscountRule(r.Context(), *rule)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Rules.ToJSON(*rule))
}

// ImportRules stores a whole rule set document in one transaction.
// POST /api/rules/import
func (h *Handler) ImportRules(w http.ResponseWriter, r *http.Request) {
	doc, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	set, err := h.Rules.ParseRuleSet(doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	err = h.Store.WithTx(r.Context(), func(tx generic.Store) error {
		for _, rule := range set.Rules {
			existing, err := tx.GetDiscountRule(r.Context(), rule.Code)
			if err != nil {
				return generic.Internal("get rule", err)
			}
			if existing != nil {
				rule.ID = existing.ID
				rule.CreatedAt = existing.CreatedAt
			}
			if err := tx.SaveDiscountRule(r.Context(), rule); err != nil {
				return generic.Internal("save rule", err)
			}
		}
		if set.Config != nil {
			if err := tx.SaveDiscountConfig(r.Context(), *set.Config); err != nil {
				return generic.Internal("save discount config", err)
			}
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("discount rules imported", "rules", len(set.Rules), "config", set.Config != nil)
	writeJSON(w, http.StatusOK, map[string]int{"imported": len(set.Rules)})
}

// GetDiscountConfig returns the global discount configuration.
// GET /api/rules/config
func (h *Handler) GetDiscountConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.GetDiscountConfig(r.Context())
	if err != nil {
		h.fail(w, r, generic.Internal("get discount config", err))
		return
	}
	limit := cfg.TotalLimit
	writeJSON(w, http.StatusOK, factory.ConfigJSON{TotalLimit: &limit, PriorityOrder: cfg.PriorityOrder})
}

// PutDiscountConfig replaces the global discount configuration.
// PUT /api/rules/config
func (h *Handler) PutDiscountConfig(w http.ResponseWriter, r *http.Request) {
	var cj factory.ConfigJSON
	if err := h.decode(r, &cj); err != nil {
		h.fail(w, r, err)
		return
	}
	if cj.TotalLimit != nil && (cj.TotalLimit.IsNegative() || cj.TotalLimit.GreaterThan(hundred)) {
		h.fail(w, r, generic.Validationf("limiteDescuentoTotal must be between 0 and 100"))
		return
	}
	cfg := h.Rules.ConfigFromJSON(cj)
	if err := h.Store.SaveDiscountConfig(r.Context(), cfg); err != nil {
		h.fail(w, r, generic.Internal("save discount config", err))
		return
	}
	h.log.Info("discount config updated", "limit", cfg.TotalLimit.String(), "priorities", len(cfg.PriorityOrder))
	limit := cfg.TotalLimit
	writeJSON(w, http.StatusOK, factory.ConfigJSON{TotalLimit: &limit, PriorityOrder: cfg.PriorityOrder})
}

// ResetDatabase deletes all data and re-seeds the catalog.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind generic.ErrorKind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	case generic.KindBusinessRule, generic.KindConfiguration, generic.KindFormula:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an error envelope. Internal errors are logged and
// their detail is not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Kind: string(kind), Message: msg}})
}

// decode reads a JSON body into dst and runs its validation tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return generic.Validationf("invalid request body: %v", err)
	}
	return h.check(dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return generic.Validationf("invalid request body: %v", err)
	}
	return h.check(dst)
}

func (h *Handler) check(dst any) error {
	err := h.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return generic.Validationf("invalid request: %v", err)
	}
	msgs := make([]string, len(ve))
	for i, fe := range ve {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
		}
	}
	return generic.Validationf("invalid request: %s", strings.Join(msgs, "; "))
}

// readBody returns the raw body of a document endpoint.
func readBody(r *http.Request) (string, error) {
	b, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return "", generic.Validationf("failed to read request body: %v", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return "", generic.Validationf("request body is empty")
	}
	return string(b), nil
}

func requireActor(r *http.Request) (string, error) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		return "", generic.Validationf("header %s is required", ActorHeader)
	}
	return actor, nil
}

func cuotaParam(r *http.Request) generic.CuotaID {
	return generic.CuotaID(chi.URLParam(r, "id"))
}

func itemParam(r *http.Request) generic.ItemID {
	return generic.ItemID(chi.URLParam(r, "itemId"))
}
