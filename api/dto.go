/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine records from the external contract: field names follow the
  association's vocabulary (personaId, periodo, motivo) while the engine
  types stay in Go naming.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Cuotas:       CuotaDTO, ItemDTO, CompositionDTO, CreateCuotaRequest,
                UpdateItemRequest, ReasonRequest
  Batch:        BatchRequest, BatchResultDTO
  Exemptions:   ExemptionDTO, ExemptionRequest, ApplyRequest
  Adjustments:  AdjustmentDTO, AdjustmentRequest, AdjustmentPatchRequest
  Audit:        AuditEntryDTO, PurgeAuditRequest
  Catalog:      CategoryDTO, ItemTypeDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags; decode() runs them
  before a handler sees the value. Domain rules (percentage ranges, state
  transitions) stay in the services.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON, ConfigJSON (rule documents pass through as is)
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/audit"
	"github.com/warp/fee-engine/batch"
	"github.com/warp/fee-engine/composer"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// CUOTAS
// =============================================================================

type ItemDTO struct {
	ID         string            `json:"id,omitempty"`
	TypeCode   string            `json:"tipo"`
	Category   string            `json:"categoria"`
	Concept    string            `json:"concepto"`
	Amount     decimal.Decimal   `json:"monto"`
	Quantity   int               `json:"cantidad"`
	Percentage *decimal.Decimal  `json:"porcentaje,omitempty"`
	Automatic  bool              `json:"automatico"`
	Editable   bool              `json:"editable"`
	Order      int               `json:"orden"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type CuotaDTO struct {
	ID               string           `json:"id"`
	PersonID         string           `json:"personaId"`
	Period           string           `json:"periodo"`
	ReceiptID        string           `json:"reciboId"`
	Total            decimal.Decimal  `json:"montoTotal"`
	CategoryCode     string           `json:"categoria"`
	Legacy           bool             `json:"legacy"`
	LegacyBase       *decimal.Decimal `json:"montoBase,omitempty"`
	LegacyActivities *decimal.Decimal `json:"montoActividades,omitempty"`
	Invalidated      bool             `json:"invalidada"`
	Items            []ItemDTO        `json:"items"`
	CreatedAt        string           `json:"createdAt"`
	UpdatedAt        string           `json:"updatedAt"`
}

// OutcomeDTO is one applied discount rule in a preview.
type OutcomeDTO struct {
	RuleCode   string          `json:"reglaCodigo"`
	RuleName   string          `json:"reglaNombre"`
	Mode       string          `json:"modo"`
	Percentage decimal.Decimal `json:"porcentaje"`
	Amount     decimal.Decimal `json:"monto"`
	Capped     bool            `json:"limitado"`
}

// CompositionDTO is an unsaved composition (preview).
type CompositionDTO struct {
	PersonID     string       `json:"personaId"`
	Period       string       `json:"periodo"`
	CategoryCode string       `json:"categoria"`
	Items        []ItemDTO    `json:"items"`
	Total        string       `json:"montoTotal"`
	Rules        []OutcomeDTO `json:"reglas"`
	Warnings     []string     `json:"advertencias"`
}

type CreateCuotaRequest struct {
	PersonID string `json:"personaId" validate:"required"`
	Period   string `json:"periodo" validate:"required,len=7"`
}

// ReasonRequest carries the free-text motive of a mutation.
type ReasonRequest struct {
	Reason string `json:"motivo" validate:"required"`
}

// OptionalReasonRequest is ReasonRequest where the motive may be omitted.
type OptionalReasonRequest struct {
	Reason string `json:"motivo"`
}

type UpdateItemRequest struct {
	Amount   *decimal.Decimal `json:"monto"`
	Quantity *int             `json:"cantidad" validate:"omitempty,min=1"`
	Concept  *string          `json:"concepto" validate:"omitempty,min=1"`
	Reason   string           `json:"motivo" validate:"required"`
}

// =============================================================================
// BATCH
// =============================================================================

type BatchRequest struct {
	Period       string   `json:"periodo" validate:"required,len=7"`
	CategoryCode *string  `json:"categoria" validate:"omitempty,min=1"`
	PersonIDs    []string `json:"personas" validate:"omitempty,dive,required"`
}

type BatchResultDTO struct {
	Period         string              `json:"periodo"`
	StartedAt      string              `json:"iniciado"`
	Selected       int                 `json:"seleccionados"`
	GeneratedCount int                 `json:"generatedCount"`
	Errors         []batch.PersonError `json:"errors"`
	ErrorCount     int                 `json:"totalErrores"`
	Stats          []batch.RecordStat  `json:"estadisticas"`
	ElapsedMillis  int64               `json:"duracionMs"`
	Aborted        bool                `json:"abortado"`
}

// =============================================================================
// EXEMPTIONS
// =============================================================================

type ExemptionDTO struct {
	ID                  string          `json:"id"`
	PersonID            string          `json:"personaId"`
	Kind                string          `json:"tipo"`
	Percentage          decimal.Decimal `json:"porcentaje"`
	AppliesToBase       bool            `json:"aplicaBase"`
	AppliesToActivities bool            `json:"aplicaActividades"`
	Motive              string          `json:"motivo"`
	Description         string          `json:"descripcion,omitempty"`
	ValidFrom           string          `json:"fechaInicio"`
	ValidTo             *string         `json:"fechaFin,omitempty"`
	State               string          `json:"estado"`
	Active              bool            `json:"activa"`
	RequestedBy         string          `json:"solicitadoPor"`
	ApprovedBy          *string         `json:"aprobadoPor,omitempty"`
	ApprovedAt          *string         `json:"fechaAprobacion,omitempty"`
	RejectionReason     *string         `json:"motivoRechazo,omitempty"`
	RevocationReason    *string         `json:"motivoRevocacion,omitempty"`
}

type ExemptionRequest struct {
	PersonID            string           `json:"personaId" validate:"required"`
	Kind                string           `json:"tipo" validate:"required,oneof=TOTAL PARCIAL"`
	Percentage          *decimal.Decimal `json:"porcentaje"`
	AppliesToBase       bool             `json:"aplicaBase"`
	AppliesToActivities bool             `json:"aplicaActividades"`
	Motive              string           `json:"motivo" validate:"required"`
	Description         string           `json:"descripcion"`
	ValidFrom           string           `json:"fechaInicio" validate:"required,len=10"`
	ValidTo             *string          `json:"fechaFin" validate:"omitempty,len=10"`
}

// ApplyRequest targets an existing cuota.
type ApplyRequest struct {
	CuotaID string `json:"cuotaId" validate:"required"`
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentDTO struct {
	ID        string          `json:"id"`
	PersonID  string          `json:"personaId"`
	CuotaID   *string         `json:"cuotaId,omitempty"`
	TypeCode  string          `json:"tipoItem"`
	Concept   string          `json:"concepto"`
	Mode      string          `json:"tipoAjuste"`
	Value     decimal.Decimal `json:"valor"`
	AppliesTo string          `json:"aplicaA"`
	From      string          `json:"desde"`
	To        *string         `json:"hasta,omitempty"`
	Motive    string          `json:"motivo"`
	Active    bool            `json:"activo"`
	CreatedBy string          `json:"creadoPor"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

type AdjustmentRequest struct {
	PersonID  string          `json:"personaId" validate:"required"`
	CuotaID   *string         `json:"cuotaId" validate:"omitempty,min=1"`
	TypeCode  string          `json:"tipoItem" validate:"required"`
	Concept   string          `json:"concepto" validate:"required"`
	Mode      string          `json:"tipoAjuste" validate:"required,oneof=FIJO PORCENTAJE"`
	Value     decimal.Decimal `json:"valor"`
	AppliesTo string          `json:"aplicaA" validate:"omitempty,oneof=BASE ACTIVIDADES TODOS"`
	From      string          `json:"desde" validate:"required,len=7"`
	To        *string         `json:"hasta" validate:"omitempty,len=7"`
	Motive    string          `json:"motivo"`
}

type AdjustmentPatchRequest struct {
	Concept   *string          `json:"concepto" validate:"omitempty,min=1"`
	Mode      *string          `json:"tipoAjuste" validate:"omitempty,oneof=FIJO PORCENTAJE"`
	Value     *decimal.Decimal `json:"valor"`
	AppliesTo *string          `json:"aplicaA" validate:"omitempty,oneof=BASE ACTIVIDADES TODOS"`
	// Changing the validity replaces both bounds; hasta needs desde.
	From   *string `json:"desde" validate:"omitempty,len=7"`
	To     *string `json:"hasta" validate:"omitempty,len=7"`
	Motive *string `json:"motivoAjuste"`
	Reason string  `json:"motivo" validate:"required"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID           string          `json:"id"`
	Action       string          `json:"accion"`
	PersonID     string          `json:"personaId,omitempty"`
	CuotaID      *string         `json:"cuotaId,omitempty"`
	AdjustmentID *string         `json:"ajusteId,omitempty"`
	ExemptionID  *string         `json:"exencionId,omitempty"`
	Before       json.RawMessage `json:"datosPrevios,omitempty"`
	After        json.RawMessage `json:"datosNuevos,omitempty"`
	Actor        string          `json:"usuario"`
	Reason       string          `json:"motivo,omitempty"`
	CreatedAt    string          `json:"fecha"`
}

type PurgeAuditRequest struct {
	Before string `json:"antesDe" validate:"required,len=10"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CategoryDTO struct {
	ID           string `json:"id"`
	Code         string `json:"codigo"`
	Name         string `json:"nombre"`
	DisplayOrder int    `json:"orden"`
	Active       bool   `json:"activa"`
}

type CategoryRequest struct {
	Code         string `json:"codigo" validate:"required"`
	Name         string `json:"nombre" validate:"required"`
	DisplayOrder int    `json:"orden" validate:"min=0"`
}

type ItemTypeDTO struct {
	ID           string          `json:"id"`
	Code         string          `json:"codigo"`
	Name         string          `json:"nombre"`
	Category     string          `json:"categoria"`
	Calculated   bool            `json:"esCalculado"`
	Formula      json.RawMessage `json:"formula,omitempty"`
	Configurable bool            `json:"configurable"`
	DisplayOrder int             `json:"orden"`
	Active       bool            `json:"activo"`
	System       bool            `json:"sistema"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorBody is the error envelope: {"error": {"kind": ..., "message": ...}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toItemDTOs(items []generic.Item) []ItemDTO {
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = ItemDTO{
			ID:         string(it.ID),
			TypeCode:   it.TypeCode,
			Category:   string(it.Category),
			Concept:    it.Concept,
			Amount:     it.Amount,
			Quantity:   it.Quantity,
			Percentage: it.Percentage,
			Automatic:  it.Automatic,
			Editable:   it.Editable,
			Order:      it.Order,
			Metadata:   it.Metadata,
		}
	}
	return dtos
}

func toCuotaDTO(c generic.Cuota, items []generic.Item) CuotaDTO {
	dto := CuotaDTO{
		ID:           string(c.ID),
		PersonID:     string(c.PersonID),
		Period:       c.Period.String(),
		ReceiptID:    string(c.ReceiptID),
		Total:        c.Total,
		CategoryCode: c.CategoryCode,
		Legacy:       c.Legacy,
		Invalidated:  c.Invalidated,
		Items:        toItemDTOs(items),
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
	if c.Legacy {
		base, acts := c.LegacyBase, c.LegacyActivities
		dto.LegacyBase = &base
		dto.LegacyActivities = &acts
	}
	return dto
}

func toStateDTO(st *audit.CuotaState) CuotaDTO {
	return toCuotaDTO(st.Cuota, st.Items)
}

func toCompositionDTO(c composer.Composition) CompositionDTO {
	dto := CompositionDTO{
		PersonID:     string(c.PersonID),
		Period:       c.Period.String(),
		CategoryCode: c.CategoryCode,
		Items:        toItemDTOs(c.Items),
		Total:        c.Total.StringFixed(2),
		Rules:        make([]OutcomeDTO, len(c.Outcomes)),
		Warnings:     c.Warnings,
	}
	for i, o := range c.Outcomes {
		dto.Rules[i] = OutcomeDTO{
			RuleCode:   o.RuleCode,
			RuleName:   o.RuleName,
			Mode:       string(o.Mode),
			Percentage: o.Percentage,
			Amount:     o.Amount(),
			Capped:     o.Capped,
		}
	}
	if dto.Warnings == nil {
		dto.Warnings = []string{}
	}
	return dto
}

func toBatchResultDTO(r *batch.Result) BatchResultDTO {
	dto := BatchResultDTO{
		Period:         r.Period.String(),
		StartedAt:      r.StartedAt.Format(time.RFC3339),
		Selected:       r.Selected,
		GeneratedCount: r.GeneratedCount,
		Errors:         r.Errors,
		ErrorCount:     r.ErrorCount,
		Stats:          r.Stats,
		ElapsedMillis:  r.Elapsed.Milliseconds(),
		Aborted:        r.Aborted,
	}
	if dto.Errors == nil {
		dto.Errors = []batch.PersonError{}
	}
	if dto.Stats == nil {
		dto.Stats = []batch.RecordStat{}
	}
	return dto
}

func toExemptionDTO(e generic.Exemption) ExemptionDTO {
	dto := ExemptionDTO{
		ID:                  string(e.ID),
		PersonID:            string(e.PersonID),
		Kind:                string(e.Kind),
		Percentage:          e.Percentage,
		AppliesToBase:       e.AppliesToBase,
		AppliesToActivities: e.AppliesToActivities,
		Motive:              e.Motive,
		Description:         e.Description,
		ValidFrom:           generic.FormatDate(e.ValidFrom),
		State:               string(e.State),
		Active:              e.Active,
		RequestedBy:         e.RequestedBy,
		ApprovedBy:          e.ApprovedBy,
		RejectionReason:     e.RejectionReason,
		RevocationReason:    e.RevocationReason,
	}
	if e.ValidTo != nil {
		s := generic.FormatDate(*e.ValidTo)
		dto.ValidTo = &s
	}
	if e.ApprovedAt != nil {
		s := e.ApprovedAt.Format(time.RFC3339)
		dto.ApprovedAt = &s
	}
	return dto
}

func toAdjustmentDTO(a generic.Adjustment) AdjustmentDTO {
	dto := AdjustmentDTO{
		ID:        string(a.ID),
		PersonID:  string(a.PersonID),
		TypeCode:  a.TypeCode,
		Concept:   a.Concept,
		Mode:      string(a.Mode),
		Value:     a.Value,
		AppliesTo: string(a.AppliesTo),
		From:      a.Validity.From.String(),
		Motive:    a.Motive,
		Active:    a.Active,
		CreatedBy: a.CreatedBy,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
	if a.CuotaID != nil {
		s := string(*a.CuotaID)
		dto.CuotaID = &s
	}
	if a.Validity.To != nil {
		s := a.Validity.To.String()
		dto.To = &s
	}
	return dto
}

func toAuditDTO(e generic.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:        e.ID,
		Action:    string(e.Action),
		PersonID:  string(e.PersonID),
		Actor:     e.Actor,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
	if e.CuotaID != nil {
		s := string(*e.CuotaID)
		dto.CuotaID = &s
	}
	if e.AdjustmentID != nil {
		s := string(*e.AdjustmentID)
		dto.AdjustmentID = &s
	}
	if e.ExemptionID != nil {
		s := string(*e.ExemptionID)
		dto.ExemptionID = &s
	}
	if e.Before != nil {
		dto.Before = e.Before.Data
	}
	if e.After != nil {
		dto.After = e.After.Data
	}
	return dto
}

func toItemTypeDTO(t generic.ItemType) ItemTypeDTO {
	return ItemTypeDTO{
		ID:           t.ID,
		Code:         t.Code,
		Name:         t.Name,
		Category:     string(t.Category),
		Calculated:   t.Calculated,
		Formula:      json.RawMessage(t.Formula),
		Configurable: t.Configurable,
		DisplayOrder: t.DisplayOrder,
		Active:       t.Active,
		System:       t.System,
	}
}
