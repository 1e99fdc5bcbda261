/*
handlers_records.go - Exemption, adjustment and audit endpoints

ENDPOINTS:
  Exemptions:
    GET    /api/exemptions?persona=ID           List a person's exemptions
    POST   /api/exemptions                      Request (PENDIENTE_APROBACION)
    GET    /api/exemptions/{id}
    POST   /api/exemptions/{id}/approve
    POST   /api/exemptions/{id}/reject          {"motivo"}
    POST   /api/exemptions/{id}/activate
    POST   /api/exemptions/{id}/revoke          {"motivo"}
    POST   /api/exemptions/{id}/apply           {"cuotaId"}
    POST   /api/exemptions/sweep                Expire/activate by date

  Adjustments:
    GET    /api/adjustments?persona=ID&inactivos=true
    POST   /api/adjustments
    GET    /api/adjustments/{id}
    PUT    /api/adjustments/{id}                Partial update
    POST   /api/adjustments/{id}/deactivate     {"motivo"}
    POST   /api/adjustments/{id}/reactivate     {"motivo"}
    DELETE /api/adjustments/{id}                Logical delete {"motivo"}
    POST   /api/adjustments/{id}/purge          Physical delete {"motivo"}
    POST   /api/adjustments/{id}/apply          {"cuotaId"}

  Audit:
    GET    /api/audit?persona=&cuota=&ajuste=&exencion=&accion=&desde=&hasta=&limite=
    POST   /api/audit/purge                     {"antesDe": "YYYY-MM-DD"}
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/fee-engine/adjustment"
	"github.com/warp/fee-engine/exemption"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// EXEMPTIONS
// =============================================================================

// ListExemptions returns a person's exemptions.
// GET /api/exemptions?persona=ID
func (h *Handler) ListExemptions(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("persona")
	if personID == "" {
		h.fail(w, r, generic.Validationf("query parameter persona is required"))
		return
	}
	list, err := h.Exemptions.List(r.Context(), generic.PersonID(personID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ExemptionDTO, len(list))
	for i, e := range list {
		dtos[i] = toExemptionDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RequestExemption creates an exemption awaiting approval.
// POST /api/exemptions
func (h *Handler) RequestExemption(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ExemptionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := generic.ParseDate(req.ValidFrom)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := exemption.RequestInput{
		PersonID:            generic.PersonID(req.PersonID),
		Kind:                generic.ExemptionKind(req.Kind),
		AppliesToBase:       req.AppliesToBase,
		AppliesToActivities: req.AppliesToActivities,
		Motive:              req.Motive,
		Description:         req.Description,
		ValidFrom:           from,
		RequestedBy:         actor,
	}
	if req.Percentage != nil {
		in.Percentage = *req.Percentage
	}
	if req.ValidTo != nil {
		to, err := generic.ParseDate(*req.ValidTo)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.ValidTo = &to
	}

	e, err := h.Exemptions.Request(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExemptionDTO(*e))
}

// GetExemption returns one exemption.
// GET /api/exemptions/{id}
func (h *Handler) GetExemption(w http.ResponseWriter, r *http.Request) {
	e, err := h.Exemptions.Get(r.Context(), exemptionParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExemptionDTO(*e))
}

// ApproveExemption moves PENDIENTE_APROBACION → APROBADA.
// POST /api/exemptions/{id}/approve
func (h *Handler) ApproveExemption(w http.ResponseWriter, r *http.Request) {
	h.exemptionAction(w, r, false, func(actor, _ string) (*generic.Exemption, error) {
		return h.Exemptions.Approve(r.Context(), exemptionParam(r), actor)
	})
}

// RejectExemption moves PENDIENTE_APROBACION → RECHAZADA.
// POST /api/exemptions/{id}/reject
func (h *Handler) RejectExemption(w http.ResponseWriter, r *http.Request) {
	h.exemptionAction(w, r, true, func(actor, reason string) (*generic.Exemption, error) {
		return h.Exemptions.Reject(r.Context(), exemptionParam(r), actor, reason)
	})
}

// ActivateExemption moves APROBADA → VIGENTE.
// POST /api/exemptions/{id}/activate
func (h *Handler) ActivateExemption(w http.ResponseWriter, r *http.Request) {
	h.exemptionAction(w, r, false, func(actor, _ string) (*generic.Exemption, error) {
		return h.Exemptions.Activate(r.Context(), exemptionParam(r), actor)
	})
}

// RevokeExemption moves APROBADA/VIGENTE → REVOCADA.
// POST /api/exemptions/{id}/revoke
func (h *Handler) RevokeExemption(w http.ResponseWriter, r *http.Request) {
	h.exemptionAction(w, r, true, func(actor, reason string) (*generic.Exemption, error) {
		return h.Exemptions.Revoke(r.Context(), exemptionParam(r), actor, reason)
	})
}

// ApplyExemption rebuilds a cuota with the exemption in effect.
// POST /api/exemptions/{id}/apply
func (h *Handler) ApplyExemption(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ApplyRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Exemptions.ApplyToCuota(r.Context(), exemptionParam(r), generic.CuotaID(req.CuotaID), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

// SweepExemptions runs the date-driven transitions now.
// POST /api/exemptions/sweep
func (h *Handler) SweepExemptions(w http.ResponseWriter, r *http.Request) {
	res, err := h.Exemptions.Sweep(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"vencidas":  res.Expired,
		"vigentes":  res.Activated,
		"fallidas":  res.Failed,
		"revisadas": res.Expired + res.Activated + res.Failed,
	})
}

func (h *Handler) exemptionAction(w http.ResponseWriter, r *http.Request, needsReason bool, fn func(actor, reason string) (*generic.Exemption, error)) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var reason string
	if needsReason {
		var req ReasonRequest
		if err := h.decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		reason = req.Reason
	}
	e, err := fn(actor, reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExemptionDTO(*e))
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// ListAdjustments returns a person's adjustments.
// GET /api/adjustments?persona=ID&inactivos=true
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("persona")
	if personID == "" {
		h.fail(w, r, generic.Validationf("query parameter persona is required"))
		return
	}
	includeInactive := r.URL.Query().Get("inactivos") == "true"
	list, err := h.Adjustments.List(r.Context(), generic.PersonID(personID), includeInactive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AdjustmentDTO, len(list))
	for i, a := range list {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment creates a manual adjustment.
// POST /api/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	validity, err := parseValidity(req.From, req.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := adjustment.Input{
		PersonID:  generic.PersonID(req.PersonID),
		TypeCode:  req.TypeCode,
		Concept:   req.Concept,
		Mode:      generic.AdjustmentMode(req.Mode),
		Value:     req.Value,
		AppliesTo: generic.AdjustmentTarget(req.AppliesTo),
		Validity:  validity,
		Motive:    req.Motive,
		Actor:     actor,
	}
	if req.CuotaID != nil {
		id := generic.CuotaID(*req.CuotaID)
		in.CuotaID = &id
	}

	a, err := h.Adjustments.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*a))
}

// GetAdjustment returns one adjustment.
// GET /api/adjustments/{id}
func (h *Handler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Adjustments.Get(r.Context(), adjustmentParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

// UpdateAdjustment changes the given fields.
// PUT /api/adjustments/{id}
func (h *Handler) UpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AdjustmentPatchRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p := adjustment.Patch{
		Concept: req.Concept,
		Value:   req.Value,
		Motive:  req.Motive,
	}
	if req.Mode != nil {
		m := generic.AdjustmentMode(*req.Mode)
		p.Mode = &m
	}
	if req.AppliesTo != nil {
		t := generic.AdjustmentTarget(*req.AppliesTo)
		p.AppliesTo = &t
	}
	if req.From != nil || req.To != nil {
		if req.From == nil {
			h.fail(w, r, generic.Validationf("desde is required to change the validity"))
			return
		}
		validity, err := parseValidity(*req.From, req.To)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p.Validity = &validity
	}

	a, err := h.Adjustments.Update(r.Context(), adjustmentParam(r), p, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

// DeactivateAdjustment stops an adjustment from applying.
// POST /api/adjustments/{id}/deactivate
func (h *Handler) DeactivateAdjustment(w http.ResponseWriter, r *http.Request) {
	h.adjustmentAction(w, r, h.Adjustments.Deactivate)
}

// ReactivateAdjustment makes an inactive adjustment apply again.
// POST /api/adjustments/{id}/reactivate
func (h *Handler) ReactivateAdjustment(w http.ResponseWriter, r *http.Request) {
	h.adjustmentAction(w, r, h.Adjustments.Reactivate)
}

// DeleteAdjustment deletes logically (activo=false).
// DELETE /api/adjustments/{id}
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	h.adjustmentAction(w, r, h.Adjustments.Delete)
}

// PurgeAdjustment deletes physically. The audit entry keeps the last state.
// POST /api/adjustments/{id}/purge
func (h *Handler) PurgeAdjustment(w http.ResponseWriter, r *http.Request) {
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
	if err := h.Adjustments.Purge(r.Context(), adjustmentParam(r), actor, req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ApplyAdjustment rebuilds a cuota with the adjustment in effect.
// POST /api/adjustments/{id}/apply
func (h *Handler) ApplyAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ApplyRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Adjustments.ApplyToCuota(r.Context(), adjustmentParam(r), generic.CuotaID(req.CuotaID), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateDTO(st))
}

type adjustmentMutation func(ctx context.Context, id generic.AdjustmentID, actor, reason string) (*generic.Adjustment, error)

func (h *Handler) adjustmentAction(w http.ResponseWriter, r *http.Request, fn adjustmentMutation) {
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
	a, err := fn(r.Context(), adjustmentParam(r), actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

// parseValidity parses "YYYY-MM" bounds; to is open-ended when nil.
func parseValidity(from string, to *string) (generic.PeriodRange, error) {
	var rng generic.PeriodRange
	p, err := generic.ParsePeriod(from)
	if err != nil {
		return rng, err
	}
	rng.From = p
	if to != nil {
		p, err := generic.ParsePeriod(*to)
		if err != nil {
			return rng, err
		}
		rng.To = &p
	}
	return rng, rng.Validate()
}

// =============================================================================
// AUDIT
// =============================================================================

// QueryAudit returns audit entries, oldest first.
// GET /api/audit
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f generic.AuditFilter
	if v := q.Get("persona"); v != "" {
		id := generic.PersonID(v)
		f.PersonID = &id
	}
	if v := q.Get("cuota"); v != "" {
		id := generic.CuotaID(v)
		f.CuotaID = &id
	}
	if v := q.Get("ajuste"); v != "" {
		id := generic.AdjustmentID(v)
		f.AdjustmentID = &id
	}
	if v := q.Get("exencion"); v != "" {
		id := generic.ExemptionID(v)
		f.ExemptionID = &id
	}
	for _, a := range q["accion"] {
		f.Actions = append(f.Actions, generic.AuditAction(a))
	}
	if v := q.Get("desde"); v != "" {
		t, err := generic.ParseDate(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f.From = &t
	}
	if v := q.Get("hasta"); v != "" {
		t, err := generic.ParseDate(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		// Inclusive: up to the end of that day.
		end := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		f.To = &end
	}
	if v := q.Get("limite"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, r, generic.Validationf("invalid limite %q", v))
			return
		}
		f.Limit = n
	}

	entries, err := h.Trail.Query(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PurgeAudit deletes entries older than the given date.
// POST /api/audit/purge
func (h *Handler) PurgeAudit(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req PurgeAuditRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cutoff, err := generic.ParseDate(req.Before)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.Trail.Purge(r.Context(), cutoff, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func exemptionParam(r *http.Request) generic.ExemptionID {
	return generic.ExemptionID(chi.URLParam(r, "id"))
}

func adjustmentParam(r *http.Request) generic.AdjustmentID {
	return generic.AdjustmentID(chi.URLParam(r, "id"))
}
