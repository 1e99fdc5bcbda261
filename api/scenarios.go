/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates member categories,
	people, activities, rules, exemptions or adjustments that demonstrate
	one feature of the fee engine, then generates the cuotas of the current
	period where that makes the point.

AVAILABLE SCENARIOS:

	socio-basico:        Base 10,000 + one activity 2,000 → 12,000
	descuento-familiar:  Same person with a 15% family rule → 10,500
	exenciones:          TOTAL exemption in force, PARCIAL awaiting approval
	ajustes:             Fixed surcharge plus a percentage discount on activities
	lote:                50 members, #17 without a category, batch run → 49 + 1 error
	legacy:              A last-month legacy cuota ready to migrate

HOW SCENARIOS WORK:
 1. Reset database (clear all data) and re-seed the catalog
 2. Create member categories and activities
 3. Create people with their SOCIO assignment
 4. Add rules, exemptions or adjustments through the services
 5. Generate cuotas (single record or batch)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "descuento-familiar"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - factory/presets.go: Rule documents
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-engine/adjustment"
	"github.com/warp/fee-engine/batch"
	"github.com/warp/fee-engine/exemption"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/generic"
)

const scenarioActor = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "socio-basico",
		Name:        "Socio básico",
		Description: "Categoría ACTIVO (10.000) y natación (2.000): cuota de 12.000 sin descuentos",
	},
	{
		ID:          "descuento-familiar",
		Name:        "Descuento familiar",
		Description: "El mismo socio con un familiar activo y la regla FAMILIAR_15 sobre la base: 10.500",
	},
	{
		ID:          "exenciones",
		Name:        "Exenciones",
		Description: "Una exención TOTAL vigente (sólo se cobran actividades) y una PARCIAL pendiente de aprobación",
	},
	{
		ID:          "ajustes",
		Name:        "Ajustes manuales",
		Description: "Recargo fijo de 500 y 10% de descuento sobre actividades durante tres meses",
	},
	{
		ID:          "lote",
		Name:        "Generación por lote",
		Description: "50 socios, el #17 sin categoría: 49 cuotas generadas y 1 error",
	},
	{
		ID:          "legacy",
		Name:        "Cuota legacy",
		Description: "Una cuota del mes anterior con montoBase/montoActividades lista para migrar a ítems",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario_id": nil})
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, map[string]any{"scenario_id": s.ID, "scenario": s})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario_id": h.currentScenario})
}

// LoadScenario loads a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

// LoadScenarioByID resets the database and loads one scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"socio-basico":       h.loadBasicScenario,
		"descuento-familiar": h.loadFamilyDiscountScenario,
		"exenciones":         h.loadExemptionsScenario,
		"ajustes":            h.loadAdjustmentsScenario,
		"lote":               h.loadBatchScenario,
		"legacy":             h.loadLegacyScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return generic.NotFound("scenario", id)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.log.Info("scenario loaded", "scenario", id)
	return nil
}

// reset clears every table and seeds the catalog again.
func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return generic.Internal("reset database", err)
	}
	return h.Catalog.Seed(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBasicScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	if err := h.member(ctx, "socio-1", "Ana Pereyra", "ACTIVO", 3); err != nil {
		return err
	}
	if err := h.enroll(ctx, "socio-1", "natacion"); err != nil {
		return err
	}
	_, err := h.Cuotas.Create(ctx, "socio-1", h.currentPeriod(), scenarioActor)
	return err
}

func (h *Handler) loadFamilyDiscountScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	if err := h.member(ctx, "socio-1", "Ana Pereyra", "ACTIVO", 3); err != nil {
		return err
	}
	if err := h.member(ctx, "socio-2", "Luis Pereyra", "ACTIVO", 3); err != nil {
		return err
	}
	if err := h.enroll(ctx, "socio-1", "natacion"); err != nil {
		return err
	}
	err := h.Store.SaveFamilyRelation(ctx, generic.FamilyRelation{
		ID:              "rel-1",
		PersonID:        "socio-1",
		RelatedPersonID: "socio-2",
		Kind:            "CONYUGE",
		Percentage:      decimal.NewFromInt(15),
		Active:          true,
	})
	if err != nil {
		return err
	}
	if err := h.saveRule(ctx, factory.FamilyDiscountJSON("FAMILIAR_15", "Descuento familiar", 15)); err != nil {
		return err
	}
	_, err = h.Cuotas.Create(ctx, "socio-1", h.currentPeriod(), scenarioActor)
	return err
}

func (h *Handler) loadExemptionsScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	for _, m := range []struct {
		id   generic.PersonID
		name string
	}{
		{"socio-1", "Ana Pereyra"},
		{"socio-2", "Marta Giménez"},
	} {
		if err := h.member(ctx, m.id, m.name, "ACTIVO", 5); err != nil {
			return err
		}
		if err := h.enroll(ctx, m.id, "natacion"); err != nil {
			return err
		}
	}

	period := h.currentPeriod()
	total, err := h.Exemptions.Request(ctx, exemption.RequestInput{
		PersonID:    "socio-1",
		Kind:        generic.ExemptionTotal,
		Motive:      "Situación económica",
		Description: "Exención total por seis meses",
		ValidFrom:   period.Start(),
		RequestedBy: scenarioActor,
	})
	if err != nil {
		return err
	}
	if _, err := h.Exemptions.Approve(ctx, total.ID, "comision"); err != nil {
		return err
	}
	if _, err := h.Exemptions.Activate(ctx, total.ID, "comision"); err != nil {
		return err
	}

	_, err = h.Exemptions.Request(ctx, exemption.RequestInput{
		PersonID:            "socio-2",
		Kind:                generic.ExemptionPartial,
		Percentage:          decimal.NewFromInt(50),
		AppliesToActivities: true,
		Motive:              "Beca deportiva",
		ValidFrom:           period.Start(),
		RequestedBy:         scenarioActor,
	})
	if err != nil {
		return err
	}

	_, err = h.Batch.Generate(ctx, batch.Request{Period: period, Actor: scenarioActor})
	return err
}

func (h *Handler) loadAdjustmentsScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	if err := h.member(ctx, "socio-1", "Ana Pereyra", "ACTIVO", 2); err != nil {
		return err
	}
	if err := h.enroll(ctx, "socio-1", "natacion"); err != nil {
		return err
	}
	if err := h.enroll(ctx, "socio-1", "tenis"); err != nil {
		return err
	}

	period := h.currentPeriod()
	until := period.Next().Next()
	_, err := h.Adjustments.Create(ctx, adjustment.Input{
		PersonID:  "socio-1",
		TypeCode:  generic.TypeAjusteRecargo,
		Concept:   "Recargo por mora",
		Mode:      generic.AdjustmentFixed,
		Value:     decimal.NewFromInt(500),
		AppliesTo: generic.TargetAll,
		Validity:  generic.PeriodRange{From: period, To: &period},
		Motive:    "Pago fuera de término",
		Actor:     scenarioActor,
	})
	if err != nil {
		return err
	}
	_, err = h.Adjustments.Create(ctx, adjustment.Input{
		PersonID:  "socio-1",
		TypeCode:  generic.TypeAjusteDescuento,
		Concept:   "Bonificación actividades",
		Mode:      generic.AdjustmentPercentage,
		Value:     decimal.NewFromInt(10),
		AppliesTo: generic.TargetActivities,
		Validity:  generic.PeriodRange{From: period, To: &until},
		Motive:    "Acuerdo con la subcomisión",
		Actor:     scenarioActor,
	})
	if err != nil {
		return err
	}
	_, err = h.Cuotas.Create(ctx, "socio-1", period, scenarioActor)
	return err
}

func (h *Handler) loadBatchScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	for _, doc := range []string{
		factory.LargestFamilyDiscountJSON("FAMILIAR", "Descuento familiar"),
		factory.ActivityStepsJSON("MULTI_ACTIVIDAD", "Descuento por actividades"),
		factory.TenureDiscountJSON("ANTIGUEDAD", "Antigüedad", 10, 1, 15),
	} {
		if err := h.saveRule(ctx, doc); err != nil {
			return err
		}
	}

	activities := []string{"natacion", "tenis", "futbol"}
	for i := 1; i <= 50; i++ {
		id := generic.PersonID(fmt.Sprintf("socio-%02d", i))
		category := "ACTIVO"
		switch {
		case i == 17:
			category = ""
		case i%5 == 0:
			category = "CADETE"
		}
		if err := h.member(ctx, id, fmt.Sprintf("Socio %02d", i), category, i%15); err != nil {
			return err
		}
		for j := 0; j < i%4; j++ {
			if err := h.enroll(ctx, id, activities[j]); err != nil {
				return err
			}
		}
		if i%10 == 1 && i > 1 {
			err := h.Store.SaveFamilyRelation(ctx, generic.FamilyRelation{
				ID:              "rel-" + string(id),
				PersonID:        id,
				RelatedPersonID: "socio-01",
				Kind:            "HIJO",
				Percentage:      decimal.NewFromInt(20),
				Active:          true,
			})
			if err != nil {
				return err
			}
		}
	}

	_, err := h.Batch.Generate(ctx, batch.Request{Period: h.currentPeriod(), Actor: scenarioActor})
	return err
}

func (h *Handler) loadLegacyScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	if err := h.member(ctx, "socio-1", "Ana Pereyra", "ACTIVO", 8); err != nil {
		return err
	}
	if err := h.enroll(ctx, "socio-1", "natacion"); err != nil {
		return err
	}

	last := generic.PeriodOf(h.currentPeriod().Start().AddDate(0, -1, 0))
	now := h.clock()
	base, acts := decimal.NewFromInt(9500), decimal.NewFromInt(2000)
	return h.Store.WithTx(ctx, func(tx generic.Store) error {
		receipt := generic.Receipt{
			ID:        generic.ReceiptID(uuid.NewString()),
			PersonID:  "socio-1",
			Period:    last,
			Amount:    base.Add(acts),
			Status:    generic.ReceiptPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.SaveReceipt(ctx, receipt); err != nil {
			return err
		}
		return tx.InsertCuota(ctx, generic.Cuota{
			ID:               generic.CuotaID(uuid.NewString()),
			PersonID:         "socio-1",
			Period:           last,
			ReceiptID:        receipt.ID,
			Total:            base.Add(acts),
			CategoryCode:     "ACTIVO",
			Legacy:           true,
			LegacyBase:       base,
			LegacyActivities: acts,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// seedDirectory creates the member categories and activities every
// scenario shares.
func (h *Handler) seedDirectory(ctx context.Context) error {
	for _, c := range []generic.MemberCategory{
		{Code: "ACTIVO", Name: "Socio activo", BaseAmount: decimal.NewFromInt(10000), Active: true},
		{Code: "CADETE", Name: "Socio cadete", BaseAmount: decimal.NewFromInt(6000), Active: true},
	} {
		if err := h.Store.SaveMemberCategory(ctx, c); err != nil {
			return err
		}
	}
	for _, a := range []generic.Activity{
		{ID: "natacion", Name: "Natación", Price: decimal.NewFromInt(2000)},
		{ID: "tenis", Name: "Tenis", Price: decimal.NewFromInt(3000)},
		{ID: "futbol", Name: "Fútbol", Price: decimal.NewFromInt(1500)},
	} {
		if err := h.Store.SaveActivity(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// member creates a person enrolled yearsAgo years ago with a SOCIO
// assignment in category (none when category is empty).
func (h *Handler) member(ctx context.Context, id generic.PersonID, name, category string, yearsAgo int) error {
	enrolled := generic.DateOf(h.clock()).AddDate(-yearsAgo, 0, -1)
	if err := h.Store.SavePerson(ctx, generic.Person{ID: id, Name: name, EnrolledAt: enrolled}); err != nil {
		return err
	}
	return h.Store.SaveAssignment(ctx, generic.TypeAssignment{
		ID:           "asig-" + string(id),
		PersonID:     id,
		TypeCode:     generic.AssignmentSocio,
		CategoryCode: category,
		From:         enrolled,
	})
}

func (h *Handler) enroll(ctx context.Context, id generic.PersonID, activityID string) error {
	return h.Store.SaveParticipation(ctx, generic.Participation{
		ID:         "part-" + string(id) + "-" + activityID,
		PersonID:   id,
		ActivityID: activityID,
		From:       h.currentPeriod().Start().AddDate(0, -2, 0),
		Active:     true,
	})
}

func (h *Handler) saveRule(ctx context.Context, doc string) error {
	rule, err := h.Rules.ParseRule(doc)
	if err != nil {
		return err
	}
	return h.Store.SaveDiscountRule(ctx, *rule)
}

func (h *Handler) currentPeriod() generic.Period {
	return generic.PeriodOf(h.clock())
}
