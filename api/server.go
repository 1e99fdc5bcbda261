/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/cuotas/*         Cuota generation and edits
  /api/batch/*          Period-wide generation
  /api/exemptions/*     Exemption lifecycle
  /api/adjustments/*    Manual adjustments
  /api/audit/*          Audit trail
  /api/catalog/*        Item categories and types
  /api/rules/*          Discount rules and configuration
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. The X-Actor header is trusted as is.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/cuotas", func(r chi.Router) {
			r.Get("/", h.ListCuotas)
			r.Post("/", h.CreateCuota)
			r.Post("/preview", h.PreviewCuota)
			r.Get("/{id}", h.GetCuota)
			r.Post("/{id}/regenerate", h.RegenerateCuota)
			r.Post("/{id}/recalculate", h.RecalculateCuota)
			r.Post("/{id}/invalidate", h.InvalidateCuota)
			r.Post("/{id}/migrate", h.MigrateCuota)
			r.Post("/{id}/rollback", h.RollbackCuota)
			r.Put("/{id}/items/{itemId}", h.UpdateItem)
			r.Delete("/{id}/items/{itemId}", h.DeleteItem)
		})

		r.Post("/batch/generate", h.GenerateBatch)

		r.Route("/exemptions", func(r chi.Router) {
			r.Get("/", h.ListExemptions)
			r.Post("/", h.RequestExemption)
			r.Post("/sweep", h.SweepExemptions)
			r.Get("/{id}", h.GetExemption)
			r.Post("/{id}/approve", h.ApproveExemption)
			r.Post("/{id}/reject", h.RejectExemption)
			r.Post("/{id}/activate", h.ActivateExemption)
			r.Post("/{id}/revoke", h.RevokeExemption)
			r.Post("/{id}/apply", h.ApplyExemption)
		})

		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", h.ListAdjustments)
			r.Post("/", h.CreateAdjustment)
			r.Get("/{id}", h.GetAdjustment)
			r.Put("/{id}", h.UpdateAdjustment)
			r.Delete("/{id}", h.DeleteAdjustment)
			r.Post("/{id}/deactivate", h.DeactivateAdjustment)
			r.Post("/{id}/reactivate", h.ReactivateAdjustment)
			r.Post("/{id}/purge", h.PurgeAdjustment)
			r.Post("/{id}/apply", h.ApplyAdjustment)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.QueryAudit)
			r.Post("/purge", h.PurgeAudit)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/categories", h.ListCategories)
			r.Post("/categories", h.SaveCategory)
			r.Delete("/categories/{code}", h.DeactivateCategory)
			r.Get("/types", h.ListItemTypes)
			r.Post("/types", h.CreateItemType)
			r.Put("/types/{code}", h.UpdateItemType)
			r.Delete("/types/{code}", h.DeleteItemType)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/import", h.ImportRules)
			r.Get("/config", h.GetDiscountConfig)
			r.Put("/config", h.PutDiscountConfig)
			r.Put("/{code}", h.UpdateRule)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
