/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the assortment front end

ROUTE GROUPS:
  /api/warehouses, /api/grns/*, /api/packets/*, /api/assortments
                        Collaborator endpoints over the Backend
  /api/sessions/*       Assortment sessions

SECURITY NOTE:
  No authentication middleware. Login and user management live in the
  surrounding platform, in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Collaborator routes
		r.Get("/warehouses", h.ListWarehouses)
		r.Route("/grns", func(r chi.Router) {
			r.Get("/", h.ListGrns)
			r.Get("/{id}/items", h.GetGrnItems)
		})
		r.Route("/packets", func(r chi.Router) {
			r.Get("/", h.ListPackets)
			r.Post("/generate-code", h.GeneratePacketCode)
		})
		r.Post("/assortments", h.Assort)

		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Route("/{sid}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.DeleteSession)
				r.Get("/warehouses", h.SessionWarehouses)
				r.Put("/warehouse", h.SelectWarehouse)
				r.Get("/grns", h.SessionGrns)
				r.Put("/grn", h.SelectGrn)
				r.Post("/targets", h.AddTarget)
				r.Post("/targets/existing", h.AddExistingTarget)
				r.Put("/targets/{tid}/attributes", h.SetAttribute)
				r.Put("/targets/{tid}/allocations/{itemID}", h.SetAllocation)
				r.Post("/targets/{tid}/code", h.GenerateTargetCode)
				r.Get("/payload", h.GetPayload)
				r.Post("/submit", h.Submit)
			})
		})
	})

	return r
}
