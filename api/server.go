/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/health           Public
  /api/scenarios/*      Public, only when demo mode is on
  /api/households       Token required (no household yet)
  everything else       Token and household membership required

STATIC FILE SERVING:
  Serves a built frontend from web/dist when present, falling back to
  index.html for client-side routing.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate / RequireActor
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configure the parts of the router that vary per deployment.
type RouterOptions struct {
	AllowedOrigins []string
	Demo           bool
	StaticDir      string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		if opts.Demo {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Post("/households", h.CreateHousehold)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireActor)

				r.Route("/household", func(r chi.Router) {
					r.Put("/", h.RenameHousehold)
					r.Post("/leave", h.LeaveHousehold)
					r.Get("/members", h.ListMembers)
					r.Post("/members", h.AddMember)
					r.Put("/members/{userID}/permissions", h.UpdateMemberPermissions)
					r.Delete("/members/{userID}", h.RemoveMember)
				})

				r.Route("/cards", func(r chi.Router) {
					r.Get("/", h.ListCards)
					r.Post("/", h.CreateCard)
					r.Put("/{id}", h.UpdateCard)
					r.Delete("/{id}", h.DeleteCard)
				})

				r.Route("/categories", func(r chi.Router) {
					r.Get("/", h.ListCategories)
					r.Post("/", h.CreateCategory)
					r.Delete("/{id}", h.DeleteCategory)
				})

				r.Route("/purchases", func(r chi.Router) {
					r.Get("/", h.ListPurchases)
					r.Post("/", h.CreatePurchase)
					r.Post("/preview", h.PreviewPurchase)
					r.Put("/{id}", h.UpdatePurchase)
					r.Delete("/{id}", h.DeletePurchase)
					r.Post("/{id}/cancel", h.CancelPurchase)
				})

				r.Route("/invoices/{year}/{month}", func(r chi.Router) {
					r.Get("/", h.GetInvoice)
					r.Post("/pay", h.PayInvoice)
					r.Get("/stream", h.StreamInvoice)
				})
				r.Post("/installments/{id}/pay", h.PayInstallment)

				r.Get("/dashboard", h.GetDashboard)
				r.Get("/history", h.GetHistory)

				r.Post("/admin/repair", h.RunRepair)
			})
		})
	})

	staticDir := opts.StaticDir
	if staticDir == "" {
		staticDir = "./web/dist"
	}
	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	} else {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Card Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Card Engine API</h1>
<p>No frontend build found. Every endpoint except /api/health needs a bearer token.</p>
<ul>
<li><a href="/api/health">/api/health</a> - Health check</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios (demo mode only)</li>
</ul>
</body>
</html>`))
		})
	}

	return r
}
