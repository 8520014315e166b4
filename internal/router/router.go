package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"traitfusion-api/internal/handler"
	"traitfusion-api/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	ItemHandler     *handler.ItemHandler
	ActionHandler   *handler.ActionHandler
	SnapshotHandler *handler.SnapshotHandler
	OracleHandler   *handler.OracleHandler
	EventHandler    *handler.EventHandler
	AdminHandler    *handler.AdminHandler
	AuthMiddleware  func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	if cfg.AuthMiddleware != nil {
		r.Use(cfg.AuthMiddleware)
	}
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// PUBLIC routes (reads need no identity)
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		r.Route("/items/{id}", func(r chi.Router) {
			if cfg.ItemHandler != nil {
				r.Get("/attributes", cfg.ItemHandler.ListAttributes)
				r.Get("/attributes/{name}", cfg.ItemHandler.GetAttribute)
				r.Post("/digest", cfg.ItemHandler.Digest)
				r.Get("/state", cfg.ItemHandler.State)
			}
			if cfg.SnapshotHandler != nil {
				r.Get("/snapshot", cfg.SnapshotHandler.Get)
				r.Get("/snapshot/verify", cfg.SnapshotHandler.Verify)
			}
			if cfg.EventHandler != nil {
				r.Get("/events", cfg.EventHandler.ListForItem)
			}

			// AUTHENTICATED item routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCaller)

				if cfg.ItemHandler != nil {
					r.Put("/attributes/{name}", cfg.ItemHandler.SetAttribute)
				}
				if cfg.ActionHandler != nil {
					r.Post("/fight", cfg.ActionHandler.Fight)
					r.Post("/potion", cfg.ActionHandler.UsePotion)
					r.Post("/zone", cfg.ActionHandler.EnterZone)
					r.Post("/lootbox", cfg.ActionHandler.OpenLootBox)
					r.Post("/quests", cfg.ActionHandler.StartQuest)
					r.Post("/quests/complete", cfg.ActionHandler.CompleteQuest)
				}
				if cfg.SnapshotHandler != nil {
					r.Post("/snapshot", cfg.SnapshotHandler.Create)
					r.Post("/transfer", cfg.SnapshotHandler.Transfer)
				}
				if cfg.OracleHandler != nil {
					r.Post("/oracle/{category}", cfg.OracleHandler.Request)
				}
			})
		})

		if cfg.EventHandler != nil {
			r.Get("/events", cfg.EventHandler.List)
		}

		// AUTHENTICATED routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCaller)

			if cfg.ItemHandler != nil {
				r.Post("/items", cfg.ItemHandler.CreateItem)
			}
			if cfg.OracleHandler != nil {
				r.Post("/oracle/fulfill", cfg.OracleHandler.Fulfill)
				r.Post("/randomness/fulfill", cfg.OracleHandler.FulfillRandomness)
			}
			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Post("/jobs/{job}", cfg.AdminHandler.RunJob)
				})
			}
		})
	})

	return r
}
