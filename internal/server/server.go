// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/stakahashi/tenken/internal/form"
	"github.com/stakahashi/tenken/internal/handler"
	"github.com/stakahashi/tenken/internal/metrics"
	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/watch"
	"github.com/stakahashi/tenken/internal/wire"
)

// Config holds server configuration.
type Config struct {
	Port  int
	Store store.Store
	Sync  *watch.Synchronizer
	Disp  form.Dispatcher
}

// Run starts the HTTP server with all routes registered. It blocks until
// the context is cancelled or the listener fails.
func Run(ctx context.Context, cfg Config) error {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Count emitted trees. Emission bypasses the bus, so observe the
	// subscription directly.
	go func() {
		trees, cancel := cfg.Sync.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-trees:
				if !ok {
					return
				}
				metrics.IncTreeEmitted()
			}
		}
	}()

	// --- Structure ---
	sh := handler.NewStructureHandler(cfg.Store, cfg.Sync)
	r.Get("/v1/structure", sh.GetTree)
	r.Method(http.MethodGet, "/v1/structure/ws", wire.NewHandler(cfg.Sync))
	r.Post("/v1/structure/import", sh.Import)
	r.Route("/v1/places", func(r chi.Router) {
		r.Post("/", sh.AddPlace)
		r.Post("/reorder", sh.ReorderPlaces)
		r.Delete("/{placeID}", sh.DeletePlace)
		r.Route("/{placeID}/categories", func(r chi.Router) {
			r.Post("/", sh.AddCategory)
			r.Post("/reorder", sh.ReorderCategories)
			r.Delete("/{categoryID}", sh.DeleteCategory)
			r.Route("/{categoryID}/items", func(r chi.Router) {
				r.Post("/", sh.AddItem)
				r.Post("/reorder", sh.ReorderItems)
				r.Delete("/{itemID}", sh.DeleteItem)
			})
		})
	})

	// --- Form sessions ---
	sessions := handler.NewSessionHandler(cfg.Sync, cfg.Sync, cfg.Disp, cfg.Store)
	defer sessions.Close()
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", sessions.Create)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", sessions.GetState)
			r.Delete("/", sessions.Delete)
			r.Post("/select-place", sessions.SelectPlace)
			r.Post("/select-category", sessions.SelectCategory)
			r.Post("/back", sessions.Back)
			r.Post("/values/{itemID}", sessions.SetValue)
			r.Post("/details/{itemID}", sessions.SetDetail)
			r.Post("/submit", sessions.Submit)
			r.Post("/confirm", sessions.Confirm)
			r.Post("/reset", sessions.Reset)
		})
	})

	// --- Reports and users ---
	rh := handler.NewReportHandler(cfg.Store)
	r.Get("/v1/reports", rh.ListReports)

	uh := handler.NewUserHandler(cfg.Store)
	r.Route("/v1/users", func(r chi.Router) {
		r.Get("/", uh.ListUsers)
		r.Post("/{userID}/approve", uh.Approve)
		r.Post("/{userID}/admin", uh.Admin)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("starting server on %s", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
