package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Config carries the router's two knobs. The pipeline is a
// backend-to-backend service: the user-facing API calls CreateRender with
// a shared service key, and browsers only ever poll progress.
type Config struct {
	// APIKey guards the /v1 routes. Empty disables the check for local
	// development.
	APIKey string
	// AllowedOrigins is a comma-separated whitelist for cross-origin
	// progress polling. Empty allows any origin.
	AllowedOrigins string
}

// NewRouter wires the pipeline's entire HTTP surface: render creation,
// progress polling and a liveness probe. Project and segment CRUD belong
// to the service that owns user data, not here.
func NewRouter(h *Handler, cfg Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireKey(cfg.APIKey))
		r.Post("/projects/{id}/renders", h.CreateRender)
		r.Get("/renders/{id}/progress", h.GetRenderProgress)
	})

	return r
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// requireKey authenticates callers by a single shared service key, read
// from X-API-Key or an Authorization bearer token. Per-user identity never
// reaches this service — the API in front of it owns users and access
// control — so a static key comparison is the whole trust model here.
func requireKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				respondError(w, http.StatusUnauthorized, "missing or invalid service key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
