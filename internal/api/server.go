package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP routing table. Session minting is left
// unauthenticated: only the trusted tool front end can reach this listener.
func NewRouter(h *Handlers, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", h.HealthHandler)

	r.Post("/sessions", h.CreateSessionHandler)
	r.Delete("/sessions/{token}", h.RevokeSessionHandler)
	r.Get("/services", h.ListServicesHandler)

	// Method-agnostic: the forwarder passes any verb through.
	r.Handle("/proxy/{service}/*", http.HandlerFunc(h.ProxyHandler))
	r.Handle("/proxy/{service}", http.HandlerFunc(h.ProxyHandler))

	r.Post("/git/fetch-bundle", h.FetchBundleHandler)
	r.Post("/git/push-bundle", h.PushBundleHandler)

	return r
}
