package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all public endpoints.
func NewRouter(h *Handler, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.handleSession)
		r.Post("/session/retry", h.handleRetry)

		r.Post("/auth/signin", h.handleSignIn)
		r.Post("/auth/signup", h.handleSignUp)
		r.Post("/auth/signout", h.handleSignOut)
		r.Post("/auth/reset-password", h.handleResetPassword)

		r.Patch("/profile", h.handleUpdateProfile)
		r.Put("/profile/language", h.handleSetLanguage)
		r.Put("/ui/login-prompt", h.handleLoginPrompt)
	})

	return r
}
