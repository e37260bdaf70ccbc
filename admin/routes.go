package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the publication admin API under /admin
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()

	// Liveness is unauthenticated
	r.Get("/health", handlers.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Get("/stats", handlers.handleStats)

		r.Route("/publications", func(r chi.Router) {
			r.Get("/", handlers.handleListPublications)
			r.Get("/{correlationID}", handlers.wrapWithID(handlers.handlePublication))
			r.Post("/{correlationID}/status", handlers.wrapWithID(handlers.handleStatusMessage))
			r.Post("/{correlationID}/receiver-gone", handlers.wrapWithID(handlers.handleReceiverGone))
		})
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/publications/*")
}

// wrapWithID extracts the correlation id URL param and calls fn
func (h *AdminHandlers) wrapWithID(fn func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID, err := parseCorrelationID(chi.URLParam(r, "correlationID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		fn(w, r, correlationID)
	}
}
