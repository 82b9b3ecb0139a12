package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/pulsebank/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса подбора доноров.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics(h.metrics))

	r.Route("/api", func(r chi.Router) {
		r.Route("/matching", func(r chi.Router) {
			r.Post("/find-donors", h.FindDonors)
			r.Post("/top-matches", h.TopMatches)
			r.Post("/calculate-match", h.CalculateMatch)
			r.Post("/match-score/{donorID}", h.MatchScore)
		})

		r.Get("/location/distance", h.Distance)
		r.Get("/compatibility/{bloodType}", h.Compatibility)

		r.Route("/donors", func(r chi.Router) {
			r.Post("/", h.RegisterDonor)
			r.Get("/{donorID}", h.GetDonor)
			r.Put("/{donorID}/active", h.SetDonorActive)
			r.Post("/{donorID}/donations", h.RecordDonation)
			r.Put("/{donorID}/location", h.UpdateDonorLocation)
		})

		r.Post("/chat", h.Chat)
	})

	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
