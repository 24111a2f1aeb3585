package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/kayicom/marketplace/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/coupons/validate", h.ValidateCoupon)
		r.Post("/payments/plisio-callback", h.PlisioCallback)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)

			r.Post("/payments/manual-proof", h.SubmitPaymentProof)

			r.Get("/wallet", h.GetWallet)
			r.Post("/credits/convert", h.ConvertCredits)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.AdminOnly(h.adminToken))

			r.Put("/orders/{id}/status", h.UpdateOrderStatus)
			r.Put("/orders/{id}/delivery", h.DeliverOrder)
			r.Post("/orders/{id}/refund", h.RefundOrder)

			r.Post("/wallet/adjust", h.AdjustWallet)
			r.Post("/credits/adjust", h.AdjustCredits)

			r.Post("/subscriptions/sweep", h.SweepSubscriptions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
