package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/brewclub/internal/httpx"
	custommiddleware "github.com/mmeshcher/brewclub/internal/middleware"
	"github.com/mmeshcher/brewclub/internal/model"
	"github.com/mmeshcher/brewclub/internal/push"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса brewclub.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/orders/{id}", h.GetOrder)

		if h.push != nil {
			r.Handle("/ws", push.Handler(h.push, h.logger))
		}

		r.Route("/user", func(r chi.Router) {
			r.Use(custommiddleware.RequireKind(model.ActorUser))

			r.Post("/orders/checkout", h.Checkout)
			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.GetUserOrders)
			r.Post("/orders/{id}/cancel", h.CancelOrder)
			r.Post("/orders/{id}/rating", h.RateOrder)

			r.Get("/balance", h.GetBalance)
			r.Get("/balance/activities", h.GetActivities)
		})

		r.Route("/partner", func(r chi.Router) {
			r.Use(custommiddleware.RequireKind(model.ActorPartner))

			r.Get("/orders", h.GetPartnerOrders)
			r.Patch("/orders/{id}/status", h.UpdateStatus)

			r.Get("/reports/today", h.TodayReport)
			r.Get("/reports", h.RangeReport)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireKind(model.ActorAdmin))

			r.Post("/users/{id}/topup", h.TopUp)
			r.Patch("/orders/{id}/status", h.UpdateStatus)
			r.Post("/tokens", h.IssueToken)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, fmt.Errorf("%w: route %s", model.ErrNotFound, r.URL.Path))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, fmt.Errorf("%w: %s %s", model.ErrMethodNotAllowed, r.Method, r.URL.Path))
	})

	return r
}
