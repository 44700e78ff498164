package orders

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Show)
	r.Post("/orders", h.Create)
	r.Post("/orders/{id}", h.Update)
	r.Post("/orders/{id}/confirm", h.Confirm)
	r.Post("/orders/{id}/cancel", h.Cancel)
	r.Post("/orders/{id}/complete", h.Complete)
	r.Post("/orders/{id}/progress", h.UpdateProgress)
}
