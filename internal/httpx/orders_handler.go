package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Svc *orders.Service
	Log *zap.Logger
}

type CreateOrderReq struct {
	UserID string             `json:"user_id" validate:"required"`
	Items  []orders.LineInput `json:"items" validate:"required,min=1,dive"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/ship", h.transition(h.Svc.Ship))
	r.Post("/orders/{id}/deliver", h.transition(h.Svc.Deliver))
	r.Post("/orders/{id}/complete", h.transition(h.Svc.Complete))
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Svc.CreateOrder(r.Context(), req.UserID, req.Items)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.Svc.Status(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": string(s)})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}
	o, err := h.Svc.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) transition(step func(ctx context.Context, id string) (*orders.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := step(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}
