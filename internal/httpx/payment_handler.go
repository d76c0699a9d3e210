package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	Svc *payment.Service
	Log *zap.Logger
}

func (h *PaymentHandler) Register(r chi.Router) {
	r.Post("/payments/{orderId}/pay", h.pay)
	r.Get("/payments/{orderId}", h.get)
}

// pay answers 200 for both outcomes; a declined charge shows up as
// status FAILED in the body and can be retried.
func (h *PaymentHandler) pay(w http.ResponseWriter, r *http.Request) {
	p, err := h.Svc.Pay(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Svc.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
