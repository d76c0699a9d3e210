package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-order-saga/internal/inventory"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	Svc *inventory.Service
	Log *zap.Logger
}

type stockReq struct {
	Qty int `json:"qty" validate:"required,gt=0"`
}

type batchReq struct {
	OrderID string           `json:"order_id" validate:"required"`
	Items   []inventory.Item `json:"items" validate:"required,min=1,dive"`
}

type releaseReq struct {
	OrderID string `json:"order_id" validate:"required"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/products/{id}", h.getProduct)
	r.Get("/inventory/{productId}", h.getStock)
	r.Post("/inventory/{productId}/stock", h.addStock)
	r.Post("/inventory/reduce", h.reduce)
	r.Post("/inventory/restore", h.restore)
	r.Post("/inventory/release", h.release)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Svc.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *InventoryHandler) getStock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Svc.Get(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) addStock(w http.ResponseWriter, r *http.Request) {
	var req stockReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	rec, err := h.Svc.AddStock(r.Context(), chi.URLParam(r, "productId"), req.Qty)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) reduce(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Svc.ReduceBatch(r.Context(), req.OrderID, req.Items); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// restore always answers 200 with the per-row result; failed rows are in
// the body, not the status.
func (h *InventoryHandler) restore(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	res, err := h.Svc.RestoreBatch(r.Context(), req.OrderID, req.Items)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	var req releaseReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	res, err := h.Svc.ReleaseOrder(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
