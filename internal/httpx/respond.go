package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the shared error body. Shortages travel in
// details so the inventory client can rebuild them.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := apperr.Body{Error: err.Error(), Code: apperr.Code(err)}

	var ise *inventory.InsufficientStockError
	if errors.As(err, &ise) {
		body.Details, _ = json.Marshal(ise.Shortages)
	}
	if status >= 500 {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v and runs its validate tags.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid json: %v: %w", err, apperr.ErrInvalidArgument)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%v: %w", err, apperr.ErrInvalidArgument)
	}
	return nil
}
