package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps workflow error kinds to stable codes. Anything unknown is
// logged and rendered as an opaque internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ise *orders.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "INSUFFICIENT_STOCK", Details: map[string]any{
			"product_id": ise.ProductID, "requested": ise.Requested, "available": ise.Available,
		}})
	case errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "PRODUCT_NOT_FOUND"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "NOT_FOUND"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "INVALID_TRANSITION"})
	case errors.Is(err, orders.ErrInvalidOrder):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "INVALID_ORDER"})
	case errors.Is(err, orders.ErrPaymentInitiationFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Code: "PAYMENT_INITIATION_FAILED"})
	case errors.Is(err, orders.ErrOrderCreationFailed):
		writeJSON(w, http.StatusConflict, errorBody{Error: "order could not be created, please retry", Code: "ORDER_CREATION_FAILED"})
	case errors.Is(err, orders.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_INPUT"})
	case errors.Is(err, orders.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "EMPTY_CART"})
	case errors.Is(err, orders.ErrAlreadyReviewed):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "ALREADY_REVIEWED"})
	default:
		logging.Error(logging.Fields{Step: "http", Message: r.Method + " " + r.URL.Path}, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return false
	}
	return true
}
