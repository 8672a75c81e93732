package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
)

type PaymentsHandler struct {
	Orders        *orders.Service
	Auth          *Auth
	WebhookSecret string
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.With(h.Auth.Require).Post("/payments", h.initiate)
	r.Post("/payments/webhook", h.webhook)
}

func (h *PaymentsHandler) initiate(w http.ResponseWriter, r *http.Request) {
	var req orders.PaymentInput
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	o, err := h.Orders.ProcessPayment(ctx, actorFrom(r.Context()).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, o)
}

// webhook verifies the HMAC over the raw body before decoding it.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body", Code: "INVALID_INPUT"})
		return
	}
	if !payment.VerifySignature(h.WebhookSecret, body, r.Header.Get(payment.SignatureHeader)) {
		logging.Warn(logging.Fields{Step: "payment.webhook", Message: "signature mismatch from " + r.RemoteAddr}, nil)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature", Code: "INVALID_SIGNATURE"})
		return
	}
	var cb orders.PaymentCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Orders.HandlePaymentWebhook(ctx, cb); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
