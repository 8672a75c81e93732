package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

type OrdersHandler struct {
	Orders *orders.Service
	Carts  *orders.CartService
	Cache  orders.Cache // idempotency shortcut, optional
	Auth   *Auth
}

type CreateOrderReq struct {
	Items []orders.ItemInput `json:"items"`
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status"`
}

type SetCartItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Require)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/history", h.history)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Post("/checkout", h.checkout)

		r.Get("/cart", h.getCart)
		r.Put("/cart/items", h.setCartItem)
		r.Delete("/cart/items/{productID}", h.removeCartItem)
		r.Delete("/cart", h.clearCart)
	})
}

// createOrder honours an Idempotency-Key header: a repeated key returns the
// order created the first time. The store stays the source of truth.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := actorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" && h.Cache != nil {
		idemKey = fmt.Sprintf(redisx.KeyIdemOrderCreate, actor.UserID, k)
		if orderID, ok, err := h.Cache.Get(ctx, idemKey); err == nil && ok {
			if view, err := h.Orders.GetOrderByID(ctx, orderID, actor.UserID); err == nil {
				writeJSON(w, http.StatusOK, view)
				return
			}
		}
	}

	o, err := h.Orders.CreateOrder(ctx, actor.UserID, req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if idemKey != "" {
		if err := h.Cache.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency); err != nil {
			logging.Warn(logging.Fields{OrderID: o.ID, Step: "idempotency"}, err)
		}
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o, err := h.Orders.Checkout(ctx, actorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	list, err := h.Orders.ListOrders(ctx, actorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	view, err := h.Orders.GetOrderByID(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	hist, err := h.Orders.OrderHistory(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o, err := h.Orders.CancelOrder(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o, err := h.Orders.UpdateOrderStatus(ctx, chi.URLParam(r, "id"), actorFrom(r.Context()), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.Carts.Get(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *OrdersHandler) setCartItem(w http.ResponseWriter, r *http.Request) {
	var req SetCartItemReq
	if !decodeJSON(w, r, &req) {
		return
	}
	cart, err := h.Carts.SetItem(r.Context(), actorFrom(r.Context()).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *OrdersHandler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.Carts.RemoveItem(r.Context(), actorFrom(r.Context()).UserID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *OrdersHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), actorFrom(r.Context()).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
