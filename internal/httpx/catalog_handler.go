package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/reviews"
)

type CatalogHandler struct {
	Catalog *orders.CatalogService
	Reviews *reviews.Service
	Auth    *Auth
}

type ProductReq struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Featured bool            `json:"featured"`
}

type ReviewReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products/featured", h.featured)
	r.Get("/products/{id}", h.product)
	r.Get("/products/{id}/reviews", h.listReviews)

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Require)
		r.Put("/products/{id}", h.updateProduct)
		r.Post("/reviews", h.createReview)
		r.Put("/reviews/{id}", h.updateReview)
		r.Delete("/reviews/{id}", h.deleteReview)
	})
}

func (h *CatalogHandler) featured(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Catalog.Featured(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *CatalogHandler) product(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductReq
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Catalog.UpdateProduct(r.Context(), actorFrom(r.Context()), orders.Product{
		ID: chi.URLParam(r, "id"), Name: req.Name, Price: req.Price, Stock: req.Stock, Featured: req.Featured,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) listReviews(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reviews.ListByProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Review{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *CatalogHandler) createReview(w http.ResponseWriter, r *http.Request) {
	var req reviews.Input
	if !decodeJSON(w, r, &req) {
		return
	}
	rv, err := h.Reviews.Create(r.Context(), actorFrom(r.Context()).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *CatalogHandler) updateReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewReq
	if !decodeJSON(w, r, &req) {
		return
	}
	rv, err := h.Reviews.Update(r.Context(), actorFrom(r.Context()).UserID, chi.URLParam(r, "id"), req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *CatalogHandler) deleteReview(w http.ResponseWriter, r *http.Request) {
	if err := h.Reviews.Delete(r.Context(), actorFrom(r.Context()).UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
