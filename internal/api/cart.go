package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vapevault/vaultd/internal/storage"
)

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func handleGetCart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		lines, err := deps.Store.GetCartLines(r.Context(), uid)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load cart: %v", err)
			return
		}
		if lines == nil {
			lines = []storage.CartLine{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": lines})
	}
}

func handleAddCartItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req addCartItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProductID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "product_id is required")
			return
		}
		if req.Quantity == 0 {
			req.Quantity = 1
		}
		if req.Quantity < 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quantity must be at least 1")
			return
		}

		line, err := deps.Store.AddCartItem(r.Context(), uid, req.ProductID, req.Quantity)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "product %s not found", req.ProductID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add to cart: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, line)
	}
}

func handleUpdateCartItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		itemID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req updateCartItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Quantity < 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quantity must be at least 1")
			return
		}

		err := deps.Store.UpdateCartItemQuantity(r.Context(), uid, itemID, req.Quantity)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "cart item %s not found", itemID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update cart item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleRemoveCartItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		itemID := chi.URLParam(r, "id")

		err := deps.Store.RemoveCartItem(r.Context(), uid, itemID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "cart item %s not found", itemID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove cart item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}
