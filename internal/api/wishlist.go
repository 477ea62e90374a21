package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vapevault/vaultd/internal/storage"
)

type addWishlistItemRequest struct {
	ProductID string `json:"product_id"`
}

func handleGetWishlist(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		lines, err := deps.Store.GetWishlistLines(r.Context(), uid)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load wishlist: %v", err)
			return
		}
		if lines == nil {
			lines = []storage.WishlistLine{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": lines})
	}
}

func handleAddWishlistItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req addWishlistItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProductID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "product_id is required")
			return
		}

		line, err := deps.Store.AddWishlistItem(r.Context(), uid, req.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "product %s not found", req.ProductID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add to wishlist: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, line)
	}
}

func handleRemoveWishlistItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		itemID := chi.URLParam(r, "id")

		err := deps.Store.RemoveWishlistItem(r.Context(), uid, itemID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "wishlist item %s not found", itemID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove wishlist item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}
