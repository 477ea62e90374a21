// Package api exposes the storefront HTTP surface: the conversational
// product-search endpoint, the public catalog, and the token-protected
// cart, wishlist, and ingestion routes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vapevault/vaultd/internal/chat"
	"github.com/vapevault/vaultd/internal/retrieval"
	"github.com/vapevault/vaultd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// userIDHeader carries the authenticated user id, set by the frontend
// gateway after it has verified the session. Auth itself is out of scope
// here; the bearer token authenticates the gateway.
const userIDHeader = "X-User-ID"

// Responder runs the product-search conversation flow.
type Responder interface {
	Respond(ctx context.Context, messages json.RawMessage) (*chat.Reply, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store        *storage.Store
	Orchestrator Responder
	Vectors      retrieval.VectorStore
	Token        string
	HTTPClient   *http.Client

	// Registry receives all metrics; tests pass a fresh one to stay
	// hermetic. Nil means a new private registry.
	Registry *prometheus.Registry

	// RateRPS / RateBurst are the per-IP token-bucket parameters for the
	// chat endpoint. Zero values fall back to defaults.
	RateRPS   float64
	RateBurst int
}

// NewHandler builds the top-level router.
func NewHandler(deps Deps) http.Handler {
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := newMetrics(reg)

	rl, _ := newRateLimiter(deps.RateRPS, deps.RateBurst)

	r := chi.NewRouter()
	r.Use(m.middleware)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.With(rl.middleware).Post("/api/chat", handleChat(deps, m))

	r.Get("/products", handleListProducts(deps))
	r.Get("/products/{id}", handleGetProduct(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/cart", handleGetCart(deps))
		r.Post("/cart/items", handleAddCartItem(deps))
		r.Patch("/cart/items/{id}", handleUpdateCartItem(deps))
		r.Delete("/cart/items/{id}", handleRemoveCartItem(deps))

		r.Get("/wishlist", handleGetWishlist(deps))
		r.Post("/wishlist/items", handleAddWishlistItem(deps))
		r.Delete("/wishlist/items/{id}", handleRemoveWishlistItem(deps))

		r.Post("/catalog/ingest", handleIngestProduct(deps))
		r.Delete("/catalog/products/{id}", handleDeleteProduct(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// userID extracts the gateway-supplied user id, writing a 400 when absent.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", userIDHeader)
		return "", false
	}
	return id, true
}
