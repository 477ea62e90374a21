package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vapevault/vaultd/internal/ingest"
	"github.com/vapevault/vaultd/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20    // 5MB

// IngestProductRequest creates or updates a catalog product. The description
// may come inline, from a base64 PDF spec sheet, or from an HTML product page.
type IngestProductRequest struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Brand         string  `json:"brand"`
	Price         float64 `json:"price"`
	ImageURL      string  `json:"image_url"`
	StockQuantity int     `json:"stock_quantity"`
	Description   string  `json:"description"`
	SpecSheet     string  `json:"spec_sheet"` // base64-encoded PDF
	SourceURL     string  `json:"source_url"` // HTML page to fetch
}

func handleListProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		products, err := deps.Store.ListProducts(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list products: %v", err)
			return
		}
		if products == nil {
			products = []storage.Product{}
		}
		writeJSON(w, http.StatusOK, products)
	}
}

func handleGetProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		product, err := deps.Store.GetProduct(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "product %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get product: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	}
}

func handleIngestProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestProductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Description == "" && req.SpecSheet == "" && req.SourceURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of description, spec_sheet, or source_url is required")
			return
		}

		description := req.Description
		switch {
		case description != "":
			// Inline description wins.
		case req.SpecSheet != "":
			data, err := base64.StdEncoding.DecodeString(req.SpecSheet)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 spec sheet")
				return
			}
			text, err := ingest.ExtractPDFText(data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "could not read spec sheet: %v", err)
				return
			}
			description = text
		case req.SourceURL != "":
			text, err := fetchPageText(r.Context(), deps.HTTPClient, req.SourceURL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch source url: %v", err)
				return
			}
			description = text
		}

		id := req.ID
		if id == "" {
			id = uuid.New().String()
		}

		product := storage.Product{
			ID:            id,
			Name:          req.Name,
			Brand:         req.Brand,
			Price:         req.Price,
			Description:   description,
			ImageURL:      req.ImageURL,
			StockQuantity: req.StockQuantity,
			CreatedAt:     time.Now().UTC(),
		}
		if err := deps.Store.SaveProduct(product); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save product: %v", err)
			return
		}

		payload, err := json.Marshal(ingest.EmbedPayload{ProductID: id})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeEmbedProduct,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue embedding job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     id,
			"status": "queued",
		})
	}
}

func handleDeleteProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.DeleteProduct(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "product %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete product: %v", err)
			return
		}

		if deps.Vectors != nil {
			if err := deps.Vectors.Delete(id); err != nil {
				// Products ingested but not yet embedded have no vector.
				slog.Debug("no vector removed for deleted product", "product_id", id, "error", err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// fetchPageText downloads an HTML page and strips it to visible text.
func fetchPageText(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New("url returned status " + strconv.Itoa(resp.StatusCode))
	}

	return ingest.ExtractHTMLText(io.LimitReader(resp.Body, maxURLFetchSize))
}

// parseIntParam reads a non-negative integer query parameter, falling back to
// def on absence or garbage. max of 0 means unbounded.
func parseIntParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
