// Package ingest populates the product similarity index. Catalog writes
// enqueue an embed_product job; the worker embeds the product text and
// upserts the vector, so the HTTP path never blocks on the embedding service.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vapevault/vaultd/internal/retrieval"
	"github.com/vapevault/vaultd/internal/storage"
)

// JobTypeEmbedProduct is the queue type for product embedding jobs.
const JobTypeEmbedProduct = "embed_product"

// EmbedPayload is the payload_json shape for embed_product jobs.
type EmbedPayload struct {
	ProductID string `json:"product_id"`
}

// JobStore abstracts the job queue and product lookups.
type JobStore interface {
	ClaimNextJob(jobType string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetProduct(ctx context.Context, id string) (storage.Product, error)
}

// ContentEmbedder generates embeddings for text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorUpserter writes records into the vector store.
type VectorUpserter interface {
	Upsert(records []retrieval.Record) error
}

// Worker processes embed_product jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder ContentEmbedder
	vectors  VectorUpserter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, vectors VectorUpserter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_product job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(JobTypeEmbedProduct)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		w.logger.Error("failed to mark job as completed", "job_id", job.ID, "error", err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload EmbedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing job payload: %w", err)
	}
	if payload.ProductID == "" {
		return fmt.Errorf("job payload has no product_id")
	}

	product, err := w.store.GetProduct(ctx, payload.ProductID)
	if err != nil {
		return fmt.Errorf("loading product %s: %w", payload.ProductID, err)
	}

	vec, err := w.embedder.Embed(ctx, EmbeddingText(product))
	if err != nil {
		return fmt.Errorf("embedding product %s: %w", product.ID, err)
	}

	if err := w.vectors.Upsert([]retrieval.Record{{
		ProductID: product.ID,
		Embedding: vec,
		UpdatedAt: time.Now().UTC(),
	}}); err != nil {
		return fmt.Errorf("storing vector for product %s: %w", product.ID, err)
	}

	w.logger.Debug("product embedded", "product_id", product.ID)
	return nil
}

// EmbeddingText builds the text that represents a product in the similarity
// index: name, brand, and description, skipping blanks.
func EmbeddingText(p storage.Product) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Name, p.Brand, p.Description} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, "\n")
}
