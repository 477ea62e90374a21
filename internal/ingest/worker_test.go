package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/vapevault/vaultd/internal/retrieval"
	"github.com/vapevault/vaultd/internal/storage"
)

type fakeJobStore struct {
	jobs      []*storage.Job
	products  map[string]storage.Product
	completed []string
	failed    map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		products: map[string]storage.Product{},
		failed:   map[string]string{},
	}
}

func (f *fakeJobStore) ClaimNextJob(jobType string) (*storage.Job, error) {
	for i, j := range f.jobs {
		if j != nil && j.Type == jobType {
			f.jobs[i] = nil
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeJobStore) CompleteJob(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) FailJob(id string, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobStore) GetProduct(_ context.Context, id string) (storage.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return storage.Product{}, storage.ErrNotFound
	}
	return p, nil
}

type fakeContentEmbedder struct {
	texts []string
	err   error
}

func (f *fakeContentEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2, 3}, nil
}

type fakeVectorUpserter struct {
	records []retrieval.Record
	err     error
}

func (f *fakeVectorUpserter) Upsert(records []retrieval.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

func TestRunOnceEmbedsProduct(t *testing.T) {
	store := newFakeJobStore()
	store.products["p1"] = storage.Product{ID: "p1", Name: "Cloud Chaser", Brand: "Vaporesso", Description: "Sub-ohm kit"}
	store.jobs = append(store.jobs, &storage.Job{
		ID:          "j1",
		Type:        JobTypeEmbedProduct,
		PayloadJSON: `{"product_id":"p1"}`,
	})
	embedder := &fakeContentEmbedder{}
	vectors := &fakeVectorUpserter{}
	w := NewWorker(store, embedder, vectors, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want job processed")
	}

	if len(vectors.records) != 1 || vectors.records[0].ProductID != "p1" {
		t.Fatalf("upserted %+v, want vector for p1", vectors.records)
	}
	if len(store.completed) != 1 || store.completed[0] != "j1" {
		t.Errorf("completed = %v, want [j1]", store.completed)
	}
	if len(embedder.texts) != 1 || embedder.texts[0] != "Cloud Chaser\nVaporesso\nSub-ohm kit" {
		t.Errorf("embedded text = %q", embedder.texts)
	}
}

func TestRunOnceNoJobs(t *testing.T) {
	w := NewWorker(newFakeJobStore(), &fakeContentEmbedder{}, &fakeVectorUpserter{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("done = true with empty queue")
	}
}

func TestRunOnceFailsJobOnEmbedError(t *testing.T) {
	store := newFakeJobStore()
	store.products["p1"] = storage.Product{ID: "p1", Name: "N"}
	store.jobs = append(store.jobs, &storage.Job{
		ID:          "j1",
		Type:        JobTypeEmbedProduct,
		PayloadJSON: `{"product_id":"p1"}`,
	})
	embedder := &fakeContentEmbedder{err: fmt.Errorf("embeddings down")}
	w := NewWorker(store, embedder, &fakeVectorUpserter{}, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want job attempted")
	}
	if _, ok := store.failed["j1"]; !ok {
		t.Errorf("job not marked failed: %v", store.failed)
	}
	if len(store.completed) != 0 {
		t.Errorf("completed = %v, want none", store.completed)
	}
}

func TestRunOnceFailsJobOnBadPayload(t *testing.T) {
	for _, payload := range []string{`not json`, `{}`} {
		store := newFakeJobStore()
		store.jobs = append(store.jobs, &storage.Job{
			ID:          "j1",
			Type:        JobTypeEmbedProduct,
			PayloadJSON: payload,
		})
		w := NewWorker(store, &fakeContentEmbedder{}, &fakeVectorUpserter{}, 0)

		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce(%q): %v", payload, err)
		}
		if _, ok := store.failed["j1"]; !ok {
			t.Errorf("payload %q: job not marked failed", payload)
		}
	}
}

func TestRunOnceFailsJobOnMissingProduct(t *testing.T) {
	store := newFakeJobStore()
	store.jobs = append(store.jobs, &storage.Job{
		ID:          "j1",
		Type:        JobTypeEmbedProduct,
		PayloadJSON: `{"product_id":"ghost"}`,
	})
	w := NewWorker(store, &fakeContentEmbedder{}, &fakeVectorUpserter{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := store.failed["j1"]; !ok {
		t.Error("job for deleted product not marked failed")
	}
}

func TestEmbeddingText(t *testing.T) {
	p := storage.Product{Name: "Nord 5", Brand: " SMOK ", Description: ""}
	if got := EmbeddingText(p); got != "Nord 5\nSMOK" {
		t.Errorf("EmbeddingText = %q, want name and brand only", got)
	}
	if got := EmbeddingText(storage.Product{}); got != "" {
		t.Errorf("EmbeddingText of empty product = %q, want empty", got)
	}
}
