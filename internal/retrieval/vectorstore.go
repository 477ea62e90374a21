package retrieval

import "time"

// VectorStore is the interface for product embedding storage and similarity
// search. The default implementation uses SQLite with brute-force cosine
// similarity; the catalog is small enough that an ANN index would be noise.
type VectorStore interface {
	// Upsert writes embeddings, replacing any existing vector for the same
	// product id.
	Upsert(records []Record) error

	// Search returns the top-K products most similar to the query vector,
	// highest similarity first. topK must be positive.
	Search(vector []float32, topK int) ([]Match, error)

	// Delete removes the vector for a product id.
	Delete(id string) error

	// Count returns the number of stored vectors.
	Count() (int, error)
}

// Record is a product embedding row.
type Record struct {
	ProductID string
	Embedding []float32
	UpdatedAt time.Time
}

// Match is a similarity-search hit: a product id with its cosine score.
// Equal scores keep store scan order; there is no secondary sort key.
type Match struct {
	ProductID string
	Score     float32
}
