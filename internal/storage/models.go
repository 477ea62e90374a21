package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Product is a catalog row. The orchestrator only ever reads these; writes
// happen through the ingestion path.
type Product struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Brand         string  `json:"brand"`
	Price         float64 `json:"price"`
	Description   string  `json:"description"`
	ImageURL      string  `json:"image_url"`
	StockQuantity int     `json:"stock_quantity"`
	CreatedAt     time.Time `json:"created_at"`
}

// CartLine is a cart item joined with its product.
type CartLine struct {
	ItemID   string  `json:"item_id"`
	Quantity int     `json:"quantity"`
	Product  Product `json:"product"`
}

// WishlistLine is a wishlist item joined with its product.
type WishlistLine struct {
	ItemID  string  `json:"item_id"`
	Product Product `json:"product"`
}

// Job is a queued background task. The embedding worker claims jobs of type
// "embed_product" whose payload names a product id.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
