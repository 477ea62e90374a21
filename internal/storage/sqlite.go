package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for products, carts, wishlists,
// and the background job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vaultd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying connection for components that share the database,
// such as the vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Products ---

const productColumns = "id, name, brand, price, description, image_url, stock_quantity, created_at"

func (s *Store) SaveProduct(p Product) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			brand = excluded.brand,
			price = excluded.price,
			description = excluded.description,
			image_url = excluded.image_url,
			stock_quantity = excluded.stock_quantity`,
		p.ID, p.Name, p.Brand, p.Price, p.Description, p.ImageURL, p.StockQuantity,
		createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, limit, offset int) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

// GetProductsByIDs fetches product rows for the given ids in one batch query.
// Result order is whatever SQLite returns; callers that care must re-sort.
// Unknown ids are simply absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products by ids: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (s *Store) DeleteProduct(id string) error {
	res, err := s.db.Exec("DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scannable) (Product, error) {
	var p Product
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Brand, &p.Price, &p.Description, &p.ImageURL, &p.StockQuantity, &createdAt); err != nil {
		return Product{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Product{}, fmt.Errorf("parsing created_at for product %s: %w", p.ID, err)
	}
	p.CreatedAt = t
	return p, nil
}

func collectProducts(rows *sql.Rows) ([]Product, error) {
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// --- Carts ---

// AddCartItem adds quantity of a product to the user's cart, creating the
// cart on first use. The whole read-modify-write runs in one transaction so
// concurrent adds cannot race each other into duplicate rows.
func (s *Store) AddCartItem(ctx context.Context, userID, productID string, quantity int) (CartLine, error) {
	if quantity < 1 {
		return CartLine{}, fmt.Errorf("quantity must be at least 1")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CartLine{}, fmt.Errorf("beginning cart transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM products WHERE id = ?", productID).Scan(&exists); err != nil {
		return CartLine{}, err
	}
	if exists == 0 {
		return CartLine{}, ErrNotFound
	}

	cartID, err := getOrCreateOwned(tx, "carts", userID)
	if err != nil {
		return CartLine{}, err
	}

	itemID := uuid.New().String()
	if _, err := tx.Exec(`
		INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cart_id, product_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
		itemID, cartID, productID, quantity,
	); err != nil {
		return CartLine{}, fmt.Errorf("upserting cart item: %w", err)
	}

	var line CartLine
	err = tx.QueryRow(`
		SELECT ci.id, ci.quantity FROM cart_items ci
		WHERE ci.cart_id = ? AND ci.product_id = ?`, cartID, productID,
	).Scan(&line.ItemID, &line.Quantity)
	if err != nil {
		return CartLine{}, err
	}

	if err := tx.Commit(); err != nil {
		return CartLine{}, fmt.Errorf("committing cart transaction: %w", err)
	}

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return CartLine{}, err
	}
	line.Product = p
	return line, nil
}

func (s *Store) GetCartLines(ctx context.Context, userID string) ([]CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.id, ci.quantity, p.id, p.name, p.brand, p.price, p.description, p.image_url, p.stock_quantity, p.created_at
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		JOIN products p ON p.id = ci.product_id
		WHERE c.user_id = ?
		ORDER BY p.name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []CartLine
	for rows.Next() {
		var l CartLine
		var createdAt string
		if err := rows.Scan(&l.ItemID, &l.Quantity,
			&l.Product.ID, &l.Product.Name, &l.Product.Brand, &l.Product.Price,
			&l.Product.Description, &l.Product.ImageURL, &l.Product.StockQuantity, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		l.Product.CreatedAt = t
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdateCartItemQuantity sets the quantity of a cart item owned by the user.
func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_items SET quantity = ?
		WHERE id = ? AND cart_id IN (SELECT id FROM carts WHERE user_id = ?)`,
		quantity, itemID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RemoveCartItem(ctx context.Context, userID, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE id = ? AND cart_id IN (SELECT id FROM carts WHERE user_id = ?)`,
		itemID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Wishlists ---

// AddWishlistItem adds a product to the user's wishlist, creating the
// wishlist on first use. Adding a product that is already present is a no-op
// and returns the existing line.
func (s *Store) AddWishlistItem(ctx context.Context, userID, productID string) (WishlistLine, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WishlistLine{}, fmt.Errorf("beginning wishlist transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM products WHERE id = ?", productID).Scan(&exists); err != nil {
		return WishlistLine{}, err
	}
	if exists == 0 {
		return WishlistLine{}, ErrNotFound
	}

	wishlistID, err := getOrCreateOwned(tx, "wishlists", userID)
	if err != nil {
		return WishlistLine{}, err
	}

	itemID := uuid.New().String()
	if _, err := tx.Exec(`
		INSERT INTO wishlist_items (id, wishlist_id, product_id)
		VALUES (?, ?, ?)
		ON CONFLICT(wishlist_id, product_id) DO NOTHING`,
		itemID, wishlistID, productID,
	); err != nil {
		return WishlistLine{}, fmt.Errorf("inserting wishlist item: %w", err)
	}

	var line WishlistLine
	if err := tx.QueryRow(`
		SELECT id FROM wishlist_items WHERE wishlist_id = ? AND product_id = ?`,
		wishlistID, productID,
	).Scan(&line.ItemID); err != nil {
		return WishlistLine{}, err
	}

	if err := tx.Commit(); err != nil {
		return WishlistLine{}, fmt.Errorf("committing wishlist transaction: %w", err)
	}

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return WishlistLine{}, err
	}
	line.Product = p
	return line, nil
}

func (s *Store) GetWishlistLines(ctx context.Context, userID string) ([]WishlistLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wi.id, p.id, p.name, p.brand, p.price, p.description, p.image_url, p.stock_quantity, p.created_at
		FROM wishlist_items wi
		JOIN wishlists w ON w.id = wi.wishlist_id
		JOIN products p ON p.id = wi.product_id
		WHERE w.user_id = ?
		ORDER BY p.name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []WishlistLine
	for rows.Next() {
		var l WishlistLine
		var createdAt string
		if err := rows.Scan(&l.ItemID,
			&l.Product.ID, &l.Product.Name, &l.Product.Brand, &l.Product.Price,
			&l.Product.Description, &l.Product.ImageURL, &l.Product.StockQuantity, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		l.Product.CreatedAt = t
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) RemoveWishlistItem(ctx context.Context, userID, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM wishlist_items
		WHERE id = ? AND wishlist_id IN (SELECT id FROM wishlists WHERE user_id = ?)`,
		itemID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// getOrCreateOwned returns the id of the user's row in carts or wishlists,
// inserting one when absent. Must run inside the caller's transaction.
func getOrCreateOwned(tx *sql.Tx, table, userID string) (string, error) {
	var id string
	err := tx.QueryRow(`SELECT id FROM `+table+` WHERE user_id = ?`, userID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = uuid.New().String()
	if _, err := tx.Exec(
		`INSERT INTO `+table+` (id, user_id, created_at) VALUES (?, ?, ?)`,
		id, userID, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return "", fmt.Errorf("creating %s row: %w", table, err)
	}
	return id, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable job of the given type,
// marking it running. Returns nil when no job is due.
func (s *Store) ClaimNextJob(jobType string) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type = ?
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, now, jobType,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	j.UpdatedAt = time.Now().UTC()
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailJob records a failure, rescheduling with exponential backoff until the
// attempt budget is exhausted.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
