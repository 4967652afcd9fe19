// Package sqlite provides SQLite implementation for record storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale deployments. Vectors are stored as JSON strings in TEXT fields,
// and similarity search uses in-process cosine distance calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing records.
	collectionName string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a SQLite Store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors. Zero
	// disables the dimension check on insert.
	EmbeddingModelDims int

	// BusyTimeoutMillis is how long a writer waits on a locked database.
	// Default: 5000
	BusyTimeoutMillis int
}

// NewClient creates a new SQLite Store client.
//
// Parameters:
//   - cfg: Configuration containing database path, table name, and embedding dimensions
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}
	if !validIdentifier(cfg.CollectionName) {
		return nil, fmt.Errorf("NewSQLiteClient: invalid collection name %q", cfg.CollectionName)
	}
	busyTimeout := cfg.BusyTimeoutMillis
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d", cfg.DBPath, busyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{
		db:             db,
		collectionName: cfg.CollectionName,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
//
// Timestamps are stored as unix nanoseconds so range predicates compare
// numerically.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			attributes TEXT,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_tier ON %s(owner_id, tier)`,
			c.collectionName, c.collectionName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tier_created ON %s(tier, created_at)`,
			c.collectionName, c.collectionName),
	}
	for _, q := range indexes {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// Insert inserts a record into the SQLite database.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	if err := storage.CheckDimensions(record.Embedding, c.dimensions); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	var embedding sql.NullString
	if record.Embedding != nil {
		data, err := json.Marshal(record.Embedding)
		if err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
		embedding = sql.NullString{String: string(data), Valid: true}
	}

	attributes, err := encodeAttributes(record.Attributes)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner_id, tier, content, embedding, attributes, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.OwnerID,
		string(record.Tier),
		record.Content,
		embedding,
		attributes,
		record.CreatedAt.UnixNano(),
		record.AccessedAt.UnixNano(),
		record.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// SimilaritySearch performs vector similarity search using cosine distance.
//
// SQLite does not have native vector operations, so distance is calculated
// in process after loading all matching records.
func (c *Client) SimilaritySearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) (*storage.SearchResult, error) {
	if len(opts.Tiers) == 0 || opts.Limit <= 0 {
		return &storage.SearchResult{Records: []*storage.Record{}, Degraded: len(embedding) == 0}, nil
	}

	whereClause, args := buildSearchWhere(opts)

	if len(embedding) == 0 {
		query := fmt.Sprintf(`
			SELECT %s FROM %s
			%s
			ORDER BY accessed_at DESC, id ASC
			LIMIT ?
		`, selectColumns, c.collectionName, whereClause)
		args = append(args, opts.Limit)

		records, err := c.queryRecords(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("SimilaritySearch: %w", err)
		}
		return &storage.SearchResult{Records: records, Degraded: true}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s AND embedding IS NOT NULL
	`, selectColumns, c.collectionName, whereClause)

	records, err := c.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SimilaritySearch: %w", err)
	}

	for _, r := range records {
		r.Distance = cosineDistance(embedding, r.Embedding)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Distance != records[j].Distance {
			return records[i].Distance < records[j].Distance
		}
		return records[i].ID < records[j].ID
	})
	if len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	return &storage.SearchResult{Records: records}, nil
}

// DeleteEphemeralOlderThan removes expired ephemeral records.
func (c *Client) DeleteEphemeralOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE tier = '%s' AND created_at < ?`,
		c.collectionName, storage.TierEphemeral)

	result, err := c.db.ExecContext(ctx, query, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("DeleteEphemeralOlderThan: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteEphemeralOlderThan: %w", err)
	}
	return n, nil
}

// Touch records an access on each ID.
func (c *Client) Touch(ctx context.Context, ids []int64, at time.Time) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`
		UPDATE %s
		SET accessed_at = ?, access_count = access_count + 1
		WHERE id IN (%s)
		RETURNING id, access_count
	`, c.collectionName, placeholders)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, at.UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	counts, err := storage.ScanAccessCounts(rows)
	if err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	return counts, nil
}

// Get retrieves a record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns, c.collectionName)

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return record, nil
}

// Count returns the number of records matching opts.
func (c *Client) Count(ctx context.Context, opts *storage.CountOptions) (int64, error) {
	if opts == nil {
		opts = &storage.CountOptions{}
	}
	whereClause, args := buildCountWhere(opts)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, c.collectionName, whereClause)

	var n int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const selectColumns = `id, owner_id, tier, content, embedding, attributes, created_at, accessed_at, access_count`

func (c *Client) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*storage.Record, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := []*storage.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record from a database row or rows.
func scanRecord(scanner rowScanner) (*storage.Record, error) {
	var (
		record     storage.Record
		tier       string
		embedding  sql.NullString
		attributes sql.NullString
		createdAt  int64
		accessedAt int64
	)

	err := scanner.Scan(
		&record.ID,
		&record.OwnerID,
		&tier,
		&record.Content,
		&embedding,
		&attributes,
		&createdAt,
		&accessedAt,
		&record.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	record.Tier = storage.Tier(tier)
	record.CreatedAt = time.Unix(0, createdAt).UTC()
	record.AccessedAt = time.Unix(0, accessedAt).UTC()

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &record.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}

	record.Attributes, err = decodeAttributes(attributes)
	if err != nil {
		return nil, err
	}

	return &record, nil
}
