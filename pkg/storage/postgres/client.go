// Package postgres provides a PostgreSQL + pgvector implementation of
// storage.Store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oceanbase/recallmem-go/pkg/storage"
	"github.com/pgvector/pgvector-go"
)

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string

	// HNSW builds an hnsw index on the embedding column when M > 0.
	HNSWM              int
	HNSWEfConstruction int
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewPostgresClient: embedding dimensions must be positive")
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}
	if !validIdentifier(cfg.CollectionName) {
		return nil, fmt.Errorf("NewPostgresClient: invalid collection name %q", cfg.CollectionName)
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:             db,
		collectionName: cfg.CollectionName,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background(), cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables enables pgvector and creates the table and its indexes.
func (c *Client) initTables(ctx context.Context, cfg *Config) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			tier VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			attributes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0
		)
	`, c.collectionName, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_tier ON %s(owner_id, tier)`,
			c.collectionName, c.collectionName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tier_created ON %s(tier, created_at)`,
			c.collectionName, c.collectionName),
	}
	if cfg.HNSWM > 0 {
		ef := cfg.HNSWEfConstruction
		if ef <= 0 {
			ef = 64
		}
		indexes = append(indexes, fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING hnsw (embedding vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)
		`, c.collectionName, c.collectionName, cfg.HNSWM, ef))
	}
	for _, q := range indexes {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initTables: create index: %w", err)
		}
	}

	return nil
}

// Insert inserts a record.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	if err := storage.CheckDimensions(record.Embedding, c.dimensions); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	attributes, err := encodeAttributes(record.Attributes)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner_id, tier, content, embedding, attributes, created_at, accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.OwnerID,
		string(record.Tier),
		record.Content,
		toVector(record.Embedding),
		string(attributes),
		record.CreatedAt.UTC(),
		record.AccessedAt.UTC(),
		record.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// SimilaritySearch runs a cosine-distance query using pgvector's <=> operator.
func (c *Client) SimilaritySearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) (*storage.SearchResult, error) {
	degraded := len(embedding) == 0
	if len(opts.Tiers) == 0 || opts.Limit <= 0 {
		return &storage.SearchResult{Records: []*storage.Record{}, Degraded: degraded}, nil
	}

	whereClause, args := buildSearchWhere(opts, 1)
	next := len(args) + 1

	var query string
	if degraded {
		query = fmt.Sprintf(`
			SELECT %s, 0 AS distance FROM %s
			%s
			ORDER BY accessed_at DESC, id ASC
			LIMIT $%d
		`, selectColumns, c.collectionName, whereClause, next)
		args = append(args, opts.Limit)
	} else {
		query = fmt.Sprintf(`
			SELECT %s, embedding <=> $%d AS distance FROM %s
			%s AND embedding IS NOT NULL
			ORDER BY distance ASC, id ASC
			LIMIT $%d
		`, selectColumns, next, c.collectionName, whereClause, next+1)
		args = append(args, toVector(embedding), opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SimilaritySearch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*storage.Record{}
	for rows.Next() {
		var distance float64
		record, err := scanRecord(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("SimilaritySearch: %w", err)
		}
		if !degraded {
			record.Distance = distance
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SimilaritySearch: %w", err)
	}

	return &storage.SearchResult{Records: records, Degraded: degraded}, nil
}

// DeleteEphemeralOlderThan removes expired ephemeral records.
func (c *Client) DeleteEphemeralOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE tier = '%s' AND created_at < $1`,
		c.collectionName, storage.TierEphemeral)

	result, err := c.db.ExecContext(ctx, query, cutoff.UTC())
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
	query := fmt.Sprintf(`
		UPDATE %s
		SET accessed_at = $1, access_count = access_count + 1
		WHERE id = ANY($2)
		RETURNING id, access_count
	`, c.collectionName)

	rows, err := c.db.QueryContext(ctx, query, at.UTC(), pq.Array(ids))
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
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, c.collectionName)

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id), nil)
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

// DropCollection drops the backing table. Intended for test teardown.
func (c *Client) DropCollection(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.collectionName)); err != nil {
		return fmt.Errorf("DropCollection: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const selectColumns = `id, owner_id, tier, content, embedding, attributes, created_at, accessed_at, access_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans one row. When distance is non-nil the row carries a
// trailing distance column.
func scanRecord(scanner rowScanner, distance *float64) (*storage.Record, error) {
	var (
		record     storage.Record
		tier       string
		vec        *pgvector.Vector
		attributes []byte
	)

	dest := []interface{}{
		&record.ID,
		&record.OwnerID,
		&tier,
		&record.Content,
		&vec,
		&attributes,
		&record.CreatedAt,
		&record.AccessedAt,
		&record.AccessCount,
	}
	if distance != nil {
		dest = append(dest, distance)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	record.Tier = storage.Tier(tier)
	record.CreatedAt = record.CreatedAt.UTC()
	record.AccessedAt = record.AccessedAt.UTC()
	if vec != nil {
		record.Embedding = fromVector(*vec)
	}

	attrs := map[string]interface{}{}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &attrs); err != nil {
			return nil, fmt.Errorf("parse attributes: %w", err)
		}
	}
	record.Attributes = attrs

	return &record, nil
}
