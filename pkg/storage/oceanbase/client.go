// Package oceanbase provides an OceanBase (MySQL protocol) implementation of
// storage.Store using the native VECTOR column type.
package oceanbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// Client is an OceanBase client.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewOceanBaseClient: embedding dimensions must be positive")
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}
	if !validIdentifier(cfg.CollectionName) {
		return nil, fmt.Errorf("NewOceanBaseClient: invalid collection name %q", cfg.CollectionName)
	}

	db, err := sql.Open("mysql", formatDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: cfg.CollectionName,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// formatDSN builds a go-sql-driver DSN. Timestamps are read and written in UTC.
func formatDSN(cfg *Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			tier VARCHAR(16) NOT NULL,
			content LONGTEXT NOT NULL,
			embedding VECTOR(%d) NULL,
			attributes JSON,
			created_at DATETIME(6) NOT NULL,
			accessed_at DATETIME(6) NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			INDEX idx_owner_tier (owner_id, tier),
			INDEX idx_tier_created (tier, created_at)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}
	return nil
}

// Insert inserts a record.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	if err := storage.CheckDimensions(record.Embedding, c.config.EmbeddingModelDims); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	var embedding sql.NullString
	if record.Embedding != nil {
		embedding = sql.NullString{String: vectorToString(record.Embedding), Valid: true}
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
		record.CreatedAt.UTC(),
		record.AccessedAt.UTC(),
		record.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// SimilaritySearch ranks records with OceanBase's cosine_distance function.
func (c *Client) SimilaritySearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) (*storage.SearchResult, error) {
	degraded := len(embedding) == 0
	if len(opts.Tiers) == 0 || opts.Limit <= 0 {
		return &storage.SearchResult{Records: []*storage.Record{}, Degraded: degraded}, nil
	}

	whereClause, whereArgs := buildSearchWhere(opts)

	var (
		query string
		args  []interface{}
	)
	if degraded {
		query = fmt.Sprintf(`
			SELECT %s, 0 AS distance FROM %s
			%s
			ORDER BY accessed_at DESC, id ASC
			LIMIT ?
		`, selectColumns, c.collectionName, whereClause)
		args = append(whereArgs, opts.Limit)
	} else {
		query = fmt.Sprintf(`
			SELECT %s, cosine_distance(embedding, ?) AS distance FROM %s
			%s AND embedding IS NOT NULL
			ORDER BY distance ASC, id ASC
			LIMIT ?
		`, selectColumns, c.collectionName, whereClause)
		args = append([]interface{}{vectorToString(embedding)}, whereArgs...)
		args = append(args, opts.Limit)
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE tier = '%s' AND created_at < ?`,
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
// Counts are read back in the same transaction while the updated rows are
// still locked.
func (c *Client) Touch(ctx context.Context, ids []int64, at time.Time) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	update := fmt.Sprintf(`
		UPDATE %s
		SET accessed_at = ?, access_count = access_count + 1
		WHERE id IN (%s)
	`, c.collectionName, placeholders)
	selectCounts := fmt.Sprintf(`SELECT id, access_count FROM %s WHERE id IN (%s)`,
		c.collectionName, placeholders)

	idArgs := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		idArgs = append(idArgs, id)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, update, append([]interface{}{at.UTC()}, idArgs...)...); err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	rows, err := tx.QueryContext(ctx, selectCounts, idArgs...)
	if err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	counts, err := storage.ScanAccessCounts(rows)
	if err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Touch: %w", err)
	}
	return counts, nil
}

// Get retrieves a record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns, c.collectionName)

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

func scanRecord(scanner rowScanner, distance *float64) (*storage.Record, error) {
	var (
		record     storage.Record
		tier       string
		embedding  sql.NullString
		attributes sql.NullString
	)

	dest := []interface{}{
		&record.ID,
		&record.OwnerID,
		&tier,
		&record.Content,
		&embedding,
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
	if embedding.Valid && embedding.String != "" {
		vec, err := stringToVector(embedding.String)
		if err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		record.Embedding = vec
	}

	record.Attributes = map[string]interface{}{}
	if attributes.Valid && attributes.String != "" && attributes.String != "null" {
		if err := json.Unmarshal([]byte(attributes.String), &record.Attributes); err != nil {
			return nil, fmt.Errorf("parse attributes: %w", err)
		}
	}

	return &record, nil
}
