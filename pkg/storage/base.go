// Package storage provides interfaces and types for memory record backends.
//
// It defines the Store interface that all storage implementations must satisfy,
// along with the record type, retention tiers and search options.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no record has the requested ID.
var ErrNotFound = errors.New("record not found")

// ErrDimensionMismatch is returned by Insert when a non-nil embedding does not
// have the store's configured dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Tier is the retention class of a record.
type Tier string

const (
	// TierDurable records are long-lived and never pruned.
	TierDurable Tier = "durable"

	// TierContextual records are goal or plan context, included in retrieval
	// only when the query asks for it. Never pruned.
	TierContextual Tier = "contextual"

	// TierEphemeral records expire after the retention window.
	TierEphemeral Tier = "ephemeral"
)

// AllTiers lists every tier in a stable order.
var AllTiers = []Tier{TierDurable, TierContextual, TierEphemeral}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierDurable, TierContextual, TierEphemeral:
		return true
	}
	return false
}

// Record is a memory record as persisted by a Store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.Memory structure.
type Record struct {
	// ID is the unique identifier of the record.
	ID int64

	// OwnerID identifies the owner. Never empty.
	OwnerID string

	// Tier is the retention class.
	Tier Tier

	// Content is the text content of the record.
	Content string

	// Embedding is the vector embedding, nil when embedding failed.
	Embedding []float64

	// Attributes is the caller's opaque attribute bag. The access_count key
	// is owned by the store and kept in its own column.
	Attributes map[string]interface{}

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// AccessedAt is when the record was last returned by a query.
	AccessedAt time.Time

	// AccessCount is the number of query calls that returned the record.
	AccessCount int64

	// Distance is the cosine distance to the query embedding, in [0, 2].
	// Only set by SimilaritySearch on the non-degraded path.
	Distance float64
}

// SearchOptions scopes a SimilaritySearch call.
type SearchOptions struct {
	// OwnerID restricts results to one owner. Required.
	OwnerID string

	// Tiers restricts results to these tiers. Empty means no results.
	Tiers []Tier

	// Limit is the maximum number of candidates to return.
	Limit int

	// EphemeralCutoff hides ephemeral records created before it.
	// The zero value disables the filter.
	EphemeralCutoff time.Time
}

// SearchResult is the output of SimilaritySearch.
type SearchResult struct {
	// Records are ordered by distance ascending, or by accessed_at
	// descending when Degraded is set.
	Records []*Record

	// Degraded is set when no query embedding was supplied and the store
	// fell back to recency ordering.
	Degraded bool
}

// CountOptions scopes a Count call. Empty fields match everything.
type CountOptions struct {
	OwnerID string
	Tier    Tier
}

// Store defines the interface for record storage backends.
//
// All implementations (SQLite, PostgreSQL, OceanBase) must implement this
// interface. Implementations must be safe for concurrent use.
type Store interface {
	// Insert persists a new record.
	Insert(ctx context.Context, record *Record) error

	// SimilaritySearch returns the owner's records in the given tiers ordered
	// by cosine distance to embedding. Records without an embedding are
	// excluded. A nil embedding switches to most-recently-accessed order and
	// marks the result as degraded.
	SimilaritySearch(ctx context.Context, embedding []float64, opts *SearchOptions) (*SearchResult, error)

	// DeleteEphemeralOlderThan removes ephemeral records created before
	// cutoff and returns the number removed. Other tiers are never touched.
	DeleteEphemeralOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Touch sets accessed_at and increments access_count for each ID in a
	// single statement. It returns the access_count of every touched ID as
	// written by that statement. Unknown IDs are absent from the map.
	Touch(ctx context.Context, ids []int64, at time.Time) (map[int64]int64, error)

	// Get returns a record by ID, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Record, error)

	// Count returns the number of records matching opts.
	Count(ctx context.Context, opts *CountOptions) (int64, error)

	// Close releases the backend's resources.
	Close() error
}

// TierStrings converts tiers to plain strings for driver arguments.
func TierStrings(tiers []Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

// ScanAccessCounts reads (id, access_count) rows into a map and closes rows.
func ScanAccessCounts(rows *sql.Rows) (map[int64]int64, error) {
	defer rows.Close()
	counts := make(map[int64]int64)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// CheckDimensions returns ErrDimensionMismatch when a non-nil embedding does
// not have dims components. dims <= 0 disables the check.
func CheckDimensions(embedding []float64, dims int) error {
	if embedding == nil || dims <= 0 {
		return nil
	}
	if len(embedding) != dims {
		return ErrDimensionMismatch
	}
	return nil
}
