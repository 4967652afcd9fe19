package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recallmem-go/pkg/embedder"
	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// QueryOption is a function type for configuring QueryMemories calls.
type QueryOption func(*QueryOptions)

// QueryOptions contains configuration options for QueryMemories.
type QueryOptions struct {
	// Tiers restricts the search. Empty lets the router decide.
	Tiers []Tier

	// Limit is the maximum number of results. Zero or less selects the
	// configured default.
	Limit int

	// SimilarityThreshold overrides the configured threshold when set.
	SimilarityThreshold *float64
}

// WithTiers searches exactly the given tiers.
//
// Example:
//
//	results, _ := client.QueryMemories(ctx, "user_001", "coffee",
//	    core.WithTiers(core.TierDurable))
func WithTiers(tiers ...Tier) QueryOption {
	return func(opts *QueryOptions) {
		opts.Tiers = append([]Tier(nil), tiers...)
	}
}

// WithLimit sets the maximum number of results.
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		opts.Limit = limit
	}
}

// WithSimilarityThreshold sets the minimum similarity for this query.
// Values outside [0, 1] are rejected by QueryMemories.
func WithSimilarityThreshold(threshold float64) QueryOption {
	return func(opts *QueryOptions) {
		opts.SimilarityThreshold = &threshold
	}
}

func applyQueryOptions(opts []QueryOption) *QueryOptions {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ClientOption customizes a Client at construction.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger   *zap.Logger
	clock    func() time.Time
	store    storage.Store
	embedder embedder.Provider
}

// WithLogger sets the logger. Without it the client builds one from
// Config.Logging.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithClock overrides the wall clock used for timestamps, ranking and
// retention.
func WithClock(clock func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.clock = clock
	}
}

// WithStore injects a storage backend instead of building one from
// Config.VectorStore. The client takes ownership and closes it.
func WithStore(store storage.Store) ClientOption {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithEmbedder injects an embedding provider instead of building one from
// Config.Embedder. It is still wrapped with retries and the circuit breaker.
func WithEmbedder(provider embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.embedder = provider
	}
}

func applyClientOptions(opts []ClientOption) *clientOptions {
	options := &clientOptions{clock: time.Now}
	for _, opt := range opts {
		opt(options)
	}
	if options.clock == nil {
		options.clock = time.Now
	}
	return options
}
