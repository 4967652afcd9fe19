package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/oceanbase/recallmem-go/pkg/embedder"
	"github.com/oceanbase/recallmem-go/pkg/embedder/mock"
	openaiEmbedder "github.com/oceanbase/recallmem-go/pkg/embedder/openai"
	"github.com/oceanbase/recallmem-go/pkg/embedder/resilient"
	"github.com/oceanbase/recallmem-go/pkg/intelligence"
	"github.com/oceanbase/recallmem-go/pkg/retention"
	"github.com/oceanbase/recallmem-go/pkg/storage"
	"github.com/oceanbase/recallmem-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/recallmem-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/recallmem-go/pkg/storage/sqlite"
)

// Client is the main RecallMem client.
//
// It stores memories in one of three retention tiers and answers queries by
// combining vector similarity with recency and access frequency. Embedding
// failures never surface to callers: memories are stored without a vector
// and queries fall back to recency order.
//
// The client is safe for concurrent use. There is no client-wide lock;
// concurrent calls only meet in the database.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	_, _ = client.AddMemory(ctx, "user_001", core.TierDurable, "User likes Python", nil)
//	results, _ := client.QueryMemories(ctx, "user_001", "programming languages")
type Client struct {
	config *Config

	store    storage.Store
	embedder *resilient.Adapter

	scorer  *intelligence.HybridScorer
	router  *intelligence.TierRouter
	tracker *intelligence.AccessTracker

	pruner    *retention.Pruner
	scheduler *retention.Scheduler

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node

	clock  func() time.Time
	logger *zap.Logger
}

// NewClient creates a new RecallMem client.
//
// The client is initialized with:
//   - Embedding provider (OpenAI-compatible or mock) behind the resilient adapter
//   - Vector store (SQLite, OceanBase, or PostgreSQL)
//   - Hybrid scorer, tier router and access tracker
//   - Retention pruner and its daily scheduler (not started)
//
// A nil cfg uses DefaultConfig. WithStore and WithEmbedder skip building the
// corresponding provider from cfg.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	config := *cfg
	config.applyDefaults()

	o := applyClientOptions(opts)
	if o.store == nil && config.VectorStore.Provider == "" {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: vector store provider is required", ErrInvalidConfig))
	}
	if o.embedder == nil && config.Embedder.Provider == "" {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	}
	if err := config.validateSettings(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(config.Logging); err != nil {
			return nil, err
		}
	}

	node, err := snowflake.NewNode(config.NodeID)
	if err != nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	provider := o.embedder
	adapterCfg := config.Embedder.adapterConfig()
	if provider == nil {
		if provider, err = initEmbedder(config.Embedder); err != nil {
			return nil, err
		}
	} else {
		adapterCfg.Dimensions = provider.Dimensions()
	}
	adapter := resilient.New(provider, adapterCfg, logger)

	store := o.store
	if store == nil {
		if store, err = initStorage(config.VectorStore, adapter.Dimensions()); err != nil {
			_ = adapter.Close()
			return nil, err
		}
	}

	location, _ := config.Retention.location()
	pruner := retention.NewPruner(store, retention.Config{
		Window:      config.Retention.window(),
		MaxDuration: time.Duration(config.Retention.MaxDurationMinutes) * time.Minute,
	}, logger, retention.WithClock(o.clock))

	client := &Client{
		config:        &config,
		store:         store,
		embedder:      adapter,
		scorer:        intelligence.NewHybridScorer(),
		router:        intelligence.NewTierRouter(config.Retrieval.GoalKeywords...),
		tracker:       intelligence.NewAccessTracker(store, logger),
		pruner:        pruner,
		snowflakeNode: node,
		clock:         o.clock,
		logger:        logger,
	}
	client.scheduler = retention.NewScheduler(pruner, retention.ScheduleConfig{
		Hour:       config.Retention.RunHour,
		Minute:     config.Retention.RunMinute,
		Location:   location,
		RunOnStart: config.Retention.RunOnStart,
	}, logger, retention.WithClock(o.clock))

	return client, nil
}

// AddMemory stores a new memory for ownerID in the given tier.
//
// The content is embedded first; if no embedding can be produced the memory
// is stored without one and the call still succeeds. Only invalid input and
// storage failures are returned as errors.
//
// Example:
//
//	memory, err := client.AddMemory(ctx, "user_001", core.TierEphemeral,
//	    "Parked on level 3", core.Attributes{"source": "chat"})
func (c *Client) AddMemory(ctx context.Context, ownerID string, tier Tier, content string, attrs Attributes) (*Memory, error) {
	const op = "AddMemory"
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if !tier.Valid() {
		return nil, invalidInput(op, "unknown tier %q", tier)
	}
	if err := c.checkText("content", content); err != nil {
		return nil, NewMemoryError(op, err)
	}
	if err := checkAttributes(attrs); err != nil {
		return nil, NewMemoryError(op, err)
	}

	select {
	case <-ctx.Done():
		return nil, NewMemoryError(op, ctx.Err())
	default:
	}

	embedding, ok := c.embedder.Embed(ctx, content)
	if !ok {
		c.logger.Debug("storing memory without embedding",
			zap.String("owner_id", ownerID),
			zap.Error(ErrEmbeddingFailed))
	}

	now := c.clock()
	record := &storage.Record{
		ID:         c.snowflakeNode.Generate().Int64(),
		OwnerID:    ownerID,
		Tier:       tier,
		Content:    content,
		Embedding:  embedding,
		Attributes: toStorageAttributes(attrs),
		CreatedAt:  now,
		AccessedAt: now,
	}
	if err := c.store.Insert(ctx, record); err != nil {
		return nil, storageFailure(op, err)
	}

	c.logger.Debug("memory added",
		zap.Int64("id", record.ID),
		zap.String("tier", string(tier)),
		zap.Bool("embedded", ok))
	return toMemory(record), nil
}

// QueryMemories returns the memories of ownerID that best match queryText.
//
// The query is routed to tiers, embedded, searched with over-fetching,
// re-ranked by the hybrid scorer and truncated to the limit. Every returned
// memory has been touched: its access count and access time already reflect
// this call. When nothing matches the result is an empty, non-nil slice.
//
// Example:
//
//	results, err := client.QueryMemories(ctx, "user_001", "what is my plan for today",
//	    core.WithLimit(5))
func (c *Client) QueryMemories(ctx context.Context, ownerID string, queryText string, opts ...QueryOption) ([]*Memory, error) {
	const op = "QueryMemories"
	qopts := applyQueryOptions(opts)

	if strings.TrimSpace(ownerID) == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if err := c.checkText("query", queryText); err != nil {
		return nil, NewMemoryError(op, err)
	}
	for _, t := range qopts.Tiers {
		if !t.Valid() {
			return nil, invalidInput(op, "unknown tier %q", t)
		}
	}
	threshold := c.config.Retrieval.SimilarityThreshold
	if qopts.SimilarityThreshold != nil {
		threshold = *qopts.SimilarityThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, invalidInput(op, "similarity threshold %v outside [0, 1]", threshold)
	}
	limit := qopts.Limit
	if limit <= 0 {
		limit = c.config.Retrieval.DefaultLimit
	}
	if limit > c.config.Retrieval.MaxLimit {
		limit = c.config.Retrieval.MaxLimit
	}

	select {
	case <-ctx.Done():
		return nil, NewMemoryError(op, ctx.Err())
	default:
	}

	now := c.clock()
	tiers := c.router.Route(queryText, qopts.Tiers)

	embedding, ok := c.embedder.Embed(ctx, queryText)
	if !ok {
		c.logger.Debug("querying without embedding, falling back to recency",
			zap.String("owner_id", ownerID),
			zap.Error(ErrEmbeddingFailed))
	}

	result, err := c.store.SimilaritySearch(ctx, embedding, &storage.SearchOptions{
		OwnerID:         ownerID,
		Tiers:           tiers,
		Limit:           limit * c.config.Retrieval.Overfetch,
		EphemeralCutoff: now.Add(-c.pruner.Window()),
	})
	if err != nil {
		return nil, storageFailure(op, err)
	}

	ranked := c.scorer.Rank(result.Records, intelligence.RankOptions{
		Threshold: threshold,
		Limit:     limit,
		Degraded:  result.Degraded,
		Now:       now,
	})
	if err := c.tracker.Track(ctx, ranked, now); err != nil {
		return nil, storageFailure(op, err)
	}

	c.logger.Debug("query served",
		zap.String("owner_id", ownerID),
		zap.Strings("tiers", storage.TierStrings(tiers)),
		zap.Int("candidates", len(result.Records)),
		zap.Int("returned", len(ranked)),
		zap.Bool("degraded", result.Degraded))
	return toMemories(ranked), nil
}

// PruneExpired deletes ephemeral memories older than the retention window
// and returns how many were removed. Durable and contextual memories are
// never touched.
func (c *Client) PruneExpired(ctx context.Context) (int64, error) {
	n, err := c.pruner.Prune(ctx)
	if err != nil {
		return 0, storageFailure("PruneExpired", err)
	}
	return n, nil
}

// StartRetention starts the daily prune schedule in the background. It is
// stopped by Close or by cancelling ctx.
func (c *Client) StartRetention(ctx context.Context) error {
	if err := c.scheduler.Start(ctx); err != nil {
		return NewMemoryError("StartRetention", err)
	}
	return nil
}

// NextRetentionRun returns when the scheduled prune will next run.
func (c *Client) NextRetentionRun() time.Time {
	return c.scheduler.NextRun(c.clock())
}

// Close stops the retention schedule and releases the store and embedder.
func (c *Client) Close() error {
	c.scheduler.Stop()

	var errs error
	if c.store != nil {
		errs = multierr.Append(errs, c.store.Close())
	}
	if c.embedder != nil {
		errs = multierr.Append(errs, c.embedder.Close())
	}
	return NewMemoryError("Close", errs)
}

// checkAttributes rejects attribute values the stores cannot encode as JSON,
// such as NaN, channels or funcs.
func checkAttributes(attrs Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	if _, err := json.Marshal(toStorageAttributes(attrs)); err != nil {
		return fmt.Errorf("%w: attributes are not JSON encodable: %v", ErrInvalidInput, err)
	}
	return nil
}

// checkText validates content or query text.
func (c *Client) checkText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, field)
	}
	if n := utf8.RuneCountInString(text); n > c.config.Retrieval.MaxContentRunes {
		return fmt.Errorf("%w: %s has %d characters, limit is %d",
			ErrInvalidInput, field, n, c.config.Retrieval.MaxContentRunes)
	}
	return nil
}

// adapterConfig maps embedder settings onto the resilient adapter.
func (e EmbedderConfig) adapterConfig() resilient.Config {
	cfg := resilient.Config{
		Dimensions:        e.Dimensions,
		MaxRetries:        e.MaxRetries,
		RequestsPerSecond: e.RequestsPerSecond,
	}
	if e.TimeoutMillis > 0 {
		cfg.AttemptTimeout = time.Duration(e.TimeoutMillis) * time.Millisecond
	}
	if e.BreakerFailures > 0 {
		cfg.BreakerFailures = uint32(e.BreakerFailures)
	}
	return cfg
}

// initStorage initializes the vector store.
func initStorage(cfg VectorStoreConfig, dims int) (storage.Store, error) {
	v := configValues(cfg.Config)
	var (
		store storage.Store
		err   error
	)
	switch cfg.Provider {
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:               v.stringValue("host", "127.0.0.1"),
			Port:               v.intValue("port", 2881),
			User:               v.stringValue("user", "root@sys"),
			Password:           v.stringValue("password", ""),
			DBName:             v.stringValue("db_name", "recallmem"),
			CollectionName:     v.stringValue("collection_name", "memories"),
			EmbeddingModelDims: dims,
		})
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             v.stringValue("db_path", "./recallmem.db"),
			CollectionName:     v.stringValue("collection_name", "memories"),
			EmbeddingModelDims: dims,
			BusyTimeoutMillis:  v.intValue("busy_timeout_ms", 0),
		})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:               v.stringValue("host", "localhost"),
			Port:               v.intValue("port", 5432),
			User:               v.stringValue("user", "postgres"),
			Password:           v.stringValue("password", ""),
			DBName:             v.stringValue("db_name", "recallmem"),
			CollectionName:     v.stringValue("collection_name", "memories"),
			EmbeddingModelDims: dims,
			SSLMode:            v.stringValue("ssl_mode", "disable"),
			HNSWM:              v.intValue("hnsw_m", 0),
			HNSWEfConstruction: v.intValue("hnsw_ef_construction", 0),
		})
	default:
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", err)
	}
	return store, nil
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, NewMemoryError("initEmbedder", err)
		}
		return client, nil
	case "mock":
		return mock.New(cfg.Dimensions), nil
	default:
		return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// configValues reads provider settings that may come from Go literals,
// environment parsing or JSON (where numbers decode as float64).
type configValues map[string]interface{}

func (v configValues) stringValue(key, def string) string {
	if s, ok := v[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (v configValues) intValue(key string, def int) int {
	switch n := v[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}
