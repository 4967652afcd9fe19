package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default settings applied by Config.applyDefaults.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultLimit               = 10
	DefaultMaxLimit            = 1000
	DefaultOverfetch           = 4
	DefaultMaxContentRunes     = 8192
	DefaultRetentionDays       = 30
	DefaultRunHour             = 3
	DefaultMaxDurationMinutes  = 30
)

// Config contains the complete configuration for a RecallMem client.
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./recallmem.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// Retrieval tunes QueryMemories.
	Retrieval RetrievalConfig `json:"retrieval"`

	// Retention tunes the pruner and its daily schedule.
	Retention RetentionConfig `json:"retention"`

	// Logging selects the zap logger built by NewLogger.
	Logging LoggingConfig `json:"logging"`

	// NodeID is the snowflake node used for memory IDs (0-1023).
	NodeID int64 `json:"node_id"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai (any OpenAI-compatible endpoint), mock
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors. Default: 1536
	Dimensions int `json:"dimensions,omitempty"`

	// MaxRetries after the first attempt. Default: 3. Negative disables.
	MaxRetries int `json:"max_retries,omitempty"`

	// TimeoutMillis bounds a single provider attempt. Default: 3000
	TimeoutMillis int `json:"timeout_ms,omitempty"`

	// RequestsPerSecond limits provider calls. Zero means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`

	// BreakerFailures consecutive failures open the circuit. Default: 5
	BreakerFailures int `json:"breaker_failures,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: oceanbase, sqlite, postgres
type VectorStoreConfig struct {
	// Provider is the vector store provider name (oceanbase, sqlite, postgres).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name
	// For OceanBase: host, port, user, password, db_name, collection_name
	// For PostgreSQL: host, port, user, password, db_name, collection_name, ssl_mode, hnsw_m, hnsw_ef_construction
	// The embedding dimension always comes from EmbedderConfig.Dimensions.
	Config map[string]interface{} `json:"config"`
}

// RetrievalConfig tunes QueryMemories.
type RetrievalConfig struct {
	// SimilarityThreshold is the default minimum similarity. Default: 0.7
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// DefaultLimit is used when a query asks for no limit. Default: 10
	DefaultLimit int `json:"default_limit,omitempty"`

	// MaxLimit caps the limit a single query may ask for. Default: 1000
	MaxLimit int `json:"max_limit,omitempty"`

	// Overfetch multiplies the limit to size the candidate pool.
	// Default: 4, clamped to [3, 5].
	Overfetch int `json:"overfetch,omitempty"`

	// GoalKeywords route queries to the contextual tier.
	GoalKeywords []string `json:"goal_keywords,omitempty"`

	// MaxContentRunes rejects longer content and queries. Default: 8192
	MaxContentRunes int `json:"max_content_runes,omitempty"`
}

// RetentionConfig tunes expiry of ephemeral memories.
type RetentionConfig struct {
	// WindowDays is how long ephemeral memories live. Default: 30
	WindowDays int `json:"window_days,omitempty"`

	// RunHour and RunMinute place the daily prune. DefaultConfig and the
	// loaders use 03:00; a zero value means midnight.
	RunHour   int `json:"run_hour"`
	RunMinute int `json:"run_minute,omitempty"`

	// Timezone is an IANA name for the schedule. Default: local time
	Timezone string `json:"timezone,omitempty"`

	// MaxDurationMinutes bounds one prune pass. Default: 30
	MaxDurationMinutes int `json:"max_duration_minutes,omitempty"`

	// RunOnStart prunes once as soon as the scheduler starts.
	RunOnStart bool `json:"run_on_start,omitempty"`
}

// LoggingConfig selects the logger built by NewLogger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `json:"level,omitempty"`

	// Format is json or console. Default: json
	Format string `json:"format,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, oceanbase, postgres)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL,
//     EMBEDDING_DIMS, EMBEDDING_MAX_RETRIES, EMBEDDING_TIMEOUT_MS, EMBEDDING_RPS
//   - RETRIEVAL_SIMILARITY_THRESHOLD, RETRIEVAL_DEFAULT_LIMIT, RETRIEVAL_OVERFETCH
//   - RETENTION_WINDOW_DAYS, RETENTION_RUN_HOUR, RETENTION_RUN_MINUTE,
//     RETENTION_TIMEZONE, RETENTION_MAX_DURATION_MINUTES
//   - LOG_LEVEL, LOG_FORMAT, SNOWFLAKE_NODE_ID
//
// Malformed numbers are reported as ErrInvalidConfig.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	p := &envParser{}
	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	vectorStoreConfig := make(map[string]interface{})
	switch provider {
	case "oceanbase":
		vectorStoreConfig = map[string]interface{}{
			"host":            getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":            p.getInt("OCEANBASE_PORT", 2881),
			"user":            getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":        os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":         getEnvOrDefault("OCEANBASE_DATABASE", "recallmem"),
			"collection_name": getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
		}
	case "sqlite":
		vectorStoreConfig = map[string]interface{}{
			"db_path":         getEnvOrDefault("SQLITE_PATH", "./recallmem.db"),
			"collection_name": getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	case "postgres":
		vectorStoreConfig = map[string]interface{}{
			"host":            getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":            p.getInt("POSTGRES_PORT", 5432),
			"user":            getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":        os.Getenv("POSTGRES_PASSWORD"),
			"db_name":         getEnvOrDefault("POSTGRES_DATABASE", "recallmem"),
			"collection_name": getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"ssl_mode":        getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
			"hnsw_m":          p.getInt("POSTGRES_HNSW_M", 0),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	if embedderBaseURL == "" && embedderProvider == "openai" {
		embedderBaseURL = getEnvOrDefault("OPENAI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	}

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:          embedderProvider,
			APIKey:            os.Getenv("EMBEDDING_API_KEY"),
			Model:             getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:           embedderBaseURL,
			Dimensions:        p.getInt("EMBEDDING_DIMS", 1536),
			MaxRetries:        p.getInt("EMBEDDING_MAX_RETRIES", 0),
			TimeoutMillis:     p.getInt("EMBEDDING_TIMEOUT_MS", 0),
			RequestsPerSecond: p.getFloat("EMBEDDING_RPS", 0),
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   vectorStoreConfig,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: p.getFloat("RETRIEVAL_SIMILARITY_THRESHOLD", DefaultSimilarityThreshold),
			DefaultLimit:        p.getInt("RETRIEVAL_DEFAULT_LIMIT", DefaultLimit),
			MaxLimit:            p.getInt("RETRIEVAL_MAX_LIMIT", DefaultMaxLimit),
			Overfetch:           p.getInt("RETRIEVAL_OVERFETCH", DefaultOverfetch),
		},
		Retention: RetentionConfig{
			WindowDays:         p.getInt("RETENTION_WINDOW_DAYS", DefaultRetentionDays),
			RunHour:            p.getInt("RETENTION_RUN_HOUR", DefaultRunHour),
			RunMinute:          p.getInt("RETENTION_RUN_MINUTE", 0),
			Timezone:           os.Getenv("RETENTION_TIMEZONE"),
			MaxDurationMinutes: p.getInt("RETENTION_MAX_DURATION_MINUTES", DefaultMaxDurationMinutes),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		NodeID: int64(p.getInt("SNOWFLAKE_NODE_ID", 1)),
	}
	if keywords := os.Getenv("RETRIEVAL_GOAL_KEYWORDS"); keywords != "" {
		config.Retrieval.GoalKeywords = strings.Split(keywords, ",")
	}

	if p.err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", p.err)
	}
	config.applyDefaults()
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config.applyDefaults()
	return config, nil
}

// DefaultConfig returns a configuration using a local SQLite file and the
// OpenAI embedding endpoint, with every tunable at its default.
func DefaultConfig() *Config {
	config := &Config{
		Embedder: EmbedderConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		VectorStore: VectorStoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path":         "./recallmem.db",
				"collection_name": "memories",
			},
		},
		Retention: RetentionConfig{
			RunHour: DefaultRunHour,
		},
		NodeID: 1,
	}
	config.applyDefaults()
	return config
}

// applyDefaults fills zero-valued settings.
func (c *Config) applyDefaults() {
	if c.Embedder.Dimensions <= 0 {
		c.Embedder.Dimensions = 1536
	}
	if c.Retrieval.SimilarityThreshold == 0 {
		c.Retrieval.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = DefaultLimit
	}
	if c.Retrieval.MaxLimit <= 0 {
		c.Retrieval.MaxLimit = DefaultMaxLimit
	}
	if c.Retrieval.DefaultLimit > c.Retrieval.MaxLimit {
		c.Retrieval.DefaultLimit = c.Retrieval.MaxLimit
	}
	if c.Retrieval.Overfetch == 0 {
		c.Retrieval.Overfetch = DefaultOverfetch
	}
	if c.Retrieval.Overfetch < 3 {
		c.Retrieval.Overfetch = 3
	} else if c.Retrieval.Overfetch > 5 {
		c.Retrieval.Overfetch = 5
	}
	if c.Retrieval.MaxContentRunes <= 0 {
		c.Retrieval.MaxContentRunes = DefaultMaxContentRunes
	}
	if c.Retention.WindowDays <= 0 {
		c.Retention.WindowDays = DefaultRetentionDays
	}
	if c.Retention.MaxDurationMinutes <= 0 {
		c.Retention.MaxDurationMinutes = DefaultMaxDurationMinutes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration.
//
// Checks that:
//   - Embedder and vector store providers are specified
//   - The similarity threshold lies in [0, 1]
//   - The retention schedule is a valid time of day in a known timezone
//   - The snowflake node ID is in range
//
// Returns an error matching ErrInvalidConfig if validation fails.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	}
	if c.VectorStore.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: vector store provider is required", ErrInvalidConfig))
	}
	return c.validateSettings()
}

// validateSettings checks everything except the provider names, which are
// irrelevant when collaborators are injected with WithStore or WithEmbedder.
func (c *Config) validateSettings() error {
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return NewMemoryError("Validate", fmt.Errorf("%w: similarity threshold %v outside [0, 1]",
			ErrInvalidConfig, c.Retrieval.SimilarityThreshold))
	}
	if c.Retention.RunHour < 0 || c.Retention.RunHour > 23 || c.Retention.RunMinute < 0 || c.Retention.RunMinute > 59 {
		return NewMemoryError("Validate", fmt.Errorf("%w: retention run time %02d:%02d",
			ErrInvalidConfig, c.Retention.RunHour, c.Retention.RunMinute))
	}
	if _, err := c.Retention.location(); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return NewMemoryError("Validate", fmt.Errorf("%w: snowflake node id %d outside [0, 1023]",
			ErrInvalidConfig, c.NodeID))
	}
	return nil
}

func (r RetentionConfig) window() time.Duration {
	return time.Duration(r.WindowDays) * 24 * time.Hour
}

func (r RetentionConfig) location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(r.Timezone)
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser reads numeric variables and keeps the first parse error.
type envParser struct {
	err error
}

func (p *envParser) getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, raw)
		}
		return def
	}
	return v
}

func (p *envParser) getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, raw)
		}
		return def
	}
	return v
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
