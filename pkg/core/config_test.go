package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recallmem "github.com/oceanbase/recallmem-go/pkg/core"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *recallmem.Config)
	}{
		{
			name: "sqlite with defaults",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"SQLITE_PATH":        "./test.db",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
			},
			check: func(t *testing.T, cfg *recallmem.Config) {
				assert.Equal(t, "sqlite", cfg.VectorStore.Provider)
				assert.Equal(t, "./test.db", cfg.VectorStore.Config["db_path"])
				assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
				assert.Equal(t, 1536, cfg.Embedder.Dimensions)
				assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
				assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
				assert.Equal(t, 4, cfg.Retrieval.Overfetch)
				assert.Equal(t, 1000, cfg.Retrieval.MaxLimit)
				assert.Equal(t, 30, cfg.Retention.WindowDays)
				assert.Equal(t, 3, cfg.Retention.RunHour)
				assert.Equal(t, 30, cfg.Retention.MaxDurationMinutes)
				assert.Equal(t, int64(1), cfg.NodeID)
			},
		},
		{
			name: "postgres with tuning",
			envVars: map[string]string{
				"DATABASE_PROVIDER":              "postgres",
				"POSTGRES_PORT":                  "6543",
				"EMBEDDING_PROVIDER":             "mock",
				"EMBEDDING_DIMS":                 "384",
				"EMBEDDING_RPS":                  "2.5",
				"RETRIEVAL_SIMILARITY_THRESHOLD": "0.55",
				"RETRIEVAL_OVERFETCH":            "9",
				"RETRIEVAL_MAX_LIMIT":            "50",
				"RETENTION_WINDOW_DAYS":          "7",
				"RETENTION_RUN_HOUR":             "4",
				"RETRIEVAL_GOAL_KEYWORDS":        "deadline,okr",
				"LOG_LEVEL":                      "debug",
				"SNOWFLAKE_NODE_ID":              "12",
			},
			check: func(t *testing.T, cfg *recallmem.Config) {
				assert.Equal(t, "postgres", cfg.VectorStore.Provider)
				assert.Equal(t, 6543, cfg.VectorStore.Config["port"])
				assert.Equal(t, 384, cfg.Embedder.Dimensions)
				assert.Equal(t, 2.5, cfg.Embedder.RequestsPerSecond)
				assert.Equal(t, 0.55, cfg.Retrieval.SimilarityThreshold)
				assert.Equal(t, 5, cfg.Retrieval.Overfetch, "overfetch is clamped")
				assert.Equal(t, 50, cfg.Retrieval.MaxLimit)
				assert.Equal(t, []string{"deadline", "okr"}, cfg.Retrieval.GoalKeywords)
				assert.Equal(t, 7, cfg.Retention.WindowDays)
				assert.Equal(t, 4, cfg.Retention.RunHour)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, int64(12), cfg.NodeID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := recallmem.LoadConfigFromEnv()
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfigFromEnv_MalformedNumber(t *testing.T) {
	t.Setenv("EMBEDDING_DIMS", "lots")

	_, err := recallmem.LoadConfigFromEnv()
	assert.ErrorIs(t, err, recallmem.ErrInvalidConfig)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"embedder": {"provider": "mock", "dimensions": 16},
		"vector_store": {"provider": "sqlite", "config": {"db_path": "/tmp/r.db", "busy_timeout_ms": 250}},
		"retrieval": {"default_limit": 5},
		"retention": {"window_days": 14, "timezone": "UTC"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := recallmem.LoadConfigFromJSON(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mock", cfg.Embedder.Provider)
	assert.Equal(t, 16, cfg.Embedder.Dimensions)
	assert.Equal(t, "/tmp/r.db", cfg.VectorStore.Config["db_path"])
	assert.Equal(t, float64(250), cfg.VectorStore.Config["busy_timeout_ms"])
	assert.Equal(t, 5, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 14, cfg.Retention.WindowDays)
	assert.Equal(t, 3, cfg.Retention.RunHour, "unset fields keep DefaultConfig values")
	assert.Equal(t, int64(1), cfg.NodeID)
}

func TestLoadConfigFromJSON_Errors(t *testing.T) {
	_, err := recallmem.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = recallmem.LoadConfigFromJSON(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := recallmem.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Embedder.Provider = ""
	assert.ErrorIs(t, cfg.Validate(), recallmem.ErrInvalidConfig)

	cfg = recallmem.DefaultConfig()
	cfg.VectorStore.Provider = ""
	assert.ErrorIs(t, cfg.Validate(), recallmem.ErrInvalidConfig)

	cfg = recallmem.DefaultConfig()
	cfg.Retention.RunMinute = 60
	assert.ErrorIs(t, cfg.Validate(), recallmem.ErrInvalidConfig)
}

func TestFindEnvFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("LOG_LEVEL=warn\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	path, found := recallmem.FindEnvFile()
	assert.True(t, found)
	assert.Equal(t, filepath.Join(root, ".env"), path)
}

func TestNewLogger(t *testing.T) {
	logger, err := recallmem.NewLogger(recallmem.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = recallmem.NewLogger(recallmem.LoggingConfig{Level: "loud"})
	assert.ErrorIs(t, err, recallmem.ErrInvalidConfig)

	_, err = recallmem.NewLogger(recallmem.LoggingConfig{Format: "xml"})
	assert.ErrorIs(t, err, recallmem.ErrInvalidConfig)
}
