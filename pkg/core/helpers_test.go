package core_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	recallmem "github.com/oceanbase/recallmem-go/pkg/core"
	"github.com/oceanbase/recallmem-go/pkg/embedder/mock"
	"github.com/oceanbase/recallmem-go/pkg/storage"
	sqliteStore "github.com/oceanbase/recallmem-go/pkg/storage/sqlite"
)

const testDims = 8

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	client   *recallmem.Client
	store    *sqliteStore.Client
	embedder *mock.Embedder
	clock    *testClock
}

func testConfig() *recallmem.Config {
	return &recallmem.Config{
		Embedder: recallmem.EmbedderConfig{
			Provider:   "mock",
			Dimensions: testDims,
			MaxRetries: -1,
		},
		VectorStore: recallmem.VectorStoreConfig{Provider: "sqlite"},
		NodeID:      1,
	}
}

func newSQLiteStore(t *testing.T) *sqliteStore.Client {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:             filepath.Join(t.TempDir(), "recallmem.db"),
		CollectionName:     "memories",
		EmbeddingModelDims: testDims,
	})
	require.NoError(t, err)
	return store
}

func setupClient(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newSQLiteStore(t),
		embedder: mock.New(testDims),
		clock:    newTestClock(),
	}
	client, err := recallmem.NewClient(testConfig(),
		recallmem.WithStore(env.store),
		recallmem.WithEmbedder(env.embedder),
		recallmem.WithClock(env.clock.Now),
		recallmem.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	env.client = client
	return env
}

// unit returns a testDims-long basis vector.
func unit(i int) []float64 {
	v := make([]float64, testDims)
	v[i] = 1
	return v
}

// countingStore records every call and can fail all of them.
type countingStore struct {
	mu          sync.Mutex
	calls       int
	err         error
	searchLimit int
}

func (s *countingStore) hit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingStore) SearchLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchLimit
}

func (s *countingStore) Insert(ctx context.Context, record *storage.Record) error {
	return s.hit()
}

func (s *countingStore) SimilaritySearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) (*storage.SearchResult, error) {
	s.mu.Lock()
	s.searchLimit = opts.Limit
	s.mu.Unlock()
	if err := s.hit(); err != nil {
		return nil, err
	}
	return &storage.SearchResult{Degraded: len(embedding) == 0}, nil
}

func (s *countingStore) DeleteEphemeralOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, s.hit()
}

func (s *countingStore) Touch(ctx context.Context, ids []int64, at time.Time) (map[int64]int64, error) {
	return nil, s.hit()
}

func (s *countingStore) Get(ctx context.Context, id int64) (*storage.Record, error) {
	return nil, s.hit()
}

func (s *countingStore) Count(ctx context.Context, opts *storage.CountOptions) (int64, error) {
	return 0, s.hit()
}

func (s *countingStore) Close() error { return nil }
