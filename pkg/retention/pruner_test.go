package retention_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/retention"
	"github.com/oceanbase/recallmem-go/pkg/storage"
	sqliteStore "github.com/oceanbase/recallmem-go/pkg/storage/sqlite"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func fastConfig() retention.Config {
	return retention.Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func setupStore(t *testing.T) *sqliteStore.Client {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:         filepath.Join(t.TempDir(), "retention.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store storage.Store, id int64, tier storage.Tier, age time.Duration) {
	created := now.Add(-age)
	require.NoError(t, store.Insert(context.Background(), &storage.Record{
		ID:         id,
		OwnerID:    "alice",
		Tier:       tier,
		Content:    "c",
		CreatedAt:  created,
		AccessedAt: created,
	}))
}

func TestPruner_DeletesOnlyExpiredEphemeral(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	day := 24 * time.Hour

	var id int64
	expired := 0
	for _, days := range []int{0, 1, 29, 30, 31, 45, 400} {
		id++
		age := time.Duration(days) * day
		if days == 30 {
			age -= time.Minute
		}
		seed(t, store, id, storage.TierEphemeral, age)
		if days > 30 {
			expired++
		}
	}

	pruner := retention.NewPruner(store, fastConfig(), nil, retention.WithClock(fixedClock))
	deleted, err := pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(expired), deleted)

	res, err := store.SimilaritySearch(ctx, nil, &storage.SearchOptions{
		OwnerID: "alice",
		Tiers:   storage.AllTiers,
		Limit:   100,
	})
	require.NoError(t, err)
	for _, r := range res.Records {
		assert.False(t, r.CreatedAt.Before(pruner.Cutoff()), "record %d survived pruning", r.ID)
	}
}

func TestPruner_NeverDeletesDurableOrContextual(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var id int64
	for years := 0; years <= 10; years++ {
		for _, tier := range []storage.Tier{storage.TierDurable, storage.TierContextual} {
			id++
			seed(t, store, id, tier, time.Duration(years)*365*24*time.Hour)
		}
	}

	before, err := store.Count(ctx, nil)
	require.NoError(t, err)

	pruner := retention.NewPruner(store, fastConfig(), nil, retention.WithClock(fixedClock))
	deleted, err := pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	after, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPruner_Idempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seed(t, store, 1, storage.TierEphemeral, 40*24*time.Hour)
	seed(t, store, 2, storage.TierEphemeral, time.Hour)

	pruner := retention.NewPruner(store, fastConfig(), nil, retention.WithClock(fixedClock))

	n, err := pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	remaining, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestPruner_CustomWindow(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 1, storage.TierEphemeral, 8*24*time.Hour)

	cfg := fastConfig()
	cfg.Window = 7 * 24 * time.Hour
	pruner := retention.NewPruner(store, cfg, nil, retention.WithClock(fixedClock))
	assert.Equal(t, now.Add(-7*24*time.Hour), pruner.Cutoff())

	n, err := pruner.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type flakyDeleter struct {
	mu       sync.Mutex
	failures int
	calls    int
	cutoffs  []time.Time
	block    bool
}

func (f *flakyDeleter) DeleteEphemeralOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	fail := f.calls <= f.failures
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if fail {
		return 0, errors.New("database is locked")
	}
	return 7, nil
}

func TestPruner_RetriesTransientFailures(t *testing.T) {
	d := &flakyDeleter{failures: 2}
	pruner := retention.NewPruner(d, fastConfig(), nil, retention.WithClock(fixedClock))

	n, err := pruner.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 3, d.calls)
	for _, c := range d.cutoffs {
		assert.Equal(t, d.cutoffs[0], c)
	}
}

func TestPruner_GivesUpAfterThreeRetries(t *testing.T) {
	d := &flakyDeleter{failures: 100}
	pruner := retention.NewPruner(d, fastConfig(), nil, retention.WithClock(fixedClock))

	n, err := pruner.Prune(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 4, d.calls)
}

func TestPruner_MaxDuration(t *testing.T) {
	d := &flakyDeleter{block: true}
	cfg := fastConfig()
	cfg.MaxDuration = 20 * time.Millisecond
	pruner := retention.NewPruner(d, cfg, nil)

	start := time.Now()
	_, err := pruner.Prune(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, d.calls)
}
