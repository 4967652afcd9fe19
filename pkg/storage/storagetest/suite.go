// Package storagetest holds a behavioural test suite shared by every
// storage.Store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// Dims is the embedding dimensionality the suite writes. Backends under test
// must be configured with it.
const Dims = 3

// Factory returns a fresh, empty store and registers its cleanup on t.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func record(id int64, owner string, tier storage.Tier, emb []float64, created time.Time) *storage.Record {
	return &storage.Record{
		ID:         id,
		OwnerID:    owner,
		Tier:       tier,
		Content:    "content",
		Embedding:  emb,
		Attributes: map[string]interface{}{"source": "test"},
		CreatedAt:  created,
		AccessedAt: created,
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("NilEmbedding", func(t *testing.T) { testNilEmbedding(t, newStore(t)) })
	t.Run("DimensionMismatch", func(t *testing.T) { testDimensionMismatch(t, newStore(t)) })
	t.Run("SimilarityOrder", func(t *testing.T) { testSimilarityOrder(t, newStore(t)) })
	t.Run("OwnerAndTierFilter", func(t *testing.T) { testOwnerAndTierFilter(t, newStore(t)) })
	t.Run("EphemeralCutoff", func(t *testing.T) { testEphemeralCutoff(t, newStore(t)) })
	t.Run("DegradedRecency", func(t *testing.T) { testDegradedRecency(t, newStore(t)) })
	t.Run("Touch", func(t *testing.T) { testTouch(t, newStore(t)) })
	t.Run("DeleteEphemeralOlderThan", func(t *testing.T) { testDeleteEphemeral(t, newStore(t)) })
}

func testInsertGet(t *testing.T, s storage.Store) {
	ctx := context.Background()

	r := record(1, "alice", storage.TierDurable, []float64{1, 0, 0}, base)
	require.NoError(t, s.Insert(ctx, r))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, storage.TierDurable, got.Tier)
	assert.Equal(t, "content", got.Content)
	assert.InDeltaSlice(t, []float64{1, 0, 0}, got.Embedding, 1e-6)
	assert.Equal(t, "test", got.Attributes["source"])
	assert.True(t, base.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)
	assert.True(t, base.Equal(got.AccessedAt), "accessed_at %v", got.AccessedAt)
	assert.Equal(t, int64(0), got.AccessCount)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testNilEmbedding(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, record(1, "alice", storage.TierDurable, nil, base)))
	require.NoError(t, s.Insert(ctx, record(2, "alice", storage.TierDurable, []float64{1, 0, 0}, base)))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)

	res, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		OwnerID: "alice",
		Tiers:   storage.AllTiers,
		Limit:   10,
	})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(2), res.Records[0].ID)
}

func testDimensionMismatch(t *testing.T, s storage.Store) {
	err := s.Insert(context.Background(), record(1, "alice", storage.TierDurable, []float64{1, 0}, base))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func testSimilarityOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, record(1, "alice", storage.TierDurable, []float64{0, 1, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(2, "alice", storage.TierDurable, []float64{1, 0, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(3, "alice", storage.TierDurable, []float64{1, 1, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(4, "alice", storage.TierDurable, []float64{-1, 0, 0}, base)))

	res, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		OwnerID: "alice",
		Tiers:   storage.AllTiers,
		Limit:   3,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, int64(2), res.Records[0].ID)
	assert.Equal(t, int64(3), res.Records[1].ID)
	assert.Equal(t, int64(1), res.Records[2].ID)
	assert.InDelta(t, 0.0, res.Records[0].Distance, 1e-4)
	assert.InDelta(t, 1.0, res.Records[2].Distance, 1e-4)
}

func testOwnerAndTierFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, record(1, "alice", storage.TierDurable, []float64{1, 0, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(2, "alice", storage.TierContextual, []float64{1, 0, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(3, "bob", storage.TierDurable, []float64{1, 0, 0}, base)))

	res, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		OwnerID: "alice",
		Tiers:   []storage.Tier{storage.TierDurable, storage.TierEphemeral},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(1), res.Records[0].ID)

	res, err = s.SimilaritySearch(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		OwnerID: "alice",
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Records)

	n, err := s.Count(ctx, &storage.CountOptions{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testEphemeralCutoff(t *testing.T, s storage.Store) {
	ctx := context.Background()

	old := base.AddDate(0, 0, -31)
	require.NoError(t, s.Insert(ctx, record(1, "alice", storage.TierEphemeral, []float64{1, 0, 0}, old)))
	require.NoError(t, s.Insert(ctx, record(2, "alice", storage.TierEphemeral, []float64{1, 0, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(3, "alice", storage.TierDurable, []float64{1, 0, 0}, old)))

	opts := &storage.SearchOptions{
		OwnerID:         "alice",
		Tiers:           storage.AllTiers,
		Limit:           10,
		EphemeralCutoff: base.AddDate(0, 0, -30),
	}
	for _, emb := range [][]float64{{1, 0, 0}, nil} {
		res, err := s.SimilaritySearch(ctx, emb, opts)
		require.NoError(t, err)
		ids := []int64{}
		for _, r := range res.Records {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []int64{2, 3}, ids)
	}
}

func testDegradedRecency(t *testing.T, s storage.Store) {
	ctx := context.Background()

	a := record(1, "alice", storage.TierDurable, nil, base)
	b := record(2, "alice", storage.TierDurable, []float64{1, 0, 0}, base)
	b.AccessedAt = base.Add(time.Hour)
	c := record(3, "alice", storage.TierDurable, nil, base)
	c.AccessedAt = base.Add(2 * time.Hour)
	for _, r := range []*storage.Record{a, b, c} {
		require.NoError(t, s.Insert(ctx, r))
	}

	res, err := s.SimilaritySearch(ctx, nil, &storage.SearchOptions{
		OwnerID: "alice",
		Tiers:   storage.AllTiers,
		Limit:   2,
	})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(3), res.Records[0].ID)
	assert.Equal(t, int64(2), res.Records[1].ID)
}

func testTouch(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, record(1, "alice", storage.TierDurable, []float64{1, 0, 0}, base)))
	require.NoError(t, s.Insert(ctx, record(2, "alice", storage.TierDurable, []float64{1, 0, 0}, base)))

	at := base.Add(48 * time.Hour)
	counts, err := s.Touch(ctx, []int64{1}, at)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 1}, counts)

	counts, err = s.Touch(ctx, []int64{1, 404}, at)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 2}, counts)

	counts, err = s.Touch(ctx, nil, at)
	require.NoError(t, err)
	assert.Empty(t, counts)

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
	assert.True(t, at.Equal(got.AccessedAt))

	untouched, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), untouched.AccessCount)
	assert.True(t, base.Equal(untouched.AccessedAt))
}

func testDeleteEphemeral(t *testing.T, s storage.Store) {
	ctx := context.Background()

	old := base.AddDate(0, 0, -45)
	require.NoError(t, s.Insert(ctx, record(1, "alice", storage.TierEphemeral, nil, old)))
	require.NoError(t, s.Insert(ctx, record(2, "alice", storage.TierEphemeral, nil, base)))
	require.NoError(t, s.Insert(ctx, record(3, "alice", storage.TierDurable, nil, old)))
	require.NoError(t, s.Insert(ctx, record(4, "bob", storage.TierContextual, nil, old)))

	cutoff := base.AddDate(0, 0, -30)
	n, err := s.DeleteEphemeralOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteEphemeralOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	total, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
