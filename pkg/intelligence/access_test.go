package intelligence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/intelligence"
	"github.com/oceanbase/recallmem-go/pkg/storage"
)

type fakeToucher struct {
	calls  [][]int64
	at     time.Time
	counts map[int64]int64
	err    error
}

func (f *fakeToucher) Touch(_ context.Context, ids []int64, at time.Time) (map[int64]int64, error) {
	f.calls = append(f.calls, append([]int64(nil), ids...))
	f.at = at
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func TestAccessTracker_TouchesOncePerRecord(t *testing.T) {
	toucher := &fakeToucher{}
	tracker := intelligence.NewAccessTracker(toucher, nil)

	r1 := candidate(1, 0.1, 3, 4)
	r2 := candidate(2, 0.1, 3, 0)
	ranked := []*intelligence.Scored{{Record: r1}, {Record: r2}, {Record: r1}}

	require.NoError(t, tracker.Track(context.Background(), ranked, now))
	require.Len(t, toucher.calls, 1)
	assert.Equal(t, []int64{1, 2}, toucher.calls[0])
	assert.Equal(t, now, toucher.at)

	assert.Equal(t, int64(5), r1.AccessCount)
	assert.Equal(t, int64(1), r2.AccessCount)
	assert.Equal(t, now, r1.AccessedAt)
}

func TestAccessTracker_UsesStoredCounts(t *testing.T) {
	// Another query touched record 1 twice between our search and our touch.
	toucher := &fakeToucher{counts: map[int64]int64{1: 7}}
	tracker := intelligence.NewAccessTracker(toucher, nil)

	r1 := candidate(1, 0.1, 3, 4)
	r2 := candidate(2, 0.1, 3, 0)
	require.NoError(t, tracker.Track(context.Background(),
		[]*intelligence.Scored{{Record: r1}, {Record: r2}}, now))

	assert.Equal(t, int64(7), r1.AccessCount)
	assert.Equal(t, int64(1), r2.AccessCount, "unreported record is incremented locally")
}

func TestAccessTracker_Empty(t *testing.T) {
	toucher := &fakeToucher{}
	tracker := intelligence.NewAccessTracker(toucher, nil)

	require.NoError(t, tracker.Track(context.Background(), nil, now))
	assert.Empty(t, toucher.calls)
}

func TestAccessTracker_PropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	toucher := &fakeToucher{err: boom}
	tracker := intelligence.NewAccessTracker(toucher, nil)

	r := &storage.Record{ID: 7, AccessCount: 2}
	err := tracker.Track(context.Background(), []*intelligence.Scored{{Record: r}}, now)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), r.AccessCount)
}
