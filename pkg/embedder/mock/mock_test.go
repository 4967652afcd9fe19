package mock_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/embedder/mock"
)

func TestEmbedder_Deterministic(t *testing.T) {
	m := mock.New(16)
	ctx := context.Background()

	a, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	c, err := m.Embed(ctx, "world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
	assert.Equal(t, 3, m.Calls())
}

func TestEmbedder_PinnedAndFailures(t *testing.T) {
	m := mock.New(3)
	ctx := context.Background()
	m.Set("x", []float64{1, 0, 0})

	v, err := m.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, v)

	boom := errors.New("boom")
	m.FailNext(2, boom)
	_, err = m.Embed(ctx, "x")
	assert.ErrorIs(t, err, boom)
	_, err = m.Embed(ctx, "x")
	assert.ErrorIs(t, err, boom)
	_, err = m.Embed(ctx, "x")
	assert.NoError(t, err)

	m.SetError(boom)
	_, err = m.Embed(ctx, "y")
	assert.ErrorIs(t, err, boom)
	m.SetError(nil)
	_, err = m.Embed(ctx, "y")
	assert.NoError(t, err)
}

func TestEmbedder_DelayHonoursContext(t *testing.T) {
	m := mock.New(3)
	m.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Embed(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
