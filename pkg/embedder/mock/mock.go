// Package mock provides a deterministic embedding provider for tests, demos
// and offline use.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// Embedder generates deterministic unit vectors from a hash of the text.
//
// Vectors for specific texts can be pinned with Set, and failures can be
// scripted with FailNext or SetError.
type Embedder struct {
	dimensions int

	mu        sync.Mutex
	fixed     map[string][]float64
	failNext  int
	failErr   error
	stickyErr error
	delay     time.Duration
	calls     int
}

// New creates a mock embedder producing vectors of the given size.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{
		dimensions: dimensions,
		fixed:      make(map[string][]float64),
	}
}

// Set pins the vector returned for text.
func (m *Embedder) Set(text string, vec []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed[text] = append([]float64(nil), vec...)
}

// FailNext makes the next n calls return err.
func (m *Embedder) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// SetError makes every call return err until it is reset with nil.
func (m *Embedder) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stickyErr = err
}

// SetDelay makes every call block for d or until ctx is done.
func (m *Embedder) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns the number of Embed calls made so far.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Embed returns the pinned vector for text, or a hash-derived unit vector.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	var err error
	switch {
	case m.stickyErr != nil:
		err = m.stickyErr
	case m.failNext > 0:
		m.failNext--
		err = m.failErr
	}
	fixed, ok := m.fixed[text]
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return append([]float64(nil), fixed...), nil
	}
	return m.hashVector(text), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Close is a no-op.
func (m *Embedder) Close() error {
	return nil
}

func (m *Embedder) hashVector(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, m.dimensions)
	var norm float64
	for i := range vec {
		// LCG step, mapped to [-1, 1].
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed)) / float64(math.MaxInt64)
		norm += vec[i] * vec[i]
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
