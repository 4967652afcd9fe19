// Package resilient wraps an embedder.Provider so that callers never see an
// embedding failure. Calls are rate limited, retried with exponential backoff,
// bounded by timeouts and guarded by a circuit breaker. When everything fails
// the adapter reports "no embedding" instead of an error.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oceanbase/recallmem-go/pkg/embedder"
)

var (
	// ErrCircuitOpen is logged when the breaker rejects a call.
	ErrCircuitOpen = errors.New("embedding circuit breaker is open")

	// ErrDimensionMismatch is logged when the provider returns a vector of
	// the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Config tunes the adapter. Zero values select the defaults noted per field.
type Config struct {
	// Dimensions is the expected vector length. Zero trusts the provider's
	// Dimensions().
	Dimensions int

	// MaxInputRunes truncates longer input. Default: 8192
	MaxInputRunes int

	// PreviewRunes bounds how much of the input reaches the logs. Default: 32
	PreviewRunes int

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3. Negative disables retries.
	MaxRetries int

	// InitialBackoff is the first retry delay; each later delay doubles.
	// Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps a single retry delay. Default: 4s
	MaxBackoff time.Duration

	// AttemptTimeout bounds one provider call. Default: 3s
	AttemptTimeout time.Duration

	// CallTimeout bounds a whole Embed call including retries. Default: 10s
	CallTimeout time.Duration

	// RequestsPerSecond limits provider calls. Zero means unlimited.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Default: 1
	Burst int

	// BreakerFailures consecutive failed attempts open the breaker. Default: 5
	BreakerFailures uint32

	// BreakerCooldown is how long the breaker stays open. Default: 30s
	BreakerCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxInputRunes <= 0 {
		c.MaxInputRunes = 8192
	}
	if c.PreviewRunes <= 0 {
		c.PreviewRunes = 32
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 4 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 3 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Adapter is a failure-absorbing embedding front end.
type Adapter struct {
	provider embedder.Provider
	cfg      Config
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// New wraps provider. A nil logger disables logging.
func New(provider embedder.Provider, cfg Config, logger *zap.Logger) *Adapter {
	cfg.applyDefaults()
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = provider.Dimensions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	a := &Adapter{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		logger:   logger.With(zap.String("component", "embedder")),
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return a
}

// Dimensions returns the vector length the adapter accepts.
func (a *Adapter) Dimensions() int {
	return a.cfg.Dimensions
}

// Close closes the wrapped provider.
func (a *Adapter) Close() error {
	return a.provider.Close()
}

// Embed returns the embedding of text and true, or nil and false when no
// embedding could be produced. It never returns an error.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float64, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	text = Truncate(text, a.cfg.MaxInputRunes)
	preview := Preview(text, a.cfg.PreviewRunes)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	var (
		vec      []float64
		attempts int
	)
	operation := func() error {
		attempts++
		if err := a.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		out, err := a.breaker.Execute(func() (interface{}, error) {
			attemptCtx, attemptCancel := context.WithTimeout(ctx, a.cfg.AttemptTimeout)
			defer attemptCancel()

			v, err := a.provider.Embed(attemptCtx, text)
			if err != nil {
				return nil, err
			}
			if len(v) != a.cfg.Dimensions {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), a.cfg.Dimensions)
			}
			return v, nil
		})
		switch {
		case err == nil:
			vec = out.([]float64)
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case errors.Is(err, ErrDimensionMismatch), errors.Is(err, embedder.ErrRejected):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		a.logger.Warn("embedding attempt failed, retrying",
			zap.String("preview", preview),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(a.newBackOff(), ctx), notify)
	if err != nil {
		a.logger.Warn("embedding unavailable, storing without vector",
			zap.String("preview", preview),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (a *Adapter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = a.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(a.cfg.MaxRetries))
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// Preview returns a log-safe prefix of s.
func Preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return Truncate(s, max) + "..."
}
