// Package retention deletes expired ephemeral memory records.
//
// A Pruner performs one bounded, retried deletion pass. A Scheduler runs the
// pruner once a day at a fixed wall-clock time.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultWindow is how long ephemeral records are kept.
const DefaultWindow = 30 * 24 * time.Hour

// Deleter is the slice of storage.Store the pruner needs. Implementations
// must only ever delete ephemeral records.
type Deleter interface {
	DeleteEphemeralOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes a Pruner. Zero values select the defaults noted per field.
type Config struct {
	// Window is the ephemeral retention window. Default: 30 days
	Window time.Duration

	// MaxDuration bounds one Prune call including retries. Default: 30m
	MaxDuration time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3. Negative disables retries.
	MaxRetries int

	// InitialBackoff is the first retry delay; later delays double. Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps a single retry delay. Default: 4s
	MaxBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Minute
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
}

// Option configures a Pruner or Scheduler.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Pruner deletes ephemeral records older than the retention window.
type Pruner struct {
	store  Deleter
	cfg    Config
	clock  func() time.Time
	logger *zap.Logger
}

// NewPruner creates a pruner over store.
func NewPruner(store Deleter, cfg Config, logger *zap.Logger, opts ...Option) *Pruner {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	o := applyOptions(opts)
	return &Pruner{
		store:  store,
		cfg:    cfg,
		clock:  o.clock,
		logger: logger.With(zap.String("component", "retention")),
	}
}

// Window returns the configured retention window.
func (p *Pruner) Window() time.Duration {
	return p.cfg.Window
}

// Cutoff returns the creation time before which ephemeral records expire.
func (p *Pruner) Cutoff() time.Time {
	return p.clock().Add(-p.cfg.Window)
}

// Prune runs one deletion pass and returns the number of records removed.
//
// The cutoff is fixed when the pass starts, so retries delete against the
// same boundary. Running Prune twice in a row removes nothing the second time.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.MaxDuration)
	defer cancel()

	cutoff := p.Cutoff()
	start := p.clock()

	var (
		deleted  int64
		attempts int
	)
	operation := func() error {
		attempts++
		n, err := p.store.DeleteEphemeralOlderThan(ctx, cutoff)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		deleted = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("prune attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxRetries)), ctx), notify)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.logger.Error("prune exceeded max duration",
				zap.Duration("max_duration", p.cfg.MaxDuration),
				zap.Int("attempts", attempts))
		} else {
			p.logger.Error("prune failed",
				zap.Time("cutoff", cutoff),
				zap.Int("attempts", attempts),
				zap.Error(err))
		}
		return 0, err
	}

	p.logger.Info("pruned expired ephemeral memories",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", p.clock().Sub(start)))
	return deleted, nil
}
