package intelligence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// Toucher is the slice of storage.Store the tracker needs.
type Toucher interface {
	Touch(ctx context.Context, ids []int64, at time.Time) (map[int64]int64, error)
}

// AccessTracker records that records were returned to a caller.
type AccessTracker struct {
	store  Toucher
	logger *zap.Logger
}

// NewAccessTracker creates a tracker writing to store.
func NewAccessTracker(store Toucher, logger *zap.Logger) *AccessTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessTracker{store: store, logger: logger}
}

// Track touches every record in ranked exactly once and mirrors the update
// onto the in-memory records. Each record takes the access count the store
// wrote, so concurrent queries never see a stale count. A record the store
// did not report, for example one deleted in the meantime, is incremented
// locally. An empty list is a no-op.
func (t *AccessTracker) Track(ctx context.Context, ranked []*Scored, now time.Time) error {
	if len(ranked) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(ranked))
	ids := make([]int64, 0, len(ranked))
	records := make([]*storage.Record, 0, len(ranked))
	for _, s := range ranked {
		if _, dup := seen[s.Record.ID]; dup {
			continue
		}
		seen[s.Record.ID] = struct{}{}
		ids = append(ids, s.Record.ID)
		records = append(records, s.Record)
	}

	counts, err := t.store.Touch(ctx, ids, now)
	if err != nil {
		return err
	}

	for _, r := range records {
		applyTouch(r, counts, now)
	}
	t.logger.Debug("tracked access", zap.Int("records", len(ids)))
	return nil
}

func applyTouch(r *storage.Record, counts map[int64]int64, now time.Time) {
	if n, ok := counts[r.ID]; ok {
		r.AccessCount = n
	} else {
		r.AccessCount++
	}
	r.AccessedAt = now
}
