// Package intelligence provides the retrieval-time ranking logic: hybrid
// scoring of vector candidates by similarity, recency and access frequency,
// routing of queries to retention tiers, and access tracking.
package intelligence

import (
	"math"
	"sort"
	"time"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// DefaultSimilarityThreshold is the minimum similarity a candidate needs to
// survive ranking on the non-degraded path.
const DefaultSimilarityThreshold = 0.7

// Scored is a candidate record together with the components of its score.
type Scored struct {
	Record *storage.Record

	// Similarity is 1 - distance/2, or 1 on the degraded path.
	Similarity float64

	// TimeBoost is 1 + 1/ln(2 + days since last access).
	TimeBoost float64

	// FrequencyBoost is 1 + 0.1*ln(max(1, access_count)).
	FrequencyBoost float64

	// Score is Similarity * TimeBoost * FrequencyBoost.
	Score float64
}

// RankOptions controls a single Rank call.
type RankOptions struct {
	// Threshold drops candidates whose similarity is below it.
	// Ignored when Degraded is set.
	Threshold float64

	// Limit truncates the ranked list. Non-positive means no truncation.
	Limit int

	// Degraded marks candidates that came from the recency fallback and
	// carry no distance.
	Degraded bool

	// Now is the reference time for recency.
	Now time.Time
}

// HybridScorer re-ranks vector search candidates.
//
// The score of a candidate is its cosine similarity, boosted by how recently
// it was accessed and by how often it has been returned before:
//
//	s               = 1 - d/2
//	time_boost      = 1 + 1/ln(2 + days)
//	frequency_boost = 1 + 0.1*ln(max(1, access_count))
//	score           = s * time_boost * frequency_boost
//
// Example usage:
//
//	scorer := NewHybridScorer()
//	ranked := scorer.Rank(candidates, RankOptions{Threshold: 0.7, Limit: 10, Now: time.Now()})
type HybridScorer struct{}

// NewHybridScorer creates a new scorer.
func NewHybridScorer() *HybridScorer {
	return &HybridScorer{}
}

// Similarity converts a cosine distance in [0, 2] to a similarity in [0, 1].
func Similarity(distance float64) float64 {
	return 1 - distance/2
}

// TimeBoost returns the recency multiplier for a record last accessed
// daysSinceAccess days ago. Negative inputs are treated as zero, so the boost
// lies in (1, 1+1/ln 2] and decreases strictly with age.
func TimeBoost(daysSinceAccess float64) float64 {
	if daysSinceAccess < 0 || math.IsNaN(daysSinceAccess) {
		daysSinceAccess = 0
	}
	return 1 + 1/math.Log(2+daysSinceAccess)
}

// FrequencyBoost returns the access-frequency multiplier. Counts below one
// are treated as one, so a never-accessed record gets exactly 1.
func FrequencyBoost(accessCount int64) float64 {
	n := accessCount
	if n < 1 {
		n = 1
	}
	return 1 + 0.1*math.Log(float64(n))
}

// DaysSince returns the fractional number of days from t to now, never
// negative.
func DaysSince(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Score computes the hybrid score of one candidate.
func (s *HybridScorer) Score(r *storage.Record, degraded bool, now time.Time) *Scored {
	similarity := 1.0
	if !degraded {
		similarity = Similarity(r.Distance)
	}
	tb := TimeBoost(DaysSince(r.AccessedAt, now))
	fb := FrequencyBoost(r.AccessCount)

	return &Scored{
		Record:         r,
		Similarity:     similarity,
		TimeBoost:      tb,
		FrequencyBoost: fb,
		Score:          similarity * tb * fb,
	}
}

// Rank filters, scores and orders candidates.
//
// Order is score descending, then accessed_at descending, then ID ascending,
// which makes the result deterministic for equal inputs.
func (s *HybridScorer) Rank(candidates []*storage.Record, opts RankOptions) []*Scored {
	ranked := make([]*Scored, 0, len(candidates))
	for _, c := range candidates {
		scored := s.Score(c, opts.Degraded, opts.Now)
		if !opts.Degraded && scored.Similarity < opts.Threshold {
			continue
		}
		ranked = append(ranked, scored)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.AccessedAt.Equal(b.Record.AccessedAt) {
			return a.Record.AccessedAt.After(b.Record.AccessedAt)
		}
		return a.Record.ID < b.Record.ID
	})

	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	return ranked
}
