package core

import (
	"github.com/oceanbase/recallmem-go/pkg/intelligence"
	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// toStorageAttributes copies caller attributes, dropping the reserved
// access counter key.
func toStorageAttributes(attrs Attributes) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if k == AccessCountKey {
			continue
		}
		out[k] = v
	}
	return out
}

// toMemory converts a storage record to a Memory, merging the access
// counter into the attribute bag.
func toMemory(r *storage.Record) *Memory {
	if r == nil {
		return nil
	}
	attrs := make(Attributes, len(r.Attributes)+1)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs[AccessCountKey] = r.AccessCount

	return &Memory{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Tier:        r.Tier,
		Content:     r.Content,
		Embedding:   r.Embedding,
		Attributes:  attrs,
		CreatedAt:   r.CreatedAt,
		AccessedAt:  r.AccessedAt,
		AccessCount: r.AccessCount,
	}
}

// toMemories converts ranked results. The returned slice is never nil.
func toMemories(ranked []*intelligence.Scored) []*Memory {
	out := make([]*Memory, 0, len(ranked))
	for _, s := range ranked {
		m := toMemory(s.Record)
		m.Similarity = s.Similarity
		m.Score = s.Score
		out = append(out, m)
	}
	return out
}
