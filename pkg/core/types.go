package core

import (
	"time"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// Tier is the retention class of a memory.
type Tier = storage.Tier

// Retention tiers.
const (
	// TierDurable memories are kept forever.
	TierDurable = storage.TierDurable

	// TierContextual memories describe goals and plans. They are kept forever
	// and only searched when asked for, or when a query mentions a goal.
	TierContextual = storage.TierContextual

	// TierEphemeral memories expire after the retention window.
	TierEphemeral = storage.TierEphemeral
)

// AccessCountKey is the attribute key the engine reserves for the access
// counter. Values supplied by callers under this key are ignored.
const AccessCountKey = "access_count"

// Attributes is an opaque bag of caller data stored with a memory.
type Attributes map[string]interface{}

// Memory represents a single memory stored in the system.
//
// Example:
//
//	memory, _ := client.AddMemory(ctx, "user_001", core.TierDurable,
//	    "User is allergic to peanuts", core.Attributes{"source": "chat"})
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// OwnerID identifies the user or agent who owns this memory.
	OwnerID string `json:"owner_id"`

	// Tier is the retention tier.
	Tier Tier `json:"tier"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Embedding is nil when no embedding could be produced at write time.
	Embedding []float64 `json:"embedding,omitempty"`

	// Attributes always carries AccessCountKey on memories read back from
	// the client.
	Attributes Attributes `json:"attributes,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// AccessedAt is when the memory was last returned by a query.
	AccessedAt time.Time `json:"accessed_at"`

	// AccessCount is how many queries have returned the memory.
	AccessCount int64 `json:"access_count"`

	// Similarity is the query similarity in [0, 1]. Query results only.
	Similarity float64 `json:"similarity,omitempty"`

	// Score is the hybrid ranking score. Query results only.
	Score float64 `json:"score,omitempty"`
}
