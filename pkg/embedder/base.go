// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// enabling text-to-vector conversion for similarity search.
package embedder

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned by providers when the upstream API answered
// without any vectors.
var ErrEmptyResponse = errors.New("embedding provider returned no data")

// ErrRejected marks provider errors that will fail the same way on every
// retry, such as bad credentials or a malformed request. Providers wrap such
// errors with it so callers can stop retrying.
var ErrRejected = errors.New("embedding request rejected")

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI-compatible, mock) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, OpenAI's text-embedding-3-small produces 1536-dimensional vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
