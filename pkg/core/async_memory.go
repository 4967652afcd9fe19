package core

import (
	"context"
	"sync"
)

// AsyncClient provides asynchronous RecallMem operations.
//
// It wraps the synchronous Client and runs each call in its own goroutine.
// Every method returns a channel that receives exactly one result and is
// then closed. Wait blocks until all started calls have finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.AddMemoryAsync(ctx, "user_001", core.TierDurable, "User likes Python", nil)
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous RecallMem client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// AddMemoryAsync adds a memory asynchronously.
func (ac *AsyncClient) AddMemoryAsync(ctx context.Context, ownerID string, tier Tier, content string, attrs Attributes) <-chan *MemoryResult {
	resultChan := make(chan *MemoryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		memory, err := ac.AddMemory(ctx, ownerID, tier, content, attrs)
		resultChan <- &MemoryResult{
			Memory: memory,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// QueryMemoriesAsync queries memories asynchronously.
func (ac *AsyncClient) QueryMemoriesAsync(ctx context.Context, ownerID, queryText string, opts ...QueryOption) <-chan *QueryResult {
	resultChan := make(chan *QueryResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		memories, err := ac.QueryMemories(ctx, ownerID, queryText, opts...)
		resultChan <- &QueryResult{
			Memories: memories,
			Error:    err,
		}
		close(resultChan)
	}()

	return resultChan
}

// PruneExpiredAsync runs a prune pass asynchronously.
func (ac *AsyncClient) PruneExpiredAsync(ctx context.Context) <-chan *PruneResult {
	resultChan := make(chan *PruneResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		n, err := ac.PruneExpired(ctx)
		resultChan <- &PruneResult{
			Deleted: n,
			Error:   err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait waits for all asynchronous operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

// MemoryResult contains the result of an asynchronous AddMemory call.
type MemoryResult struct {
	// Memory is the stored memory (nil if an error occurred).
	Memory *Memory

	// Error is the error returned by the operation.
	Error error
}

// QueryResult contains the result of an asynchronous QueryMemories call.
type QueryResult struct {
	// Memories are the ranked results.
	Memories []*Memory

	// Error is the error returned by the operation.
	Error error
}

// PruneResult contains the result of an asynchronous PruneExpired call.
type PruneResult struct {
	// Deleted is the number of expired memories removed.
	Deleted int64

	// Error is the error returned by the operation.
	Error error
}
