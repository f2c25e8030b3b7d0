package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/whisperengine-ai/whisperengine-go/internal/embedding"
)

// ErrEmbeddingTimeout indicates the embedding provider exceeded its
// deadline. EmbeddingError wraps it when the failure was a timeout.
var ErrEmbeddingTimeout = errors.New("embedding generation timed out")

// EmbeddingError indicates the embedding provider failed while processing
// a store or search operation.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed during %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError indicates the vector store failed during a write path.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failed during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SearchError indicates a retrieval operation failed. Empty results are
// never a SearchError; only infrastructure failures are.
type SearchError struct {
	Op  string
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed during %s: %v", e.Op, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// embeddingErr wraps a provider failure, normalizing provider timeouts to
// ErrEmbeddingTimeout so callers can test with errors.Is.
func embeddingErr(op string, err error) error {
	if errors.Is(err, embedding.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &EmbeddingError{Op: op, Err: fmt.Errorf("%w: %v", ErrEmbeddingTimeout, err)}
	}
	return &EmbeddingError{Op: op, Err: err}
}
