// Package vector stores document chunk embeddings and answers
// nearest-neighbour queries scoped to one user.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when an embedding has the wrong length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Chunk is one embedded piece of a user's document.
type Chunk struct {
	ID         string
	UserID     string
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
}

// Match is a search hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Score      float64
}

// Index is the vector store. Search never returns chunks of other users.
type Index interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, userID string, embedding []float32, k int) ([]Match, error)
	DeleteDocument(ctx context.Context, userID, documentID string) error
}
