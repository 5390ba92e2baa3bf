package vector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
)

var errNoEmbeddingFunc = errors.New("chunks must carry precomputed embeddings")

// Chromem is an embedded index backed by chromem-go. Each user gets a
// separate collection, so a query can only ever see that user's chunks.
type Chromem struct {
	db *chromem.DB
}

// NewChromem opens an index. An empty path keeps everything in memory;
// otherwise collections persist under path.
func NewChromem(path string) (*Chromem, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Chromem{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &Chromem{db: db}, nil
}

func collectionName(userID string) string {
	return "user-" + userID
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Upsert adds chunks; chunks are grouped per user collection.
func (c *Chromem) Upsert(ctx context.Context, chunks []Chunk) error {
	byUser := make(map[string][]chromem.Document)
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %s: %w", ch.ID, errNoEmbeddingFunc)
		}
		byUser[ch.UserID] = append(byUser[ch.UserID], chromem.Document{
			ID:        ch.ID,
			Content:   ch.Content,
			Embedding: ch.Embedding,
			Metadata: map[string]string{
				"user_id":     ch.UserID,
				"document_id": ch.DocumentID,
				"chunk_index": strconv.Itoa(ch.Index),
			},
		})
	}
	for userID, docs := range byUser {
		col, err := c.db.GetOrCreateCollection(collectionName(userID), nil, refuseEmbedding)
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("add chunks: %w", err)
		}
	}
	return nil
}

// Search returns up to k of the user's chunks, most similar first.
func (c *Chromem) Search(ctx context.Context, userID string, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	col := c.db.GetCollection(collectionName(userID), refuseEmbedding)
	if col == nil {
		return nil, nil
	}
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	out := make([]Match, 0, len(results))
	for _, r := range results {
		idx, _ := strconv.Atoi(r.Metadata["chunk_index"])
		out = append(out, Match{
			ID:         r.ID,
			DocumentID: r.Metadata["document_id"],
			Index:      idx,
			Content:    r.Content,
			Score:      float64(r.Similarity),
		})
	}
	return out, nil
}

// DeleteDocument removes every chunk of one document.
func (c *Chromem) DeleteDocument(ctx context.Context, userID, documentID string) error {
	col := c.db.GetCollection(collectionName(userID), refuseEmbedding)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, map[string]string{"document_id": documentID}, nil)
}
