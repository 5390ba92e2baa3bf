package vector

import (
	"context"
	"testing"
)

func TestChromemSearchIsScopedToUser(t *testing.T) {
	ctx := context.Background()
	idx, err := NewChromem("")
	if err != nil {
		t.Fatalf("new chromem: %v", err)
	}
	chunks := []Chunk{
		{ID: "a-0", UserID: "alice", DocumentID: "doc-a", Index: 0, Content: "maize urea", Embedding: []float32{1, 0, 0}},
		{ID: "a-1", UserID: "alice", DocumentID: "doc-a", Index: 1, Content: "maize spacing", Embedding: []float32{0.8, 0.6, 0}},
		{ID: "b-0", UserID: "bob", DocumentID: "doc-b", Index: 0, Content: "bob secret", Embedding: []float32{1, 0, 0}},
	}
	if err := idx.Upsert(ctx, chunks); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := idx.Search(ctx, "alice", []float32{1, 0, 0}, 4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches clamped to alice's chunks, got %d", len(got))
	}
	if got[0].ID != "a-0" || got[0].Score < got[1].Score {
		t.Fatalf("matches not ordered by similarity: %+v", got)
	}
	for _, m := range got {
		if m.DocumentID != "doc-a" {
			t.Fatalf("leaked chunk from another user: %+v", m)
		}
	}

	if got, _ := idx.Search(ctx, "carol", []float32{1, 0, 0}, 4); len(got) != 0 {
		t.Fatalf("unknown user should have no matches, got %d", len(got))
	}

	if err := idx.DeleteDocument(ctx, "alice", "doc-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := idx.Search(ctx, "alice", []float32{1, 0, 0}, 4); len(got) != 0 {
		t.Fatalf("expected no matches after delete, got %d", len(got))
	}
	if got, _ := idx.Search(ctx, "bob", []float32{1, 0, 0}, 4); len(got) != 1 {
		t.Fatalf("bob's chunks must survive alice's delete, got %d", len(got))
	}
}

func TestChromemRejectsChunksWithoutEmbedding(t *testing.T) {
	idx, _ := NewChromem("")
	err := idx.Upsert(context.Background(), []Chunk{{ID: "x", UserID: "u", DocumentID: "d", Content: "text"}})
	if err == nil {
		t.Fatalf("expected error for chunk without embedding")
	}
}
