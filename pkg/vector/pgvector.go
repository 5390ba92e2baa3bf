package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkModel is the pgvector-backed chunk row.
type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	UserID     string           `gorm:"not null;index"`
	DocumentID string           `gorm:"not null;index"`
	ChunkIndex int              `gorm:"not null"`
	Content    string           `gorm:"type:text;not null"`
	Embedding  *pgvector.Vector `gorm:"type:vector"`
	CreatedAt  time.Time        `gorm:"not null"`
}

func (ChunkModel) TableName() string { return "document_chunks" }

// PgVector stores chunks in Postgres with the pgvector extension and ranks
// them by cosine distance.
type PgVector struct {
	db  *gorm.DB
	dim int
}

// NewPgVector migrates the chunk table on db with a fixed dimension.
func NewPgVector(db *gorm.DB, dim int) (*PgVector, error) {
	if db == nil {
		return nil, errors.New("pgvector requires a database")
	}
	if dim <= 0 {
		return nil, errors.New("pgvector requires a positive embedding dimension")
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&ChunkModel{}); err != nil {
		return nil, fmt.Errorf("migrate chunks: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("ALTER TABLE document_chunks ALTER COLUMN embedding TYPE vector(%d)", dim)).Error; err != nil {
		return nil, fmt.Errorf("set embedding dimension: %w", err)
	}
	return &PgVector{db: db, dim: dim}, nil
}

// Upsert writes chunks, replacing rows with the same ID.
func (p *PgVector) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]ChunkModel, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) != p.dim {
			return fmt.Errorf("chunk %s: %w: got %d want %d", ch.ID, ErrDimensionMismatch, len(ch.Embedding), p.dim)
		}
		vec := pgvector.NewVector(ch.Embedding)
		models = append(models, ChunkModel{
			ID:         ch.ID,
			UserID:     ch.UserID,
			DocumentID: ch.DocumentID,
			ChunkIndex: ch.Index,
			Content:    ch.Content,
			Embedding:  &vec,
			CreatedAt:  now,
		})
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "embedding", "chunk_index"}),
	}).CreateInBatches(&models, 200).Error
}

type scoredChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float64
}

// Search ranks the user's chunks by cosine distance.
func (p *PgVector) Search(ctx context.Context, userID string, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != p.dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(embedding), p.dim)
	}
	vec := pgvector.NewVector(embedding)
	var rows []scoredChunk
	err := p.db.WithContext(ctx).Model(&ChunkModel{}).
		Select("id, document_id, chunk_index, content, 1 - (embedding <=> ?) AS score", vec).
		Where("user_id = ?", userID).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		out = append(out, Match{ID: r.ID, DocumentID: r.DocumentID, Index: r.ChunkIndex, Content: r.Content, Score: r.Score})
	}
	return out, nil
}

// DeleteDocument removes a document's chunks.
func (p *PgVector) DeleteDocument(ctx context.Context, userID, documentID string) error {
	return p.db.WithContext(ctx).Where("user_id = ? AND document_id = ?", userID, documentID).Delete(&ChunkModel{}).Error
}
