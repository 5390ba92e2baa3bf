// Package retrieval ingests user documents into the vector index and looks
// up context snippets for a question.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/ai"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/store"
	"github.com/Darknivht/agrisense-ai/pkg/vector"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrUnreadableFile      = errors.New("unreadable or corrupt file")
	ErrEmbeddingFailed     = errors.New("embedding service failed")
	ErrEmptyDocument       = errors.New("document contains no text")
)

// DefaultTopK is the number of snippets fed to the completion engine.
const DefaultTopK = 4

// DocumentStore is the slice of the Conversation Store retrieval needs.
type DocumentStore interface {
	SaveDocument(ctx context.Context, d domain.Document) error
	GetDocumentByHash(ctx context.Context, userID, hash string) (domain.Document, bool, error)
	CountDocuments(ctx context.Context, userID string) (int64, error)
}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Concurrency  int
	MaxFileBytes int64
}

// Service implements ingestion and query.
type Service struct {
	docs         DocumentStore
	index        vector.Index
	embedder     ai.Embedder
	chunkSize    int
	chunkOverlap int
	batchSize    int
	concurrency  int
	maxFileBytes int64
	now          func() time.Time
}

func New(docs DocumentStore, index vector.Index, embedder ai.Embedder, cfg Config) (*Service, error) {
	if docs == nil || index == nil || embedder == nil {
		return nil, errors.New("retrieval requires a store, an index and an embedder")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 16 << 20
	}
	return &Service{
		docs:         docs,
		index:        index,
		embedder:     embedder,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		maxFileBytes: cfg.MaxFileBytes,
		now:          time.Now,
	}, nil
}

// MaxFileBytes is the largest upload Ingest accepts.
func (s *Service) MaxFileBytes() int64 { return s.maxFileBytes }

// IngestRequest carries one uploaded file. DocumentID may be reserved by the
// caller; otherwise one is generated.
type IngestRequest struct {
	UserID     string
	DocumentID string
	Filename   string
	StorageKey string
	Data       []byte
}

// IngestResult reports the stored document. Duplicate is set when identical
// bytes had already been ingested for the user and nothing was embedded.
type IngestResult struct {
	Document  domain.Document
	Duplicate bool
}

// ContentHash is the hex sha256 used for per-user de-duplication.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ingest stores and embeds a file. No Document row is written unless every
// chunk made it into the index.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	logger := util.LoggerFromContext(ctx)
	if strings.TrimSpace(req.UserID) == "" {
		return IngestResult{}, errors.New("user id required")
	}
	fileType := FileType(req.Filename)
	if fileType == "" {
		return IngestResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, req.Filename)
	}
	if int64(len(req.Data)) > s.maxFileBytes {
		return IngestResult{}, fmt.Errorf("%w: file exceeds %d bytes", ErrUnreadableFile, s.maxFileBytes)
	}

	hash := ContentHash(req.Data)
	if existing, ok, err := s.docs.GetDocumentByHash(ctx, req.UserID, hash); err != nil {
		return IngestResult{}, fmt.Errorf("lookup document hash: %w", err)
	} else if ok {
		return IngestResult{Document: existing, Duplicate: true}, nil
	}

	text, err := Extract(req.Filename, req.Data)
	if err != nil {
		return IngestResult{}, err
	}
	parts := chunkText(text, s.chunkSize, s.chunkOverlap)
	if len(parts) == 0 {
		return IngestResult{}, ErrEmptyDocument
	}

	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		docID = util.NewID()
	}
	chunks := make([]vector.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = vector.Chunk{
			ID:         fmt.Sprintf("%s-%d", docID, i),
			UserID:     req.UserID,
			DocumentID: docID,
			Index:      i,
			Content:    part,
		}
	}
	if err := s.embedChunks(ctx, chunks); err != nil {
		return IngestResult{}, err
	}
	if err := s.index.Upsert(ctx, chunks); err != nil {
		return IngestResult{}, fmt.Errorf("%w: index chunks: %v", ErrEmbeddingFailed, err)
	}

	doc := domain.Document{
		ID:                docID,
		UserID:            req.UserID,
		Filename:          docID + "." + fileType,
		OriginalName:      req.Filename,
		FileType:          fileType,
		SizeBytes:         int64(len(req.Data)),
		ContentHash:       hash,
		StorageKey:        req.StorageKey,
		ChunkCount:        len(chunks),
		AgriculturalScore: AgriculturalScore(parts),
		Summary:           summarize(text, 280),
		CreatedAt:         s.now().UTC(),
	}
	if err := s.docs.SaveDocument(ctx, doc); err != nil {
		if cerr := s.index.DeleteDocument(ctx, req.UserID, docID); cerr != nil {
			logger.Warn("cleanup orphan chunks failed", "document_id", docID, "err", cerr)
		}
		if errors.Is(err, store.ErrDuplicateDocument) {
			if existing, ok, lerr := s.docs.GetDocumentByHash(ctx, req.UserID, hash); lerr == nil && ok {
				return IngestResult{Document: existing, Duplicate: true}, nil
			}
		}
		return IngestResult{}, fmt.Errorf("save document: %w", err)
	}
	logger.Info("document ingested", "document_id", docID, "user_id", req.UserID, "chunks", len(chunks), "file_type", fileType)
	return IngestResult{Document: doc}, nil
}

func (s *Service) embedChunks(ctx context.Context, chunks []vector.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Content
			}
			vecs, err := s.embedder.Embed(gctx, texts, ai.TaskDocument)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: got %d embeddings for %d chunks", ErrEmbeddingFailed, len(vecs), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// Snippet is a context chunk returned by Query.
type Snippet struct {
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Query returns up to k of the user's snippets, most similar first.
func (s *Service) Query(ctx context.Context, userID, text string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	text = strings.TrimSpace(text)
	if userID == "" || text == "" {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text}, ai.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: no query embedding", ErrEmbeddingFailed)
	}
	matches, err := s.index.Search(ctx, userID, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	out := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		out = append(out, Snippet{DocumentID: m.DocumentID, Content: m.Content, Score: m.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// HasDocuments reports whether the user has ingested anything.
func (s *Service) HasDocuments(ctx context.Context, userID string) (bool, error) {
	n, err := s.docs.CountDocuments(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IngestionError reports whether err is one of the per-upload failures.
func IngestionError(err error) bool {
	return errors.Is(err, ErrUnsupportedFileType) ||
		errors.Is(err, ErrUnreadableFile) ||
		errors.Is(err, ErrEmbeddingFailed) ||
		errors.Is(err, ErrEmptyDocument)
}

var agriculturalKeywords = []string{
	"farm", "crop", "plant", "soil", "water", "fertilizer", "fertiliser", "pest",
	"disease", "harvest", "yield", "seed", "irrigation", "weather", "rain", "drought",
	"market", "price", "livestock", "cattle", "poultry", "maize", "rice", "cassava",
	"tomato", "sorghum", "millet", "yam", "groundnut", "manure", "agricultur",
}

// AgriculturalScore is the share of chunks mentioning a farming keyword.
func AgriculturalScore(chunks []string) float64 {
	if len(chunks) == 0 {
		return 0
	}
	hits := 0
	for _, c := range chunks {
		lower := strings.ToLower(c)
		for _, kw := range agriculturalKeywords {
			if strings.Contains(lower, kw) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(chunks))
}

func summarize(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// LogIngestFailure logs an ingestion failure at the level its class deserves.
func LogIngestFailure(logger *slog.Logger, documentID string, err error) {
	if IngestionError(err) {
		logger.Warn("document ingestion rejected", "document_id", documentID, "err", err)
		return
	}
	logger.Error("document ingestion failed", "document_id", documentID, "err", err)
}
