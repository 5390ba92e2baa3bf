// Package ingest accepts uploaded documents and either embeds them inline or
// hands them to the background indexer.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/Darknivht/agrisense-ai/internal/retrieval"
	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/queue"
	"github.com/Darknivht/agrisense-ai/pkg/storage"
)

// Ingester is the part of the retrieval module the pipeline drives.
type Ingester interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (retrieval.IngestResult, error)
	MaxFileBytes() int64
}

// DocumentLookup reads stored documents.
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
}

// Pipeline routes uploads to inline ingestion or to the job queue.
type Pipeline struct {
	ingester Ingester
	docs     DocumentLookup
	objects  storage.ObjectStore
	queue    queue.Queue
	tracker  queue.Tracker
}

// Config wires the pipeline. Queue is optional; without it uploads are
// ingested before Submit returns. Objects is required with a queue.
type Config struct {
	Ingester Ingester
	Docs     DocumentLookup
	Objects  storage.ObjectStore
	Queue    queue.Queue
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Ingester == nil {
		return nil, errors.New("ingester required")
	}
	if cfg.Docs == nil {
		return nil, errors.New("document store required")
	}
	if cfg.Queue != nil && cfg.Objects == nil {
		return nil, errors.New("object storage required for deferred ingestion")
	}
	p := &Pipeline{ingester: cfg.Ingester, docs: cfg.Docs, objects: cfg.Objects, queue: cfg.Queue}
	if tracker, ok := cfg.Queue.(queue.Tracker); ok {
		p.tracker = tracker
	}
	return p, nil
}

// Deferred reports whether uploads go through the queue.
func (p *Pipeline) Deferred() bool { return p.queue != nil }

// Submission is the outcome of an upload.
type Submission struct {
	DocumentID string                `json:"document_id"`
	Status     domain.DocumentStatus `json:"status"`
	Duplicate  bool                  `json:"duplicate,omitempty"`
}

// Submit validates an upload, keeps the original bytes in object storage
// when available, and ingests or enqueues it. Ingestion failures surface as
// the retrieval sentinel errors.
func (p *Pipeline) Submit(ctx context.Context, userID, filename string, data []byte) (Submission, error) {
	if strings.TrimSpace(userID) == "" {
		return Submission{}, errors.New("user id required")
	}
	ext := retrieval.FileType(filename)
	if ext == "" {
		return Submission{}, fmt.Errorf("%w: %q", retrieval.ErrUnsupportedFileType, filename)
	}
	if int64(len(data)) > p.ingester.MaxFileBytes() {
		return Submission{}, fmt.Errorf("%w: file exceeds %d bytes", retrieval.ErrUnreadableFile, p.ingester.MaxFileBytes())
	}
	if len(data) == 0 {
		return Submission{}, fmt.Errorf("%w: empty upload", retrieval.ErrEmptyDocument)
	}

	docID := util.NewID()
	key := StorageKey(userID, docID, ext)
	contentType := mime.TypeByExtension(ext)
	if p.objects != nil {
		if err := p.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return Submission{}, fmt.Errorf("store upload: %w", err)
		}
	} else {
		key = ""
	}

	if p.queue != nil {
		_, err := p.queue.Enqueue(ctx, queue.Task{
			DocumentID:  docID,
			UserID:      userID,
			Filename:    filename,
			StorageKey:  key,
			ContentType: contentType,
		})
		if err != nil {
			p.discard(ctx, key)
			return Submission{}, fmt.Errorf("enqueue ingestion: %w", err)
		}
		util.LoggerFromContext(ctx).Info("document queued", "document_id", docID, "user_id", userID)
		return Submission{DocumentID: docID, Status: domain.DocumentQueued}, nil
	}

	res, err := p.ingester.Ingest(ctx, retrieval.IngestRequest{
		UserID:     userID,
		DocumentID: docID,
		Filename:   filename,
		StorageKey: key,
		Data:       data,
	})
	if err != nil {
		p.discard(ctx, key)
		return Submission{}, err
	}
	if res.Duplicate {
		p.discard(ctx, key)
	}
	return Submission{DocumentID: res.Document.ID, Status: domain.DocumentProcessed, Duplicate: res.Duplicate}, nil
}

func (p *Pipeline) discard(ctx context.Context, key string) {
	if p.objects == nil || key == "" {
		return
	}
	if err := p.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		util.LoggerFromContext(ctx).Warn("discard upload failed", "key", key, "err", err)
	}
}

// StorageKey is where the original bytes of a document are kept.
func StorageKey(userID, docID, ext string) string {
	return "documents/" + userID + "/" + docID + ext
}

// State describes a document for the status endpoint.
type State struct {
	DocumentID string                `json:"document_id"`
	Status     domain.DocumentStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
	Document   *domain.Document      `json:"document,omitempty"`
}

// Status reports a stored document or the state of its ingestion job.
// Documents and jobs owned by other users are reported as missing.
func (p *Pipeline) Status(ctx context.Context, userID, docID string) (State, bool, error) {
	doc, ok, err := p.ownedDocument(ctx, userID, docID)
	if err != nil {
		return State{}, false, err
	}
	if ok {
		return State{DocumentID: doc.ID, Status: domain.DocumentProcessed, Document: &doc}, true, nil
	}
	if p.tracker == nil {
		return State{}, false, nil
	}
	job, ok, err := p.tracker.GetJob(ctx, docID)
	if err != nil || !ok || job.UserID != userID {
		return State{}, false, err
	}
	st := State{DocumentID: docID}
	switch job.Status {
	case queue.StatusDone:
		st.Status = domain.DocumentProcessed
		if job.ResultID != "" {
			st.DocumentID = job.ResultID
			if doc, ok, err := p.ownedDocument(ctx, userID, job.ResultID); err == nil && ok {
				st.Document = &doc
			}
		}
	case queue.StatusProcessing:
		st.Status = domain.DocumentProcessing
	case queue.StatusFailed:
		st.Status = domain.DocumentFailed
		st.Error = job.ErrorMessage
	default:
		st.Status = domain.DocumentQueued
	}
	return st, true, nil
}

func (p *Pipeline) ownedDocument(ctx context.Context, userID, docID string) (domain.Document, bool, error) {
	doc, ok, err := p.docs.GetDocument(ctx, docID)
	if err != nil || !ok || doc.UserID != userID {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

// Handle is the queue handler run by the indexer: it reads the stored
// upload and runs the same ingestion as the inline path. Failures that
// cannot succeed on retry are marked permanent.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job) (string, error) {
	if p.objects == nil {
		return "", queue.Permanent(errors.New("object storage not configured"))
	}
	rc, err := p.objects.Get(ctx, job.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", queue.Permanent(fmt.Errorf("upload %s missing: %w", job.StorageKey, err))
	}
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(rc, p.ingester.MaxFileBytes()+1))
	_ = rc.Close()
	if err != nil {
		return "", err
	}
	filename := job.Filename
	if filename == "" {
		filename = filepath.Base(job.StorageKey)
	}
	res, err := p.ingester.Ingest(ctx, retrieval.IngestRequest{
		UserID:     job.UserID,
		DocumentID: job.DocumentID,
		Filename:   filename,
		StorageKey: job.StorageKey,
		Data:       data,
	})
	if err != nil {
		retrieval.LogIngestFailure(util.LoggerFromContext(ctx), job.DocumentID, err)
		if retrieval.IngestionError(err) {
			return "", queue.Permanent(err)
		}
		return "", err
	}
	if res.Duplicate {
		p.discard(ctx, job.StorageKey)
	}
	return res.Document.ID, nil
}
