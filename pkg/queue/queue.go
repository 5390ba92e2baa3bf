// Package queue defers document ingestion to a background worker.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Task describes an uploaded file waiting to be ingested. DocumentID is
// reserved at upload time so the caller can poll for it.
type Task struct {
	DocumentID  string `json:"documentId"`
	UserID      string `json:"userId"`
	Filename    string `json:"filename"`
	StorageKey  string `json:"storageKey"`
	ContentType string `json:"contentType,omitempty"`
}

// Job is a task plus its processing state.
type Job struct {
	Task
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ResultID     string    `json:"resultId,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler ingests one job and returns the stored document id, which differs
// from the reserved id when the upload duplicated an existing document.
type Handler func(ctx context.Context, job Job) (string, error)

// Queue accepts tasks and feeds them to workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) (Job, error)
	// Run consumes jobs until ctx is cancelled.
	Run(ctx context.Context, concurrency int, handler Handler) error
	Close() error
}

// Tracker is implemented by queues that keep per-job status.
type Tracker interface {
	GetJob(ctx context.Context, documentID string) (Job, bool, error)
}

func validateTask(task Task) error {
	switch {
	case strings.TrimSpace(task.DocumentID) == "":
		return errors.New("document id required")
	case strings.TrimSpace(task.UserID) == "":
		return errors.New("user id required")
	case strings.TrimSpace(task.StorageKey) == "":
		return errors.New("storage key required")
	}
	return nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retryable reports whether a handler error may succeed on another attempt.
func Retryable(err error) bool {
	var p permanentError
	return !errors.As(err, &p)
}
