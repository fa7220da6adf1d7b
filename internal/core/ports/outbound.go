package ports

import (
	"context"
	"io"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

// DocumentRepository persists and reads document state in the primary store.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// FindByFingerprint returns the newest non-failed document carrying the
	// fingerprint, or ErrDocumentNotFound.
	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Document, error)
	// UpdateStatus moves a document to status; a nil failure clears the error
	// fields, a non-nil one records the class and message.
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, failure *domain.Failure) error
	// SavePartialOutputs retains whatever enrichment sub-steps succeeded
	// without touching status or error fields.
	SavePartialOutputs(ctx context.Context, id string, res domain.EnrichmentResults) error
	// SaveResults writes the full payload and moves the document to completed
	// in a single update. This is the call the write-resilience layer guards.
	SaveResults(ctx context.Context, id string, res domain.EnrichmentResults) error
	// RecordFailedAttempt marks the document failed, increments the retry
	// count and sets the next-retry-eligible time.
	RecordFailedAttempt(ctx context.Context, id string, failure domain.Failure, retryCount int, nextRetryAt time.Time) error
	// ResetForRetry moves a failed document back to ready, clearing error
	// flags while preserving previously retained outputs.
	ResetForRetry(ctx context.Context, id string) error
	// SaveRecovery attaches a recovery record to the document metadata and
	// sets the write-failure flags (failed, db_write_failed,
	// ai_processing_succeeded, ai_results_pending).
	SaveRecovery(ctx context.Context, id string, rec domain.RecoveryRecord) error
	// LoadRecovery returns the attached recovery record, or nil when absent.
	LoadRecovery(ctx context.Context, id string) (*domain.RecoveryRecord, error)
	// ClearRecovery removes the recovery record and write-failure flags after
	// a successful recovery.
	ClearRecovery(ctx context.Context, id string) error
	// ListRetryEligible returns ids of failed documents whose cool-down has
	// passed and whose failure class is retryable.
	ListRetryEligible(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// ObjectStorage stores source bytes and standalone recovery artifacts, as a
// channel independent of the primary store.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue hands admitted documents to the asynchronous processor.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Enricher is the call contract of the external AI provider. Errors carry a
// domain kind: ErrServiceUnavailable for quota/auth conditions,
// ErrCritical for unexpected or malformed provider behavior.
type Enricher interface {
	Summarize(ctx context.Context, text string) (string, error)
	RenderMarkdown(ctx context.Context, text string) (string, error)
	SuggestTags(ctx context.Context, text string) ([]string, error)
	Classify(ctx context.Context, text string) (string, error)
	ExtractFields(ctx context.Context, text string) (map[string]string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FallbackTagger produces rule-based tags when the provider cannot; tags are
// never left empty.
type FallbackTagger interface {
	Tags(text string) []string
}

// ChunkSplitter cuts file bytes into fixed-size transfer chunks. Total tells
// a receiver how many chunks to expect for a given size.
type ChunkSplitter interface {
	Total(size int64) int
	Split(data []byte) [][]byte
}

// AdmissionStore is the mutual-exclusion boundary for in-flight ingestions.
// Admit is an atomic check-and-set: it either claims the fingerprint for
// ownerID or reports the current holder.
type AdmissionStore interface {
	Admit(ctx context.Context, fingerprint, ownerID string) (admitted bool, holder string, err error)
	Release(ctx context.Context, fingerprint, ownerID string) error
	Holder(ctx context.Context, fingerprint string) (string, bool, error)
}

// IdempotencyStore caches replayable responses of completed keyed requests.
// Get returns (nil, nil) when no live record exists.
type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (*domain.IdempotencyRecord, error)
	Put(ctx context.Context, key string, rec domain.IdempotencyRecord) error
	// Evict drops expired records and returns how many were removed.
	Evict(ctx context.Context, now time.Time) (int, error)
}
