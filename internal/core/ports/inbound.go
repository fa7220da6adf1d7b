package ports

import (
	"context"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

// DocumentUploader is the inbound contract of the upload coordinator.
type DocumentUploader interface {
	UploadBatch(ctx context.Context, files []domain.FileInput, folderFor func(filename string) string) (*domain.BatchResult, error)
	PutChunk(ctx context.Context, chunk domain.ChunkUpload) (*domain.ChunkReceipt, error)
	CheckDuplicate(ctx context.Context, fingerprint string) (*domain.DuplicateCheck, error)
}

// DocumentProcessor drives the per-document state machine.
type DocumentProcessor interface {
	// ProcessByID advances a queued document; failed documents are skipped
	// until their cool-down has passed.
	ProcessByID(ctx context.Context, documentID string) error
	// Trigger is the explicit re-process action: it resets a failed document
	// to ready first and reports the resulting status.
	Trigger(ctx context.Context, documentID string) (domain.DocumentStatus, error)
}

// DocumentRecoverer replays stashed results against the primary store.
type DocumentRecoverer interface {
	Recover(ctx context.Context, documentID string) (domain.DocumentStatus, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}
