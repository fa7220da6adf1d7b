package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
	"github.com/mpetrenko/document-vault/internal/infrastructure/resilience"
)

// ResultsPersister guards the one write that must not lose data: storing
// computed enrichment results. It retries on a fixed backoff schedule and, on
// exhaustion, stashes the results as a recovery record in the document
// metadata plus a standalone storage artifact, so the expensive AI output
// survives a primary-store outage.
type ResultsPersister struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	executor *resilience.Executor
	log      *slog.Logger
}

func NewResultsPersister(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	executor *resilience.Executor,
	log *slog.Logger,
) *ResultsPersister {
	return &ResultsPersister{repo: repo, storage: storage, executor: executor, log: log}
}

// Persist writes the results and completes the document. A nil return means
// the document is completed; an ErrWriteFailure return means the schedule was
// exhausted and the results were stashed for later recovery.
func (p *ResultsPersister) Persist(ctx context.Context, documentID string, res domain.EnrichmentResults) error {
	err := p.executor.Execute(ctx, "persist_results", func(ctx context.Context) error {
		return p.repo.SaveResults(ctx, documentID, res)
	}, persistRetryClassifier)
	if err == nil {
		return nil
	}

	rec := domain.RecoveryRecord{
		DocumentID:    documentID,
		Results:       res,
		CapturedError: err.Error(),
		CapturedAt:    time.Now().UTC(),
	}
	p.stash(ctx, rec)
	return domain.WrapError(domain.ErrWriteFailure, "persist results", err)
}

// stash writes the recovery record through both channels. The artifact goes
// first: if the metadata write fails too (the primary store is down), the
// artifact still holds the results and the failure is logged loudly enough to
// be picked up by an operator.
func (p *ResultsPersister) stash(ctx context.Context, rec domain.RecoveryRecord) {
	artifactErr := p.writeArtifact(ctx, rec)
	if artifactErr != nil {
		p.log.Error("recovery_artifact_write_failed",
			"document_id", rec.DocumentID,
			"error", artifactErr,
		)
	}

	if err := p.repo.SaveRecovery(ctx, rec.DocumentID, rec); err != nil {
		if artifactErr == nil {
			// Orphaned artifact: results are safe on disk but the document
			// row does not point at them.
			p.log.Error("recovery_metadata_write_failed",
				"document_id", rec.DocumentID,
				"artifact_key", recoveryArtifactKey(rec.DocumentID),
				"error", err,
			)
		} else {
			p.log.Error("recovery_stash_lost",
				"document_id", rec.DocumentID,
				"error", err,
			)
		}
		return
	}

	p.log.Warn("results_stashed_for_recovery",
		"document_id", rec.DocumentID,
		"captured_error", rec.CapturedError,
	)
}

func (p *ResultsPersister) writeArtifact(ctx context.Context, rec domain.RecoveryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recovery record: %w", err)
	}
	if err := p.storage.Save(ctx, recoveryArtifactKey(rec.DocumentID), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("save recovery artifact: %w", err)
	}
	return nil
}

func recoveryArtifactKey(documentID string) string {
	return "recovery/" + documentID + ".json"
}

func readRecoveryArtifact(ctx context.Context, storage ports.ObjectStorage, documentID string) (*domain.RecoveryRecord, error) {
	r, err := storage.Open(ctx, recoveryArtifactKey(documentID))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read recovery artifact: %w", err)
	}
	var rec domain.RecoveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse recovery artifact: %w", err)
	}
	return &rec, nil
}

// persistRetryClassifier treats every persistence error as retryable except
// cancellation and errors that cannot heal with time.
func persistRetryClassifier(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrDocumentNotFound) || domain.IsKind(err, domain.ErrInvalidInput) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
