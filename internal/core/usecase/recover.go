package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
	"github.com/mpetrenko/document-vault/internal/infrastructure/resilience"
)

// RecoverUseCase replays a stashed recovery record against the primary
// store. The operation is idempotent: recovering an already-completed
// document is a no-op reporting completed.
type RecoverUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	executor *resilience.Executor
	log      *slog.Logger
}

func NewRecoverUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	executor *resilience.Executor,
	log *slog.Logger,
) *RecoverUseCase {
	return &RecoverUseCase{repo: repo, storage: storage, executor: executor, log: log}
}

func (uc *RecoverUseCase) Recover(ctx context.Context, documentID string) (domain.DocumentStatus, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("fetch document by id: %w", err)
	}

	if !doc.ResultsPending {
		if doc.Status == domain.StatusCompleted {
			return domain.StatusCompleted, nil
		}
		return doc.Status, domain.WrapError(domain.ErrInvalidInput, "recover results",
			errors.New("document has no pending recovery"))
	}

	rec, err := uc.repo.LoadRecovery(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("load recovery record: %w", err)
	}
	if rec == nil {
		// The metadata write may have failed during the stash; the standalone
		// artifact is the second channel.
		rec, err = readRecoveryArtifact(ctx, uc.storage, documentID)
		if err != nil {
			return "", domain.WrapError(domain.ErrDocumentNotFound, "recover results",
				fmt.Errorf("no recovery record or artifact: %w", err))
		}
	}

	err = uc.executor.Execute(ctx, "recover_results", func(ctx context.Context) error {
		return uc.repo.SaveResults(ctx, documentID, rec.Results)
	}, persistRetryClassifier)
	if err != nil {
		// The record stays in place; the next recovery call tries again.
		return "", domain.WrapError(domain.ErrWriteFailure, "recover results", err)
	}

	if err := uc.repo.ClearRecovery(ctx, documentID); err != nil {
		uc.log.Warn("recovery_clear_failed", "document_id", documentID, "error", err)
	}
	if err := uc.storage.Delete(ctx, recoveryArtifactKey(documentID)); err != nil {
		uc.log.Warn("recovery_artifact_delete_failed", "document_id", documentID, "error", err)
	}

	uc.log.Info("results_recovered", "document_id", documentID)
	return domain.StatusCompleted, nil
}
