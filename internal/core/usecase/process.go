package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
)

// ProcessUseCase drives the per-document state machine
// uploaded -> ready -> processing -> completed|failed. An in-process latch
// guarantees at most one worker advances a given document at a time;
// sub-step outputs that succeeded are retained even when a later step fails,
// so a retry resumes instead of recomputing.
type ProcessUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	enricher  ports.Enricher
	tagger    ports.FallbackTagger
	queue     ports.MessageQueue
	persister *ResultsPersister
	cooldown  time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewProcessUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	enricher ports.Enricher,
	tagger ports.FallbackTagger,
	queue ports.MessageQueue,
	persister *ResultsPersister,
	cooldown time.Duration,
	log *slog.Logger,
) *ProcessUseCase {
	return &ProcessUseCase{
		repo:      repo,
		extractor: extractor,
		enricher:  enricher,
		tagger:    tagger,
		queue:     queue,
		persister: persister,
		cooldown:  cooldown,
		log:       log,
		inflight:  make(map[string]struct{}),
	}
}

// ProcessByID advances a queued document one full pass. Completed documents
// and failed documents still inside their cool-down are skipped without
// error, so queue redeliveries are harmless.
func (uc *ProcessUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if !uc.acquire(documentID) {
		uc.log.Info("document_already_in_flight", "document_id", documentID)
		return nil
	}
	defer uc.releaseLatch(documentID)

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}

	switch doc.Status {
	case domain.StatusCompleted:
		return nil
	case domain.StatusProcessing:
		uc.log.Warn("document_already_processing", "document_id", documentID)
		return nil
	case domain.StatusFailed:
		if !uc.retryDue(doc) {
			return nil
		}
		if err := uc.repo.ResetForRetry(ctx, documentID); err != nil {
			return fmt.Errorf("reset for retry: %w", err)
		}
		doc.Status = domain.StatusReady
	}

	if err := uc.run(ctx, doc); err != nil {
		uc.markFailed(ctx, doc, err)
		return err
	}
	return nil
}

// Trigger is the explicit re-process action behind the API. A failed
// document is reset to ready and re-queued; uploaded/ready documents are
// re-queued as is. Processing itself stays asynchronous.
func (uc *ProcessUseCase) Trigger(ctx context.Context, documentID string) (domain.DocumentStatus, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("fetch document by id: %w", err)
	}

	switch doc.Status {
	case domain.StatusProcessing:
		return domain.StatusProcessing, nil
	case domain.StatusCompleted:
		return domain.StatusCompleted, nil
	case domain.StatusFailed:
		if err := uc.repo.ResetForRetry(ctx, documentID); err != nil {
			return "", fmt.Errorf("reset for retry: %w", err)
		}
		if err := uc.queue.PublishDocumentIngested(ctx, documentID); err != nil {
			return "", fmt.Errorf("publish processing event: %w", err)
		}
		return domain.StatusReady, nil
	default:
		if err := uc.queue.PublishDocumentIngested(ctx, documentID); err != nil {
			return "", fmt.Errorf("publish processing event: %w", err)
		}
		return doc.Status, nil
	}
}

func (uc *ProcessUseCase) run(ctx context.Context, doc *domain.Document) error {
	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return err
	}

	if doc.Status == domain.StatusUploaded {
		if err := uc.setStatus(ctx, doc.ID, domain.StatusReady); err != nil {
			return err
		}
	}
	if err := uc.setStatus(ctx, doc.ID, domain.StatusProcessing); err != nil {
		return err
	}

	res, enrichErr := uc.enrich(ctx, doc, text)
	if enrichErr != nil {
		uc.retainPartials(ctx, doc.ID, res, text)
		return enrichErr
	}

	// Markdown without a summary is never persisted.
	if res.Summary == "" {
		res.Markdown = ""
	}
	return uc.persister.Persist(ctx, doc.ID, res)
}

// enrich runs the provider sub-steps, skipping those whose output an earlier
// attempt already produced. Tag suggestion never fails the pass: the
// rule-based tagger covers provider failures.
func (uc *ProcessUseCase) enrich(ctx context.Context, doc *domain.Document, text string) (domain.EnrichmentResults, error) {
	res := existingResults(doc)

	if res.Summary == "" {
		summary, err := uc.enricher.Summarize(ctx, text)
		if err != nil {
			return res, fmt.Errorf("summarize: %w", err)
		}
		res.Summary = summary
	}
	if res.Markdown == "" {
		markdown, err := uc.enricher.RenderMarkdown(ctx, text)
		if err != nil {
			return res, fmt.Errorf("render markdown: %w", err)
		}
		res.Markdown = markdown
	}
	if len(res.Tags) == 0 {
		tags, err := uc.enricher.SuggestTags(ctx, text)
		if err != nil || len(tags) == 0 {
			if err != nil {
				uc.log.Warn("tag_suggestion_failed", "document_id", doc.ID, "error", err)
			}
			tags = uc.tagger.Tags(text)
		}
		res.Tags = tags
	}
	if res.Category == "" {
		category, err := uc.enricher.Classify(ctx, text)
		if err != nil {
			return res, fmt.Errorf("classify: %w", err)
		}
		res.Category = category
	}
	if len(res.Fields) == 0 {
		fields, err := uc.enricher.ExtractFields(ctx, text)
		if err != nil {
			return res, fmt.Errorf("extract fields: %w", err)
		}
		res.Fields = fields
	}
	if len(res.Embedding) == 0 {
		embedding, err := uc.enricher.Embed(ctx, text)
		if err != nil {
			return res, fmt.Errorf("embed: %w", err)
		}
		res.Embedding = embedding
	}
	return res, nil
}

// retainPartials stores whatever sub-steps succeeded before the failure so
// the next attempt resumes from there. Tags fall back to rules so even a
// failed document never carries an empty tag set.
func (uc *ProcessUseCase) retainPartials(ctx context.Context, documentID string, res domain.EnrichmentResults, text string) {
	if len(res.Tags) == 0 {
		res.Tags = uc.tagger.Tags(text)
	}
	if err := uc.repo.SavePartialOutputs(ctx, documentID, res); err != nil {
		uc.log.Warn("partial_outputs_save_failed", "document_id", documentID, "error", err)
	}
}

// markFailed records the failure per its class. Provider unavailability
// (quota/auth) is not the document's fault: it returns to ready with the
// cause recorded, usable and retryable without manual reset. Transient and
// critical failures rest at failed with a retry count and a cool-down
// deadline; terminal classes are final until an explicit trigger. Write
// failures were already recorded by the recovery stash.
func (uc *ProcessUseCase) markFailed(ctx context.Context, doc *domain.Document, cause error) {
	failure := domain.FailureFrom(cause)
	switch failure.Class {
	case domain.FailureWrite:
		return
	case domain.FailureServiceUnavailable:
		if err := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusReady, &failure); err != nil {
			uc.log.Error("mark_ready_failed", "document_id", doc.ID, "error", err)
		}
	case domain.FailureTransient, domain.FailureCritical:
		nextRetry := time.Now().UTC().Add(uc.cooldown)
		if err := uc.repo.RecordFailedAttempt(ctx, doc.ID, failure, doc.RetryCount+1, nextRetry); err != nil {
			uc.log.Error("record_failed_attempt_failed", "document_id", doc.ID, "error", err)
		}
	default:
		if err := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, &failure); err != nil {
			uc.log.Error("mark_failed_failed", "document_id", doc.ID, "error", err)
		}
	}
}

func (uc *ProcessUseCase) retryDue(doc *domain.Document) bool {
	if !doc.ErrorClass.Retryable() {
		return false
	}
	if doc.NextRetryAt != nil && time.Now().UTC().Before(*doc.NextRetryAt) {
		return false
	}
	return true
}

func (uc *ProcessUseCase) setStatus(ctx context.Context, documentID string, status domain.DocumentStatus) error {
	if err := uc.repo.UpdateStatus(ctx, documentID, status, nil); err != nil {
		return fmt.Errorf("set status=%s: %w", status, err)
	}
	return nil
}

func (uc *ProcessUseCase) acquire(documentID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, held := uc.inflight[documentID]; held {
		return false
	}
	uc.inflight[documentID] = struct{}{}
	return true
}

func (uc *ProcessUseCase) releaseLatch(documentID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.inflight, documentID)
}

func existingResults(doc *domain.Document) domain.EnrichmentResults {
	res := domain.EnrichmentResults{
		Summary:   doc.Summary,
		Markdown:  doc.Markdown,
		Category:  doc.Category,
		Fields:    doc.Fields,
		Embedding: doc.Embedding,
	}
	if len(doc.Tags) > 0 {
		res.Tags = doc.Tags
	}
	return res
}
