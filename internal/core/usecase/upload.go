package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
)

// UploadUseCase is the upload coordinator: it fingerprints incoming bytes,
// admits at most one in-flight ingestion per fingerprint, moves the bytes to
// object storage (chunk-wise for large files) and creates the document record
// before handing it to the asynchronous processor.
type UploadUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	admission ports.AdmissionStore
	splitter  ports.ChunkSplitter
	progress  *ProgressTracker
	log       *slog.Logger

	maxConcurrent  int
	chunkThreshold int64

	assembler *chunkAssembler
}

func NewUploadUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	admission ports.AdmissionStore,
	splitter ports.ChunkSplitter,
	progress *ProgressTracker,
	log *slog.Logger,
	maxConcurrent int,
	chunkThreshold int64,
) *UploadUseCase {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &UploadUseCase{
		repo:           repo,
		storage:        storage,
		queue:          queue,
		admission:      admission,
		splitter:       splitter,
		progress:       progress,
		log:            log,
		maxConcurrent:  maxConcurrent,
		chunkThreshold: chunkThreshold,
		assembler:      newChunkAssembler(chunkAssemblyTTL),
	}
}

// UploadBatch ingests the files in parallel, bounded by the concurrency
// ceiling. Duplicates and empty files are reported per file; an
// infrastructure failure aborts the batch and cancels the in-flight siblings.
func (uc *UploadUseCase) UploadBatch(
	ctx context.Context,
	files []domain.FileInput,
	folderFor func(filename string) string,
) (*domain.BatchResult, error) {
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload batch", errors.New("no files provided"))
	}

	result := &domain.BatchResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.maxConcurrent)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if folderFor != nil && file.Folder == "" {
				file.Folder = folderFor(file.Filename)
			}
			doc, skipped, err := uc.ingestOne(gctx, file)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if skipped != nil {
				result.Skipped = append(result.Skipped, *skipped)
			} else {
				result.Created = append(result.Created, doc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// CheckDuplicate answers a fingerprint probe before any bytes are sent. An
// in-flight ingestion of the same fingerprint counts as a duplicate.
func (uc *UploadUseCase) CheckDuplicate(ctx context.Context, fingerprint string) (*domain.DuplicateCheck, error) {
	if fingerprint == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "check duplicate", errors.New("empty fingerprint"))
	}

	existing, err := uc.repo.FindByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		return &domain.DuplicateCheck{IsDuplicate: true, Filename: existing.Filename, DocumentID: existing.ID}, nil
	case domain.IsKind(err, domain.ErrDocumentNotFound):
	default:
		return nil, fmt.Errorf("fingerprint lookup: %w", err)
	}

	if _, held, err := uc.admission.Holder(ctx, fingerprint); err == nil && held {
		return &domain.DuplicateCheck{IsDuplicate: true}, nil
	}
	return &domain.DuplicateCheck{IsDuplicate: false}, nil
}

func (uc *UploadUseCase) ingestOne(ctx context.Context, file domain.FileInput) (*domain.Document, *domain.SkippedFile, error) {
	if len(file.Data) == 0 {
		return nil, &domain.SkippedFile{Filename: file.Filename, Reason: domain.SkipEmptyFile}, nil
	}
	fingerprint := domain.Fingerprint(file.Data)
	return uc.ingest(ctx, file, fingerprint, int64(len(file.Data)) > uc.chunkThreshold)
}

// ingest runs the admitted path shared by the batch and chunk-assembly
// entrances: duplicate lookup, fingerprint admission, storage transfer,
// record creation, queue hand-off. Admission is released on every exit so a
// cancelled upload can be legitimately retried.
func (uc *UploadUseCase) ingest(
	ctx context.Context,
	file domain.FileInput,
	fingerprint string,
	chunked bool,
) (*domain.Document, *domain.SkippedFile, error) {
	if existing, err := uc.repo.FindByFingerprint(ctx, fingerprint); err == nil {
		return nil, &domain.SkippedFile{
			Filename:   file.Filename,
			Reason:     domain.SkipDuplicate,
			DocumentID: existing.ID,
		}, nil
	} else if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, nil, fmt.Errorf("fingerprint lookup: %w", err)
	}

	ownerID := uuid.NewString()
	admitted, _, err := uc.admission.Admit(ctx, fingerprint, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("admit fingerprint: %w", err)
	}
	if !admitted {
		return nil, &domain.SkippedFile{Filename: file.Filename, Reason: domain.SkipDuplicateInFlight}, nil
	}
	defer uc.release(fingerprint, ownerID)

	doc, err := uc.storeAndCreate(ctx, file, fingerprint, chunked)
	if err != nil {
		uc.progress.Abort(fingerprint)
		return nil, nil, err
	}
	uc.progress.Complete(fingerprint)
	return doc, nil, nil
}

func (uc *UploadUseCase) storeAndCreate(
	ctx context.Context,
	file domain.FileInput,
	fingerprint string,
	chunked bool,
) (*domain.Document, error) {
	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(file.Filename))

	if chunked {
		if err := uc.saveChunked(ctx, storageKey, fingerprint, file.Data); err != nil {
			return nil, err
		}
	} else {
		if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(file.Data)); err != nil {
			return nil, fmt.Errorf("save to object storage: %w", err)
		}
		uc.progress.Update(fingerprint, 1)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          id,
		Filename:    file.Filename,
		Folder:      file.Folder,
		MimeType:    mimeTypeFor(file.Filename),
		StoragePath: storageKey,
		Fingerprint: fingerprint,
		SizeBytes:   int64(len(file.Data)),
		Status:      domain.StatusUploaded,
		Tags:        []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, nil
}

// saveChunked transfers a large file chunk by chunk. Each part save is an
// independent storage call (and so independently retried by the storage
// layer); assembly reads the parts back in index order into the final key.
func (uc *UploadUseCase) saveChunked(ctx context.Context, key, fingerprint string, data []byte) error {
	parts := uc.splitter.Split(data)
	total := len(parts)

	for i, part := range parts {
		if err := uc.storage.Save(ctx, partKey(key, i), bytes.NewReader(part)); err != nil {
			uc.cleanupParts(key, i+1)
			return fmt.Errorf("save chunk %d/%d: %w", i+1, total, err)
		}
		uc.progress.Update(fingerprint, float64(i+1)/float64(total+1))
	}

	if err := uc.assembleParts(ctx, key, total); err != nil {
		uc.cleanupParts(key, total)
		return err
	}
	uc.cleanupParts(key, total)
	return nil
}

func (uc *UploadUseCase) assembleParts(ctx context.Context, key string, total int) error {
	readers := make([]io.Reader, 0, total)
	closers := make([]io.Closer, 0, total)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	for i := 0; i < total; i++ {
		r, err := uc.storage.Open(ctx, partKey(key, i))
		if err != nil {
			return fmt.Errorf("open chunk %d/%d: %w", i+1, total, err)
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}
	if err := uc.storage.Save(ctx, key, io.MultiReader(readers...)); err != nil {
		return fmt.Errorf("assemble chunks: %w", err)
	}
	return nil
}

func (uc *UploadUseCase) cleanupParts(key string, count int) {
	ctx := context.Background()
	for i := 0; i < count; i++ {
		if err := uc.storage.Delete(ctx, partKey(key, i)); err != nil {
			uc.log.Warn("chunk_part_cleanup_failed", "key", partKey(key, i), "error", err)
		}
	}
}

func (uc *UploadUseCase) release(fingerprint, ownerID string) {
	if err := uc.admission.Release(context.Background(), fingerprint, ownerID); err != nil {
		uc.log.Warn("admission_release_failed", "fingerprint", fingerprint, "error", err)
	}
}

func partKey(key string, index int) string {
	return fmt.Sprintf("%s.part%05d", key, index)
}

func mimeTypeFor(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
