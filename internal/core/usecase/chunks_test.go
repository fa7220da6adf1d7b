package usecase

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

func chunksOf(data []byte, size int, filename string) []domain.ChunkUpload {
	fingerprint := domain.Fingerprint(data)
	var chunks []domain.ChunkUpload
	total := (len(data) + size - 1) / size
	for i := 0; i < total; i++ {
		end := (i + 1) * size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, domain.ChunkUpload{
			Index:       i,
			Total:       total,
			Filename:    filename,
			Fingerprint: fingerprint,
			Data:        data[i*size : end],
		})
	}
	return chunks
}

func TestPutChunkOutOfOrderAssembly(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := newUploadUseCase(repo, storage, queue, newAdmissionFake(), 1<<20)

	content := []byte("abcdefghijklmnopqrstuvwx")
	chunks := chunksOf(content, 8, "big.txt")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	var last *domain.ChunkReceipt
	for _, i := range []int{2, 0, 1} {
		receipt, err := uc.PutChunk(context.Background(), chunks[i])
		if err != nil {
			t.Fatalf("PutChunk(%d) error = %v", i, err)
		}
		last = receipt
	}
	if !last.Complete || last.Document == nil {
		t.Fatalf("final receipt should complete the upload, got %+v", last)
	}
	if last.Received != 3 || last.Progress != 1 {
		t.Fatalf("unexpected final receipt %+v", last)
	}

	raw, ok := storage.object(last.Document.StoragePath)
	if !ok || !bytes.Equal(raw, content) {
		t.Fatalf("reassembled bytes differ from original")
	}
	if queue.count() != 1 {
		t.Fatalf("expected 1 published event, got %d", queue.count())
	}
}

func TestPutChunkDuplicateIndexIdempotent(t *testing.T) {
	uc := newUploadUseCase(newRepoFake(), newStorageFake(), &queueFake{}, newAdmissionFake(), 1<<20)

	content := []byte("abcdefghijklmnop")
	chunks := chunksOf(content, 8, "dup.txt")

	first, err := uc.PutChunk(context.Background(), chunks[0])
	if err != nil {
		t.Fatalf("PutChunk() error = %v", err)
	}
	again, err := uc.PutChunk(context.Background(), chunks[0])
	if err != nil {
		t.Fatalf("repeated PutChunk() error = %v", err)
	}
	if first.Received != 1 || again.Received != 1 {
		t.Fatalf("duplicate chunk must not double count: %d then %d", first.Received, again.Received)
	}
	if again.Progress < first.Progress {
		t.Fatalf("progress went backwards: %f then %f", first.Progress, again.Progress)
	}
}

func TestPutChunkFingerprintMismatch(t *testing.T) {
	uc := newUploadUseCase(newRepoFake(), newStorageFake(), &queueFake{}, newAdmissionFake(), 1<<20)

	content := []byte("abcdefghijklmnop")
	chunks := chunksOf(content, 8, "bad.txt")
	// Lie about the fingerprint on every chunk of the logical upload.
	wrong := domain.Fingerprint([]byte("something else"))
	for i := range chunks {
		chunks[i].Fingerprint = wrong
	}

	if _, err := uc.PutChunk(context.Background(), chunks[0]); err != nil {
		t.Fatalf("PutChunk() error = %v", err)
	}
	_, err := uc.PutChunk(context.Background(), chunks[1])
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input on fingerprint mismatch, got %v", err)
	}
}

func TestPutChunkDuplicateContentReportedOnCompletion(t *testing.T) {
	repo := newRepoFake()
	content := []byte("abcdefghijklmnop")
	repo.seed(domain.Document{
		ID:          "doc-1",
		Filename:    "old.txt",
		Fingerprint: domain.Fingerprint(content),
		Status:      domain.StatusCompleted,
	})
	uc := newUploadUseCase(repo, newStorageFake(), &queueFake{}, newAdmissionFake(), 1<<20)

	var last *domain.ChunkReceipt
	for _, chunk := range chunksOf(content, 8, "new.txt") {
		receipt, err := uc.PutChunk(context.Background(), chunk)
		if err != nil {
			t.Fatalf("PutChunk() error = %v", err)
		}
		last = receipt
	}
	if !last.Complete || last.Skipped == nil || last.Document != nil {
		t.Fatalf("expected duplicate skip on completion, got %+v", last)
	}
	if last.Skipped.Reason != domain.SkipDuplicate || last.Skipped.DocumentID != "doc-1" {
		t.Fatalf("unexpected skip %+v", last.Skipped)
	}
}

func TestPutChunkValidation(t *testing.T) {
	uc := newUploadUseCase(newRepoFake(), newStorageFake(), &queueFake{}, newAdmissionFake(), 1<<20)
	ctx := context.Background()

	cases := []struct {
		name  string
		chunk domain.ChunkUpload
	}{
		{"missing fingerprint", domain.ChunkUpload{Index: 0, Total: 2, Filename: "f", Data: []byte("x")}},
		{"missing filename", domain.ChunkUpload{Index: 0, Total: 2, Fingerprint: "fp", Data: []byte("x")}},
		{"zero total", domain.ChunkUpload{Index: 0, Total: 0, Filename: "f", Fingerprint: "fp", Data: []byte("x")}},
		{"index out of range", domain.ChunkUpload{Index: 2, Total: 2, Filename: "f", Fingerprint: "fp", Data: []byte("x")}},
		{"empty payload", domain.ChunkUpload{Index: 0, Total: 2, Filename: "f", Fingerprint: "fp"}},
	}
	for _, tc := range cases {
		if _, err := uc.PutChunk(ctx, tc.chunk); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestPutChunkTotalChangedMidUpload(t *testing.T) {
	uc := newUploadUseCase(newRepoFake(), newStorageFake(), &queueFake{}, newAdmissionFake(), 1<<20)

	content := []byte("abcdefghijklmnop")
	chunks := chunksOf(content, 8, "t.txt")
	if _, err := uc.PutChunk(context.Background(), chunks[0]); err != nil {
		t.Fatalf("PutChunk() error = %v", err)
	}

	altered := chunks[1]
	altered.Total = 5
	if _, err := uc.PutChunk(context.Background(), altered); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input on changed total, got %v", err)
	}
}

func TestPutChunkExpiresAbandonedUploads(t *testing.T) {
	repo := newRepoFake()
	uc := newUploadUseCase(repo, newStorageFake(), &queueFake{}, newAdmissionFake(), 1<<20)

	current := time.Now()
	uc.assembler.now = func() time.Time { return current }

	abandoned := chunksOf([]byte("abandoned upload body bytes!"), 8, "stale.txt")
	if _, err := uc.PutChunk(context.Background(), abandoned[0]); err != nil {
		t.Fatalf("PutChunk() error = %v", err)
	}

	current = current.Add(chunkAssemblyTTL + time.Minute)

	fresh := chunksOf([]byte("fresh body"), 8, "fresh.txt")
	if _, err := uc.PutChunk(context.Background(), fresh[0]); err != nil {
		t.Fatalf("PutChunk() error = %v", err)
	}

	if _, held := uc.assembler.files[abandoned[0].Fingerprint]; held {
		t.Fatalf("stale pending upload must be evicted")
	}

	// A late chunk starts a fresh pending upload rather than completing the
	// expired one.
	receipt, err := uc.PutChunk(context.Background(), abandoned[1])
	if err != nil {
		t.Fatalf("PutChunk() error = %v", err)
	}
	if receipt.Complete || receipt.Received != 1 {
		t.Fatalf("expired upload must restart, got %+v", receipt)
	}
}
