package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

// Abandoned chunked uploads are dropped after this much idle time.
const chunkAssemblyTTL = 30 * time.Minute

// PutChunk stores one chunk of a client-side chunked upload. Chunks may
// arrive in any order; a repeated index is acknowledged without double
// counting. The final chunk triggers assembly, fingerprint verification and
// the regular admission path.
func (uc *UploadUseCase) PutChunk(ctx context.Context, chunk domain.ChunkUpload) (*domain.ChunkReceipt, error) {
	if err := validateChunk(chunk); err != nil {
		return nil, err
	}

	for _, fingerprint := range uc.assembler.evictStale() {
		uc.progress.Abort(fingerprint)
		uc.log.Warn("chunked_upload_expired", "fingerprint", fingerprint)
	}

	received, complete, err := uc.assembler.put(chunk)
	if err != nil {
		return nil, err
	}
	uc.progress.Update(chunk.Fingerprint, float64(received)/float64(chunk.Total+1))

	receipt := &domain.ChunkReceipt{
		Received: received,
		Total:    chunk.Total,
		Progress: float64(received) / float64(chunk.Total),
		Complete: false,
	}
	if !complete {
		return receipt, nil
	}

	data, file := uc.assembler.take(chunk.Fingerprint)
	if domain.Fingerprint(data) != chunk.Fingerprint {
		uc.progress.Abort(chunk.Fingerprint)
		return nil, domain.WrapError(domain.ErrInvalidInput, "assemble chunks",
			errors.New("assembled content does not match fingerprint"))
	}

	// The bytes already travelled incrementally; the assembled file takes the
	// single-shot storage path regardless of size.
	doc, skipped, err := uc.ingest(ctx, file, chunk.Fingerprint, false)
	if err != nil {
		return nil, err
	}
	receipt.Complete = true
	receipt.Document = doc
	receipt.Skipped = skipped
	return receipt, nil
}

func validateChunk(chunk domain.ChunkUpload) error {
	switch {
	case chunk.Fingerprint == "":
		return domain.WrapError(domain.ErrInvalidInput, "put chunk", errors.New("empty fingerprint"))
	case chunk.Filename == "":
		return domain.WrapError(domain.ErrInvalidInput, "put chunk", errors.New("empty filename"))
	case chunk.Total < 1:
		return domain.WrapError(domain.ErrInvalidInput, "put chunk",
			fmt.Errorf("total_chunks must be positive, got %d", chunk.Total))
	case chunk.Index < 0 || chunk.Index >= chunk.Total:
		return domain.WrapError(domain.ErrInvalidInput, "put chunk",
			fmt.Errorf("chunk_index %d out of range [0,%d)", chunk.Index, chunk.Total))
	case len(chunk.Data) == 0:
		return domain.WrapError(domain.ErrInvalidInput, "put chunk", errors.New("empty chunk payload"))
	}
	return nil
}

// chunkAssembler is the in-memory reassembly buffer, keyed by fingerprint.
// It validates that every chunk of a logical upload agrees on total count and
// filename. Pending uploads idle past the ttl are dropped so abandoned
// transfers do not hold their part buffers for the process lifetime.
type chunkAssembler struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	files map[string]*pendingUpload
}

type pendingUpload struct {
	filename string
	folder   string
	total    int
	parts    map[int][]byte
	touched  time.Time
}

func newChunkAssembler(ttl time.Duration) *chunkAssembler {
	return &chunkAssembler{ttl: ttl, now: time.Now, files: make(map[string]*pendingUpload)}
}

// evictStale drops every pending upload whose last chunk arrived more than
// ttl ago and returns their fingerprints.
func (a *chunkAssembler) evictStale() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ttl <= 0 {
		return nil
	}
	deadline := a.now().Add(-a.ttl)
	var evicted []string
	for fingerprint, pending := range a.files {
		if pending.touched.Before(deadline) {
			delete(a.files, fingerprint)
			evicted = append(evicted, fingerprint)
		}
	}
	return evicted
}

// put records the chunk and reports how many distinct chunks have arrived and
// whether the set is complete. Storing the same index twice is a no-op.
func (a *chunkAssembler) put(chunk domain.ChunkUpload) (received int, complete bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, ok := a.files[chunk.Fingerprint]
	if !ok {
		pending = &pendingUpload{
			filename: chunk.Filename,
			folder:   chunk.Folder,
			total:    chunk.Total,
			parts:    make(map[int][]byte, chunk.Total),
		}
		a.files[chunk.Fingerprint] = pending
	}

	if pending.total != chunk.Total {
		return 0, false, domain.WrapError(domain.ErrInvalidInput, "put chunk",
			fmt.Errorf("total_chunks changed mid-upload: %d then %d", pending.total, chunk.Total))
	}
	if pending.filename != chunk.Filename {
		return 0, false, domain.WrapError(domain.ErrInvalidInput, "put chunk",
			fmt.Errorf("filename changed mid-upload: %q then %q", pending.filename, chunk.Filename))
	}

	if _, dup := pending.parts[chunk.Index]; !dup {
		buf := make([]byte, len(chunk.Data))
		copy(buf, chunk.Data)
		pending.parts[chunk.Index] = buf
	}
	pending.touched = a.now()
	return len(pending.parts), len(pending.parts) == pending.total, nil
}

// take concatenates the parts in index order and drops the pending state.
func (a *chunkAssembler) take(fingerprint string) ([]byte, domain.FileInput) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, ok := a.files[fingerprint]
	if !ok {
		return nil, domain.FileInput{}
	}
	delete(a.files, fingerprint)

	var size int
	for _, part := range pending.parts {
		size += len(part)
	}
	data := make([]byte, 0, size)
	for i := 0; i < pending.total; i++ {
		data = append(data, pending.parts[i]...)
	}
	return data, domain.FileInput{Filename: pending.filename, Folder: pending.folder, Data: data}
}
