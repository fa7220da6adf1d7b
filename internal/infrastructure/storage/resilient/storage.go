// Package resilient decorates an object store with retry semantics for
// writes: each chunk or object save gets its own retry schedule, so one slow
// disk hiccup does not fail a whole upload.
package resilient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/ports"
	"github.com/mpetrenko/document-vault/internal/infrastructure/resilience"
)

type Storage struct {
	inner    ports.ObjectStorage
	executor *resilience.Executor
	timeout  time.Duration
}

func New(inner ports.ObjectStorage, executor *resilience.Executor, timeout time.Duration) *Storage {
	return &Storage{inner: inner, executor: executor, timeout: timeout}
}

// Save buffers the payload once and replays it on each attempt; the inner
// store consumes the reader, so retries need a rewindable copy.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("buffer object payload: %w", err)
	}

	return s.executor.Execute(ctx, "storage_save", func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.inner.Save(ctx, key, bytes.NewReader(buf))
	}, classifyStorageError)
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.inner.Open(ctx, key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func classifyStorageError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
