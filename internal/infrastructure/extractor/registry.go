// Package extractor dispatches text extraction by file extension. Extraction
// failures are permanent: a file the registry cannot read will not become
// readable on retry.
package extractor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
)

type Registry struct {
	byExt    map[string]ports.TextExtractor
	fallback ports.TextExtractor
}

// NewRegistry builds a dispatcher; fallback handles unknown extensions and
// may be nil, in which case unknown extensions are rejected.
func NewRegistry(fallback ports.TextExtractor) *Registry {
	return &Registry{
		byExt:    make(map[string]ports.TextExtractor),
		fallback: fallback,
	}
}

func (r *Registry) Register(ext string, e ports.TextExtractor) {
	r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = e
}

func (r *Registry) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(doc.Filename), "."))

	e, ok := r.byExt[ext]
	if !ok {
		e = r.fallback
	}
	if e == nil {
		return "", domain.WrapError(domain.ErrExtraction, "extract text",
			errors.New("unsupported file format: ."+ext))
	}

	text, err := e.Extract(ctx, doc)
	if err != nil {
		if domain.IsKind(err, domain.ErrExtraction) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrExtraction, "extract text", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrExtraction, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}
