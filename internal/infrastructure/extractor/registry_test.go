package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

type staticExtractor struct {
	text string
	err  error
}

func (f staticExtractor) Extract(context.Context, *domain.Document) (string, error) {
	return f.text, f.err
}

func TestRegistryDispatchesByExtension(t *testing.T) {
	reg := NewRegistry(staticExtractor{text: "fallback"})
	reg.Register("pdf", staticExtractor{text: "from pdf"})

	text, err := reg.Extract(context.Background(), &domain.Document{Filename: "report.PDF"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "from pdf" {
		t.Fatalf("expected pdf extractor output, got %q", text)
	}

	text, err = reg.Extract(context.Background(), &domain.Document{Filename: "notes.unknown"})
	if err != nil {
		t.Fatalf("Extract() fallback error = %v", err)
	}
	if text != "fallback" {
		t.Fatalf("expected fallback output, got %q", text)
	}
}

func TestRegistryRejectsUnsupportedWithoutFallback(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.Extract(context.Background(), &domain.Document{Filename: "image.png"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction kind, got %v", err)
	}
}

func TestRegistryWrapsFailuresAsExtraction(t *testing.T) {
	reg := NewRegistry(staticExtractor{err: errors.New("corrupt stream")})

	_, err := reg.Extract(context.Background(), &domain.Document{Filename: "broken.bin"})
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction kind, got %v", err)
	}
}

func TestRegistryRejectsEmptyText(t *testing.T) {
	reg := NewRegistry(staticExtractor{text: "   "})

	_, err := reg.Extract(context.Background(), &domain.Document{Filename: "empty.txt"})
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction kind for empty text, got %v", err)
	}
}
