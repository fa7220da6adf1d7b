package usecase

import (
	"context"
	"fmt"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
)

// ReadUseCase is the inbound read model for document metadata and state.
type ReadUseCase struct {
	repo ports.DocumentRepository
}

func NewReadUseCase(repo ports.DocumentRepository) *ReadUseCase {
	return &ReadUseCase{repo: repo}
}

func (uc *ReadUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}
