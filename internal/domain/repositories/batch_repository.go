package repositories

import (
	"context"

	"pharma-chain.backend/internal/domain/entities"
)

// BatchRepository persists the off-chain batch mirror.
// Lookups return domainerrors.ErrBatchNotFound when nothing matches.
type BatchRepository interface {
	// Create inserts a new batch. A unique-key collision returns domainerrors.ErrDuplicateKey.
	Create(ctx context.Context, batch *entities.Batch) error
	GetByBatchID(ctx context.Context, batchID string) (*entities.Batch, error)
	GetByTokenID(ctx context.Context, tokenID int64) (*entities.Batch, error)
	// ListWithToken returns every batch whose token has been bound.
	ListWithToken(ctx context.Context) ([]*entities.Batch, error)
	List(ctx context.Context, filter entities.BatchFilter, limit, offset int) ([]*entities.Batch, int, error)
	// Update writes batch if its stored version still equals batch.Version and
	// bumps the version. A moved version returns domainerrors.ErrConcurrentUpdate.
	Update(ctx context.Context, batch *entities.Batch) error
}
