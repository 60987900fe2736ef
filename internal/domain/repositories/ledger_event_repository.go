package repositories

import (
	"context"

	"pharma-chain.backend/internal/domain/entities"
)

type LedgerEventRepository interface {
	// Record stores the outcome for an event. Recording the same event key
	// again keeps the first row, unless that row failed: then the new outcome
	// replaces it and the attempt count grows.
	Record(ctx context.Context, record *entities.LedgerEventRecord) error
	ListByTokenID(ctx context.Context, tokenID int64, limit int) ([]*entities.LedgerEventRecord, error)
	// ListFailed returns failed events with fewer than maxAttempts attempts, oldest block first.
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]*entities.LedgerEventRecord, error)
}
