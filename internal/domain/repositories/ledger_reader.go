package repositories

import (
	"context"

	"pharma-chain.backend/internal/domain/entities"
)

// LedgerReader is the read-only view of the PharmaNFT contract.
// Nonexistent tokens yield domainerrors.ErrTokenNotFound; every other failure
// wraps domainerrors.ErrLedgerUnavailable.
type LedgerReader interface {
	Address() string
	GetBatchDetails(ctx context.Context, tokenID int64) (*entities.LedgerBatch, error)
	GetTransferHistory(ctx context.Context, tokenID int64) ([]entities.LedgerTransfer, error)
	GetRole(ctx context.Context, address string) (entities.Role, error)
	IsCounterfeit(ctx context.Context, tokenID int64) (bool, error)
	OwnerOf(ctx context.Context, tokenID int64) (string, error)
	GetParentBatch(ctx context.Context, tokenID int64) (int64, error)
}

// EventSource delivers decoded ledger events in ledger order.
// Run blocks until ctx is cancelled or the source fails permanently; handle is
// invoked sequentially and a returned error does not stop delivery.
type EventSource interface {
	Run(ctx context.Context, handle func(ctx context.Context, event entities.LedgerEvent) error) error
}

// CursorStore persists listener progress and claims events for dispatch.
type CursorStore interface {
	LoadCursor(ctx context.Context, contract string) (uint64, bool, error)
	SaveCursor(ctx context.Context, contract string, block uint64) error
	// ClaimEvent returns false if the event key was already claimed.
	ClaimEvent(ctx context.Context, key string) (bool, error)
	// ReleaseEvent drops a claim so the event can be dispatched again.
	ReleaseEvent(ctx context.Context, key string) error
}
