package repositories

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
)

func newBatch(batchID string) *entities.Batch {
	return &entities.Batch{
		BatchID:           batchID,
		DrugName:          "Amoxicillin",
		Manufacturer:      "0xMANU",
		ManufacturingDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		ExpiryDate:        time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC),
		Quantity:          100,
		CurrentOwner:      "0xMANU",
		CurrentRole:       entities.RoleManufacturer,
		Status:            entities.BatchStatusCreated,
		MetadataHash:      "abc",
	}
}

func TestBatchRepository_CreateAndLookup(t *testing.T) {
	db := newTestDB(t)
	createBatchTable(t, db)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	b := newBatch("B1")
	require.NoError(t, repo.Create(ctx, b))
	require.NotEmpty(t, b.ID)

	got, err := repo.GetByBatchID(ctx, "B1")
	require.NoError(t, err)
	require.Equal(t, "0xmanu", got.Manufacturer)
	require.Equal(t, "0xmanu", got.CurrentOwner)
	require.False(t, got.TokenID.Valid)
	require.Nil(t, got.QRData)
	require.False(t, got.QRSignature.Valid)
	require.Equal(t, int64(0), got.Version)

	_, err = repo.GetByTokenID(ctx, 42)
	require.ErrorIs(t, err, domainerrors.ErrBatchNotFound)

	_, err = repo.GetByBatchID(ctx, "missing")
	require.ErrorIs(t, err, domainerrors.ErrBatchNotFound)
}

func TestBatchRepository_CreateDuplicate(t *testing.T) {
	db := newTestDB(t)
	createBatchTable(t, db)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newBatch("B1")))
	err := repo.Create(ctx, newBatch("B1"))
	require.ErrorIs(t, err, domainerrors.ErrDuplicateKey)
}

func TestBatchRepository_UnboundTokensDoNotCollide(t *testing.T) {
	db := newTestDB(t)
	createBatchTable(t, db)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newBatch("B1")))
	require.NoError(t, repo.Create(ctx, newBatch("B2")))

	bound := newBatch("B3")
	bound.TokenID = null.Int64From(7)
	require.NoError(t, repo.Create(ctx, bound))

	dup := newBatch("B4")
	dup.TokenID = null.Int64From(7)
	require.ErrorIs(t, repo.Create(ctx, dup), domainerrors.ErrDuplicateKey)
}

func TestBatchRepository_UpdateOptimistic(t *testing.T) {
	db := newTestDB(t)
	createBatchTable(t, db)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newBatch("B1")))

	first, err := repo.GetByBatchID(ctx, "B1")
	require.NoError(t, err)
	second, err := repo.GetByBatchID(ctx, "B1")
	require.NoError(t, err)

	first.TokenID = null.Int64From(5)
	first.AppendTransfer(entities.TransferRecord{
		From: "0xmanu", To: "0xdist",
		FromRole: entities.RoleManufacturer, ToRole: entities.RoleDistributor,
		Timestamp: time.Now().UTC(), TxHash: null.StringFrom("0xtx"),
	}, time.Minute)
	first.AddChild(9)
	first.QRData = json.RawMessage(`{"type":"batch","batchId":"B1"}`)
	first.QRSignature = null.StringFrom("0xsig")
	require.NoError(t, repo.Update(ctx, first))
	require.Equal(t, int64(1), first.Version)

	second.DrugName = "stale"
	require.ErrorIs(t, repo.Update(ctx, second), domainerrors.ErrConcurrentUpdate)

	got, err := repo.GetByTokenID(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "Amoxicillin", got.DrugName)
	require.Len(t, got.History, 1)
	require.Equal(t, "0xtx", got.History[0].TxHash.String)
	require.Equal(t, entities.RoleDistributor, got.History[0].ToRole)
	require.Equal(t, []int64{9}, got.ChildBatchIDs)
	require.JSONEq(t, `{"type":"batch","batchId":"B1"}`, string(got.QRData))
	require.Equal(t, "0xsig", got.QRSignature.String)
	require.Equal(t, int64(1), got.Version)
}

func TestBatchRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	createBatchTable(t, db)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	a := newBatch("A")
	a.TokenID = null.Int64From(1)
	b := newBatch("B")
	b.CurrentOwner = "0xpharm"
	b.CurrentRole = entities.RolePharmacy
	b.Status = entities.BatchStatusDelivered
	b.TokenID = null.Int64From(2)
	c := newBatch("C")
	for _, x := range []*entities.Batch{a, b, c} {
		require.NoError(t, repo.Create(ctx, x))
	}

	items, total, err := repo.List(ctx, entities.BatchFilter{Status: entities.BatchStatusDelivered}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "B", items[0].BatchID)

	_, total, err = repo.List(ctx, entities.BatchFilter{Manufacturer: "0xMANU"}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)

	items, total, err = repo.List(ctx, entities.BatchFilter{Role: entities.RoleManufacturer}, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 1)

	owned, total, err := repo.List(ctx, entities.BatchFilter{Owner: "0xPHARM"}, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "B", owned[0].BatchID)

	bound, err := repo.ListWithToken(ctx)
	require.NoError(t, err)
	require.Len(t, bound, 2)
	require.Equal(t, int64(1), bound[0].TokenID.Int64)
}

func TestIsDuplicateKeyError(t *testing.T) {
	require.True(t, isDuplicateKeyError(errString("UNIQUE constraint failed: batches.batch_id")))
	require.True(t, isDuplicateKeyError(errString(`ERROR: duplicate key value violates unique constraint "idx_batches_batch_id"`)))
	require.False(t, isDuplicateKeyError(errString("connection refused")))
}

type errString string

func (e errString) Error() string { return string(e) }
