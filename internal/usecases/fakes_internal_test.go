package usecases

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/pkg/crypto"
)

const (
	testLedgerAddress = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	testManufacturer  = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	testDistributor   = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	testPharmacy      = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memBatchRepo is an in-memory BatchRepository with version checks.
type memBatchRepo struct {
	mu           sync.Mutex
	rows         map[string]*entities.Batch
	conflicts    int
	updates      int
	beforeCreate func(r *memBatchRepo)
	listErr      error
}

func newMemBatchRepo(seed ...*entities.Batch) *memBatchRepo {
	r := &memBatchRepo{rows: map[string]*entities.Batch{}}
	for _, b := range seed {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		r.rows[b.BatchID] = cloneBatch(b)
	}
	return r
}

func cloneBatch(b *entities.Batch) *entities.Batch {
	c := *b
	c.History = append([]entities.TransferRecord{}, b.History...)
	c.ChildBatchIDs = append([]int64{}, b.ChildBatchIDs...)
	return &c
}

func (r *memBatchRepo) insert(b *entities.Batch) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.rows[b.BatchID] = cloneBatch(b)
}

func (r *memBatchRepo) Create(_ context.Context, b *entities.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beforeCreate != nil {
		hook := r.beforeCreate
		r.beforeCreate = nil
		hook(r)
	}
	if _, ok := r.rows[b.BatchID]; ok {
		return domainerrors.ErrDuplicateKey
	}
	if b.TokenID.Valid {
		for _, row := range r.rows {
			if row.TokenID.Valid && row.TokenID.Int64 == b.TokenID.Int64 {
				return domainerrors.ErrDuplicateKey
			}
		}
	}
	b.Version = 0
	r.insert(b)
	return nil
}

func (r *memBatchRepo) GetByBatchID(_ context.Context, batchID string) (*entities.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[batchID]
	if !ok {
		return nil, domainerrors.ErrBatchNotFound
	}
	return cloneBatch(row), nil
}

func (r *memBatchRepo) GetByTokenID(_ context.Context, tokenID int64) (*entities.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TokenID.Valid && row.TokenID.Int64 == tokenID {
			return cloneBatch(row), nil
		}
	}
	return nil, domainerrors.ErrBatchNotFound
}

func (r *memBatchRepo) sorted() []*entities.Batch {
	out := make([]*entities.Batch, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, cloneBatch(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out
}

func (r *memBatchRepo) ListWithToken(_ context.Context) ([]*entities.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*entities.Batch
	for _, b := range r.sorted() {
		if b.TokenID.Valid {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memBatchRepo) List(_ context.Context, filter entities.BatchFilter, limit, offset int) ([]*entities.Batch, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*entities.Batch
	for _, b := range r.sorted() {
		if filter.Owner != "" && !strings.EqualFold(b.CurrentOwner, filter.Owner) {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		matched = append(matched, b)
	}
	total := len(matched)
	if offset >= total {
		return []*entities.Batch{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *memBatchRepo) Update(_ context.Context, b *entities.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[b.BatchID]
	if !ok {
		return domainerrors.ErrConcurrentUpdate
	}
	if r.conflicts > 0 {
		r.conflicts--
		row.Version++
		return domainerrors.ErrConcurrentUpdate
	}
	if row.Version != b.Version {
		return domainerrors.ErrConcurrentUpdate
	}
	r.updates++
	b.Version++
	r.rows[b.BatchID] = cloneBatch(b)
	return nil
}

func (r *memBatchRepo) get(batchID string) *entities.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[batchID]
}

func (r *memBatchRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// MockLedgerReader mocks the ledger facade
type MockLedgerReader struct {
	mock.Mock
	address string
}

func (m *MockLedgerReader) Address() string { return m.address }

func (m *MockLedgerReader) GetBatchDetails(ctx context.Context, tokenID int64) (*entities.LedgerBatch, error) {
	args := m.Called(ctx, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.LedgerBatch), args.Error(1)
}

func (m *MockLedgerReader) GetTransferHistory(ctx context.Context, tokenID int64) ([]entities.LedgerTransfer, error) {
	args := m.Called(ctx, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.LedgerTransfer), args.Error(1)
}

func (m *MockLedgerReader) GetRole(ctx context.Context, address string) (entities.Role, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(entities.Role), args.Error(1)
}

func (m *MockLedgerReader) IsCounterfeit(ctx context.Context, tokenID int64) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerReader) OwnerOf(ctx context.Context, tokenID int64) (string, error) {
	args := m.Called(ctx, tokenID)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerReader) GetParentBatch(ctx context.Context, tokenID int64) (int64, error) {
	args := m.Called(ctx, tokenID)
	return args.Get(0).(int64), args.Error(1)
}

// MockUnitOfWork runs the callback inline
type MockUnitOfWork struct {
	mock.Mock
}

func (m *MockUnitOfWork) Do(ctx context.Context, fn func(context.Context) error) error {
	m.Called(ctx, fn)
	return fn(ctx)
}

func (m *MockUnitOfWork) WithLock(ctx context.Context) context.Context {
	m.Called(ctx)
	return ctx
}

type recordingEventRepo struct {
	mu      sync.Mutex
	records []*entities.LedgerEventRecord
}

func (r *recordingEventRepo) Record(_ context.Context, rec *entities.LedgerEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingEventRepo) ListByTokenID(_ context.Context, tokenID int64, limit int) ([]*entities.LedgerEventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.LedgerEventRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].Event.TokenID == tokenID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

// ListFailed mirrors the store's upsert: every record of a key counts as an attempt.
func (r *recordingEventRepo) ListFailed(_ context.Context, maxAttempts, limit int) ([]*entities.LedgerEventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := map[string]*entities.LedgerEventRecord{}
	attempts := map[string]int{}
	var keys []string
	for _, rec := range r.records {
		key := rec.Event.Key()
		if _, ok := last[key]; !ok {
			keys = append(keys, key)
		}
		last[key] = rec
		attempts[key]++
	}
	var out []*entities.LedgerEventRecord
	for _, key := range keys {
		rec := last[key]
		if rec.Outcome != entities.EventOutcomeFailed || attempts[key] >= maxAttempts {
			continue
		}
		c := *rec
		c.Attempts = attempts[key]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Event.BlockNumber != out[j].Event.BlockNumber {
			return out[i].Event.BlockNumber < out[j].Event.BlockNumber
		}
		return out[i].Event.LogIndex < out[j].Event.LogIndex
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *recordingEventRepo) outcomes() []entities.EventOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.EventOutcome, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Outcome)
	}
	return out
}

func ledgerBatch(tokenID int64, batchID, hash string) *entities.LedgerBatch {
	return &entities.LedgerBatch{
		TokenID:      tokenID,
		CurrentOwner: testManufacturer,
		CurrentRole:  entities.RoleManufacturer,
		BatchID:      batchID,
		MetadataHash: hash,
		MetadataURI:  "ipfs://meta/" + batchID,
		Manufacturer: testManufacturer,
		Timestamp:    time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

// storedBatch returns a batch whose MetadataHash matches its own fields.
func storedBatch(batchID string, tokenID int64) *entities.Batch {
	b := &entities.Batch{
		BatchID:           batchID,
		LedgerAddress:     testLedgerAddress,
		DrugName:          "Paracetamol 500mg",
		Manufacturer:      testManufacturer,
		ManufacturingDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		ExpiryDate:        time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC),
		Quantity:          1000,
		CurrentOwner:      testManufacturer,
		CurrentRole:       entities.RoleManufacturer,
		Status:            entities.BatchStatusCreated,
	}
	if tokenID > 0 {
		b.TokenID.SetValid(tokenID)
	}
	hash, err := computeStoredHash(b)
	if err != nil {
		panic(err)
	}
	b.MetadataHash = hash
	return b
}

func computeStoredHash(b *entities.Batch) (string, error) {
	return crypto.ComputeMetadataHash(metadataFieldsOf(b))
}
