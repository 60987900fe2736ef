package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/domain/repositories"
	"pharma-chain.backend/pkg/crypto"
	"pharma-chain.backend/pkg/logger"
	"pharma-chain.backend/pkg/utils"
)

type BatchUsecase struct {
	batchRepo      repositories.BatchRepository
	eventRepo      repositories.LedgerEventRepository
	coalesceWindow time.Duration
	now            func() time.Time
}

func NewBatchUsecase(
	batchRepo repositories.BatchRepository,
	eventRepo repositories.LedgerEventRepository,
	coalesceWindow time.Duration,
) *BatchUsecase {
	if coalesceWindow <= 0 {
		coalesceWindow = DefaultCoalesceWindow
	}
	return &BatchUsecase{
		batchRepo:      batchRepo,
		eventRepo:      eventRepo,
		coalesceWindow: coalesceWindow,
		now:            time.Now,
	}
}

type CreateBatchInput struct {
	BatchID           string
	DrugName          string
	ManufacturingDate string
	ExpiryDate        string
	Quantity          int64
	Manufacturer      string
	ManufacturerName  string
	MetadataHash      string
	TokenID           *int64
	ContractAddress   string
	QACertificate     []byte
}

type CreateBatchOutput struct {
	BatchID      string          `json:"batchId"`
	MetadataHash string          `json:"metadataHash"`
	TokenID      *int64          `json:"tokenId,omitempty"`
	Created      bool            `json:"-"`
	Batch        *entities.Batch `json:"batch"`
}

func newCreateBatchOutput(b *entities.Batch, created bool) *CreateBatchOutput {
	out := &CreateBatchOutput{
		BatchID:      b.BatchID,
		MetadataHash: b.MetadataHash,
		Created:      created,
		Batch:        b,
	}
	if b.IsBound() {
		id := b.TokenID.Int64
		out.TokenID = &id
	}
	return out
}

// CreateBatch registers a manufacturer batch. An existing batch id is merged
// and returned with Created=false.
func (uc *BatchUsecase) CreateBatch(ctx context.Context, input CreateBatchInput) (*CreateBatchOutput, error) {
	batchID := strings.TrimSpace(input.BatchID)
	if batchID == "" || strings.TrimSpace(input.DrugName) == "" || input.ManufacturingDate == "" ||
		input.ExpiryDate == "" || strings.TrimSpace(input.Manufacturer) == "" {
		return nil, fmt.Errorf("missing required fields: %w", domainerrors.ErrInvalidInput)
	}
	if input.Quantity < 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", domainerrors.ErrInvalidInput)
	}
	if input.TokenID != nil && *input.TokenID < 0 {
		return nil, fmt.Errorf("tokenId must not be negative: %w", domainerrors.ErrInvalidInput)
	}
	mfg, err := crypto.ParseDate(input.ManufacturingDate)
	if err != nil {
		return nil, fmt.Errorf("manufacturingDate: %v: %w", err, domainerrors.ErrInvalidInput)
	}
	exp, err := crypto.ParseDate(input.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("expiryDate: %v: %w", err, domainerrors.ErrInvalidInput)
	}

	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	manufacturer := strings.ToLower(strings.TrimSpace(input.Manufacturer))

	existing, err := uc.batchRepo.GetByBatchID(ctx, batchID)
	if err == nil {
		return uc.mergeExisting(ctx, existing, input, mfg, exp, quantity)
	}
	if !errors.Is(err, domainerrors.ErrBatchNotFound) {
		return nil, err
	}

	hash := normalizeHash(input.MetadataHash)
	if hash == "" {
		hash, err = crypto.ComputeMetadataHash(crypto.MetadataFields{
			BatchID:           batchID,
			DrugName:          input.DrugName,
			ManufacturingDate: mfg,
			ExpiryDate:        exp,
			Quantity:          quantity,
			Manufacturer:      manufacturer,
		})
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, domainerrors.ErrInvalidInput)
		}
	}

	batch := &entities.Batch{
		BatchID:           batchID,
		LedgerAddress:     strings.ToLower(strings.TrimSpace(input.ContractAddress)),
		DrugName:          input.DrugName,
		Manufacturer:      manufacturer,
		ManufacturerName:  input.ManufacturerName,
		ManufacturingDate: crypto.TruncateDate(mfg),
		ExpiryDate:        crypto.TruncateDate(exp),
		Quantity:          quantity,
		CurrentOwner:      manufacturer,
		CurrentRole:       entities.RoleManufacturer,
		Status:            entities.BatchStatusCreated,
		MetadataHash:      hash,
		ChildBatchIDs:     []int64{},
		History:           []entities.TransferRecord{},
	}
	if input.TokenID != nil {
		batch.TokenID = null.Int64From(*input.TokenID)
	}
	if len(input.QACertificate) > 0 {
		batch.QACertificateHash = null.StringFrom(crypto.FileHash(input.QACertificate))
	}

	if err := uc.batchRepo.Create(ctx, batch); err != nil {
		if !errors.Is(err, domainerrors.ErrDuplicateKey) {
			return nil, err
		}
		// lost the insert race to the listener or another request
		existing, ferr := uc.batchRepo.GetByBatchID(ctx, batchID)
		if ferr != nil {
			return nil, fmt.Errorf("batch ID or token ID already exists: %w", domainerrors.ErrDuplicateKey)
		}
		return uc.mergeExisting(ctx, existing, input, mfg, exp, quantity)
	}

	logger.Info(ctx, "Batch created",
		zap.String("batch_id", batchID),
		zap.String("manufacturer", manufacturer),
	)
	return newCreateBatchOutput(batch, true), nil
}

func (uc *BatchUsecase) mergeExisting(
	ctx context.Context,
	existing *entities.Batch,
	input CreateBatchInput,
	mfg, exp time.Time,
	quantity int64,
) (*CreateBatchOutput, error) {
	updated, _, err := updateBatchWithRetry(ctx, uc.batchRepo, existing, func(b *entities.Batch) (bool, error) {
		changed := false
		if input.TokenID != nil {
			switch {
			case !b.IsBound():
				b.TokenID = null.Int64From(*input.TokenID)
				changed = true
			case b.TokenID.Int64 != *input.TokenID:
				return false, domainerrors.ErrTokenAlreadyBound
			}
		}
		if addr := strings.ToLower(strings.TrimSpace(input.ContractAddress)); addr != "" && b.LedgerAddress != addr {
			b.LedgerAddress = addr
			changed = true
		}
		// before a mint the store hash is still ours to set
		if hash := normalizeHash(input.MetadataHash); hash != "" && !b.IsBound() && b.MetadataHash != hash {
			b.MetadataHash = hash
			changed = true
		}
		if len(input.QACertificate) > 0 {
			if h := crypto.FileHash(input.QACertificate); b.QACertificateHash.String != h {
				b.QACertificateHash = null.StringFrom(h)
				changed = true
			}
		}
		if b.NeedsEnrichment {
			b.DrugName = input.DrugName
			b.ManufacturingDate = crypto.TruncateDate(mfg)
			b.ExpiryDate = crypto.TruncateDate(exp)
			b.Quantity = quantity
			if input.ManufacturerName != "" {
				b.ManufacturerName = input.ManufacturerName
			}
			b.NeedsEnrichment = false
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return newCreateBatchOutput(updated, false), nil
}

func (uc *BatchUsecase) GetBatch(ctx context.Context, id string) (*entities.Batch, error) {
	return lookupByAnyID(ctx, uc.batchRepo, id)
}

func (uc *BatchUsecase) ListBatches(ctx context.Context, filter entities.BatchFilter, page, limit int) ([]*entities.Batch, utils.PaginationMeta, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, utils.PaginationMeta{}, fmt.Errorf("unknown status %q: %w", filter.Status, domainerrors.ErrInvalidInput)
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, utils.PaginationMeta{}, fmt.Errorf("unknown role %q: %w", filter.Role, domainerrors.ErrInvalidInput)
	}
	params := utils.GetPaginationParams(page, limit, DefaultPageLimit, MaxPageLimit)

	batches, total, err := uc.batchRepo.List(ctx, filter, params.Limit, params.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, err
	}
	return batches, utils.CalculateMeta(int64(total), params.Page, params.Limit), nil
}

type RecordTransferInput struct {
	From     string
	To       string
	FromRole entities.Role
	ToRole   entities.Role
	TxHash   string
}

// RecordTransfer appends a custody move reported by a client. Moves already
// recorded by the listener inside the coalescing window are not duplicated.
func (uc *BatchUsecase) RecordTransfer(ctx context.Context, id string, input RecordTransferInput) (*entities.Batch, error) {
	if strings.TrimSpace(input.From) == "" || strings.TrimSpace(input.To) == "" || input.FromRole == "" || input.ToRole == "" {
		return nil, fmt.Errorf("missing transfer details: %w", domainerrors.ErrInvalidInput)
	}
	if !input.FromRole.Valid() || !input.ToRole.Valid() {
		return nil, fmt.Errorf("unknown role: %w", domainerrors.ErrInvalidInput)
	}

	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}

	rec := entities.TransferRecord{
		From:      input.From,
		To:        input.To,
		FromRole:  input.FromRole,
		ToRole:    input.ToRole,
		Timestamp: uc.now().UTC(),
	}
	if input.TxHash != "" {
		rec.TxHash = null.StringFrom(strings.ToLower(input.TxHash))
	}

	updated, _, err := updateBatchWithRetry(ctx, uc.batchRepo, batch, func(b *entities.Batch) (bool, error) {
		changed := b.AppendTransfer(rec, uc.coalesceWindow)
		to := strings.ToLower(input.To)
		if b.CurrentOwner != to {
			b.CurrentOwner = to
			changed = true
		}
		if b.CurrentRole != input.ToRole {
			b.CurrentRole = input.ToRole
			changed = true
		}
		if status := entities.StatusForRole(input.ToRole); !b.IsCounterfeit && b.Status != status {
			b.Status = status
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Transfer recorded",
		zap.String("batch_id", updated.BatchID),
		zap.String("to", rec.To),
		zap.String("to_role", string(input.ToRole)),
	)
	return updated, nil
}

func (uc *BatchUsecase) GetHistory(ctx context.Context, id string) ([]entities.TransferRecord, error) {
	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}
	if batch.History == nil {
		return []entities.TransferRecord{}, nil
	}
	return batch.History, nil
}

type MetadataView struct {
	Batch     *entities.Batch `json:"metadata"`
	HashValid bool            `json:"hashValid"`
}

// GetMetadata returns a batch together with its store hash integrity.
func (uc *BatchUsecase) GetMetadata(ctx context.Context, id string) (*MetadataView, error) {
	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}
	return &MetadataView{
		Batch:     batch,
		HashValid: crypto.VerifyMetadataHash(metadataFieldsOf(batch), batch.MetadataHash),
	}, nil
}

type VerifyMetadataInput struct {
	TokenID  *int64
	BatchID  string
	Metadata crypto.MetadataFields
}

type VerifyMetadataOutput struct {
	Valid      bool   `json:"valid"`
	StoredHash string `json:"storedHash"`
}

// VerifyMetadata checks candidate metadata against the stored hash.
func (uc *BatchUsecase) VerifyMetadata(ctx context.Context, input VerifyMetadataInput) (*VerifyMetadataOutput, error) {
	var (
		batch *entities.Batch
		err   error
	)
	switch {
	case input.TokenID != nil:
		batch, err = uc.batchRepo.GetByTokenID(ctx, *input.TokenID)
	case strings.TrimSpace(input.BatchID) != "":
		batch, err = uc.batchRepo.GetByBatchID(ctx, strings.TrimSpace(input.BatchID))
	default:
		return nil, fmt.Errorf("tokenId or batchID required: %w", domainerrors.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	return &VerifyMetadataOutput{
		Valid:      crypto.VerifyMetadataHash(input.Metadata, batch.MetadataHash),
		StoredHash: batch.MetadataHash,
	}, nil
}

// ListEvents returns the recorded ledger events for a batch, newest first.
func (uc *BatchUsecase) ListEvents(ctx context.Context, id string, limit int) ([]*entities.LedgerEventRecord, error) {
	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}
	if !batch.IsBound() || uc.eventRepo == nil {
		return []*entities.LedgerEventRecord{}, nil
	}
	if limit <= 0 || limit > MaxPageLimit {
		limit = DefaultEventListLimit
	}
	return uc.eventRepo.ListByTokenID(ctx, batch.TokenID.Int64, limit)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
}

// updatableFields are the batch fields a client may change after creation.
// Everything else is immutable or owned by the ledger.
var updatableFields = map[string]bool{
	"metadataURI": true,
	"qrData":      true,
	"qrSignature": true,
}

func isLedgerOwned(field string) bool {
	if field == "status" {
		return true
	}
	for _, name := range entities.LedgerOwnedFieldNames() {
		if name == field {
			return true
		}
	}
	return false
}

// UpdateBatch applies a partial update limited to client-owned fields.
// Ledger-owned and immutable fields are refused, never silently dropped.
func (uc *BatchUsecase) UpdateBatch(ctx context.Context, id string, fields map[string]json.RawMessage) (*entities.Batch, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update: %w", domainerrors.ErrInvalidInput)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if isLedgerOwned(name) {
			return nil, fmt.Errorf("%s is owned by the ledger: %w", name, domainerrors.ErrInvalidInput)
		}
		if !updatableFields[name] {
			return nil, fmt.Errorf("%s cannot be updated: %w", name, domainerrors.ErrInvalidInput)
		}
	}

	var uri, signature null.String
	if raw, ok := fields["metadataURI"]; ok {
		if err := json.Unmarshal(raw, &uri); err != nil {
			return nil, fmt.Errorf("metadataURI: %v: %w", err, domainerrors.ErrInvalidInput)
		}
	}
	if raw, ok := fields["qrSignature"]; ok {
		if err := json.Unmarshal(raw, &signature); err != nil {
			return nil, fmt.Errorf("qrSignature: %v: %w", err, domainerrors.ErrInvalidInput)
		}
	}
	qrData, hasQR := fields["qrData"]
	if hasQR {
		if !json.Valid(qrData) {
			return nil, fmt.Errorf("qrData must be JSON: %w", domainerrors.ErrInvalidInput)
		}
		if isJSONNull(qrData) {
			qrData = nil
		}
	}

	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}
	updated, _, err := updateBatchWithRetry(ctx, uc.batchRepo, batch, func(b *entities.Batch) (bool, error) {
		changed := false
		if _, ok := fields["metadataURI"]; ok && b.MetadataURI != uri {
			b.MetadataURI = uri
			changed = true
		}
		if _, ok := fields["qrSignature"]; ok && b.QRSignature != signature {
			b.QRSignature = signature
			changed = true
		}
		if hasQR && !bytes.Equal(b.QRData, qrData) {
			b.QRData = qrData
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Batch updated",
		zap.String("batch_id", updated.BatchID),
		zap.Strings("fields", names),
	)
	return updated, nil
}

type StoreQRInput struct {
	TokenID     *int64
	BatchID     string
	QRData      json.RawMessage
	QRSignature string
}

// QRView is the stored QR payload of a batch
type QRView struct {
	QRData      json.RawMessage `json:"qrData"`
	QRSignature null.String     `json:"qrSignature"`
	BatchID     string          `json:"batchID"`
	TokenID     null.Int64      `json:"tokenId"`
}

// StoreQR attaches a signed QR payload to a batch, replacing any previous one.
func (uc *BatchUsecase) StoreQR(ctx context.Context, input StoreQRInput) (*entities.Batch, error) {
	signature := strings.TrimSpace(input.QRSignature)
	if len(input.QRData) == 0 || isJSONNull(input.QRData) || signature == "" {
		return nil, fmt.Errorf("QR data and signature required: %w", domainerrors.ErrInvalidInput)
	}
	if !json.Valid(input.QRData) {
		return nil, fmt.Errorf("qrData must be JSON: %w", domainerrors.ErrInvalidInput)
	}

	var (
		batch *entities.Batch
		err   error
	)
	switch {
	case input.TokenID != nil:
		batch, err = uc.batchRepo.GetByTokenID(ctx, *input.TokenID)
	case strings.TrimSpace(input.BatchID) != "":
		batch, err = uc.batchRepo.GetByBatchID(ctx, strings.TrimSpace(input.BatchID))
	default:
		return nil, fmt.Errorf("tokenId or batchID required: %w", domainerrors.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	updated, _, err := updateBatchWithRetry(ctx, uc.batchRepo, batch, func(b *entities.Batch) (bool, error) {
		if bytes.Equal(b.QRData, input.QRData) && b.QRSignature.String == signature {
			return false, nil
		}
		b.QRData = append(json.RawMessage(nil), input.QRData...)
		b.QRSignature = null.StringFrom(signature)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "QR code stored", zap.String("batch_id", updated.BatchID))
	return updated, nil
}

// GetQR returns the QR payload stored for a batch. A batch without one
// yields null fields, not an error.
func (uc *BatchUsecase) GetQR(ctx context.Context, id string) (*QRView, error) {
	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}
	view := &QRView{
		QRData:      batch.QRData,
		QRSignature: batch.QRSignature,
		BatchID:     batch.BatchID,
		TokenID:     batch.TokenID,
	}
	if len(view.QRData) == 0 {
		view.QRData = json.RawMessage("null")
	}
	return view, nil
}

// TransferFilter narrows ListTransfers. TokenID or BatchID restrict the
// listing to one batch; From and To match addresses case-insensitively.
type TransferFilter struct {
	TokenID *int64
	BatchID string
	From    string
	To      string
}

// TransferView is a history entry tagged with its batch
type TransferView struct {
	BatchID string     `json:"batchID"`
	TokenID null.Int64 `json:"tokenId"`
	entities.TransferRecord
}

// ListTransfers flattens custody history across batches.
func (uc *BatchUsecase) ListTransfers(ctx context.Context, filter TransferFilter) ([]TransferView, error) {
	var batches []*entities.Batch
	switch {
	case filter.TokenID != nil:
		batch, err := uc.batchRepo.GetByTokenID(ctx, *filter.TokenID)
		if err != nil {
			return nil, err
		}
		batches = []*entities.Batch{batch}
	case strings.TrimSpace(filter.BatchID) != "":
		batch, err := uc.batchRepo.GetByBatchID(ctx, strings.TrimSpace(filter.BatchID))
		if err != nil {
			return nil, err
		}
		batches = []*entities.Batch{batch}
	default:
		for offset := 0; ; offset += MaxPageLimit {
			page, total, err := uc.batchRepo.List(ctx, entities.BatchFilter{}, MaxPageLimit, offset)
			if err != nil {
				return nil, err
			}
			batches = append(batches, page...)
			if len(page) == 0 || offset+len(page) >= total {
				break
			}
		}
	}

	transfers := []TransferView{}
	for _, b := range batches {
		for _, h := range b.History {
			if filter.From != "" && !strings.EqualFold(h.From, filter.From) {
				continue
			}
			if filter.To != "" && !strings.EqualFold(h.To, filter.To) {
				continue
			}
			transfers = append(transfers, TransferView{BatchID: b.BatchID, TokenID: b.TokenID, TransferRecord: h})
		}
	}
	return transfers, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
