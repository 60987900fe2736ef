package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/infrastructure/models"
	"pharma-chain.backend/pkg/utils"
)

// BatchRepositoryImpl implements BatchRepository
type BatchRepositoryImpl struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepositoryImpl {
	return &BatchRepositoryImpl{db: db}
}

func (r *BatchRepositoryImpl) Create(ctx context.Context, batch *entities.Batch) error {
	if batch.ID == uuid.Nil {
		batch.ID = utils.GenerateUUIDv7()
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	batch.Version = 0

	m := toBatchModel(batch)
	if err := GetDB(ctx, r.db).WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domainerrors.ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *BatchRepositoryImpl) GetByBatchID(ctx context.Context, batchID string) (*entities.Batch, error) {
	return r.first(ctx, "batch_id = ?", batchID)
}

func (r *BatchRepositoryImpl) GetByTokenID(ctx context.Context, tokenID int64) (*entities.Batch, error) {
	return r.first(ctx, "token_id = ?", tokenID)
}

func (r *BatchRepositoryImpl) first(ctx context.Context, query string, args ...interface{}) (*entities.Batch, error) {
	var m models.Batch
	if err := GetDB(ctx, r.db).WithContext(ctx).Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrBatchNotFound
		}
		return nil, err
	}
	return toBatchEntity(&m), nil
}

func (r *BatchRepositoryImpl) ListWithToken(ctx context.Context) ([]*entities.Batch, error) {
	var ms []models.Batch
	if err := r.db.WithContext(ctx).
		Where("token_id IS NOT NULL").
		Order("token_id ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return toBatchEntities(ms), nil
}

func (r *BatchRepositoryImpl) List(ctx context.Context, filter entities.BatchFilter, limit, offset int) ([]*entities.Batch, int, error) {
	query := r.db.WithContext(ctx).Model(&models.Batch{})
	if filter.Owner != "" {
		query = query.Where("current_owner = ?", strings.ToLower(filter.Owner))
	}
	if filter.Manufacturer != "" {
		query = query.Where("manufacturer = ?", strings.ToLower(filter.Manufacturer))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Role != "" {
		query = query.Where("owner_role = ?", string(filter.Role))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.Batch
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, 0, err
	}
	return toBatchEntities(ms), int(total), nil
}

// Update performs a compare-and-swap on the version column.
func (r *BatchRepositoryImpl) Update(ctx context.Context, batch *entities.Batch) error {
	m := toBatchModel(batch)
	now := time.Now().UTC()

	result := GetDB(ctx, r.db).WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]interface{}{
			"token_id":            m.TokenID,
			"ledger_address":      m.LedgerAddress,
			"drug_name":           m.DrugName,
			"manufacturer":        m.Manufacturer,
			"manufacturer_name":   m.ManufacturerName,
			"manufacturing_date":  m.ManufacturingDate,
			"expiry_date":         m.ExpiryDate,
			"quantity":            m.Quantity,
			"current_owner":       m.CurrentOwner,
			"owner_role":          m.CurrentRole,
			"status":              m.Status,
			"metadata_hash":       m.MetadataHash,
			"metadata_uri":        m.MetadataURI,
			"qa_certificate_hash": m.QACertificateHash,
			"is_counterfeit":      m.IsCounterfeit,
			"needs_enrichment":    m.NeedsEnrichment,
			"parent_batch_id":     m.ParentBatchID,
			"child_batch_ids":     m.ChildBatchIDs,
			"history":             m.History,
			"qr_data":             m.QRData,
			"qr_signature":        m.QRSignature,
			"version":             batch.Version + 1,
			"updated_at":          now,
		})
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return domainerrors.ErrDuplicateKey
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConcurrentUpdate
	}
	batch.Version++
	batch.UpdatedAt = now
	return nil
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func toBatchModel(b *entities.Batch) *models.Batch {
	history := make([]models.TransferRecord, 0, len(b.History))
	for _, h := range b.History {
		history = append(history, models.TransferRecord{
			From:      h.From,
			To:        h.To,
			FromRole:  string(h.FromRole),
			ToRole:    string(h.ToRole),
			Timestamp: h.Timestamp,
			TxHash:    h.TxHash.String,
		})
	}
	children := make([]int64, 0, len(b.ChildBatchIDs))
	children = append(children, b.ChildBatchIDs...)

	var qrData null.String
	if len(b.QRData) > 0 {
		qrData = null.StringFrom(string(b.QRData))
	}

	return &models.Batch{
		ID:                b.ID,
		BatchID:           b.BatchID,
		TokenID:           b.TokenID,
		LedgerAddress:     strings.ToLower(b.LedgerAddress),
		DrugName:          b.DrugName,
		Manufacturer:      strings.ToLower(b.Manufacturer),
		ManufacturerName:  b.ManufacturerName,
		ManufacturingDate: b.ManufacturingDate,
		ExpiryDate:        b.ExpiryDate,
		Quantity:          b.Quantity,
		CurrentOwner:      strings.ToLower(b.CurrentOwner),
		CurrentRole:       string(b.CurrentRole),
		Status:            string(b.Status),
		MetadataHash:      b.MetadataHash,
		MetadataURI:       b.MetadataURI,
		QACertificateHash: b.QACertificateHash,
		IsCounterfeit:     b.IsCounterfeit,
		NeedsEnrichment:   b.NeedsEnrichment,
		ParentBatchID:     b.ParentBatchID,
		ChildBatchIDs:     children,
		History:           history,
		QRData:            qrData,
		QRSignature:       b.QRSignature,
		Version:           b.Version,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func toBatchEntity(m *models.Batch) *entities.Batch {
	history := make([]entities.TransferRecord, 0, len(m.History))
	for _, h := range m.History {
		rec := entities.TransferRecord{
			From:      h.From,
			To:        h.To,
			FromRole:  entities.Role(h.FromRole),
			ToRole:    entities.Role(h.ToRole),
			Timestamp: h.Timestamp,
		}
		if h.TxHash != "" {
			rec.TxHash.SetValid(h.TxHash)
		}
		history = append(history, rec)
	}

	var qrData json.RawMessage
	if m.QRData.Valid && m.QRData.String != "" {
		qrData = json.RawMessage(m.QRData.String)
	}

	return &entities.Batch{
		ID:                m.ID,
		BatchID:           m.BatchID,
		TokenID:           m.TokenID,
		LedgerAddress:     m.LedgerAddress,
		DrugName:          m.DrugName,
		Manufacturer:      m.Manufacturer,
		ManufacturerName:  m.ManufacturerName,
		ManufacturingDate: m.ManufacturingDate.UTC(),
		ExpiryDate:        m.ExpiryDate.UTC(),
		Quantity:          m.Quantity,
		CurrentOwner:      m.CurrentOwner,
		CurrentRole:       entities.Role(m.CurrentRole),
		Status:            entities.BatchStatus(m.Status),
		MetadataHash:      m.MetadataHash,
		MetadataURI:       m.MetadataURI,
		QACertificateHash: m.QACertificateHash,
		IsCounterfeit:     m.IsCounterfeit,
		NeedsEnrichment:   m.NeedsEnrichment,
		ParentBatchID:     m.ParentBatchID,
		ChildBatchIDs:     append([]int64{}, m.ChildBatchIDs...),
		History:           history,
		QRData:            qrData,
		QRSignature:       m.QRSignature,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toBatchEntities(ms []models.Batch) []*entities.Batch {
	batches := make([]*entities.Batch, 0, len(ms))
	for i := range ms {
		batches = append(batches, toBatchEntity(&ms[i]))
	}
	return batches
}
