package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"pharma-chain.backend/internal/domain/entities"
	"pharma-chain.backend/internal/infrastructure/models"
	"pharma-chain.backend/pkg/utils"
)

// LedgerEventRepository implements ledger event audit operations
type LedgerEventRepository struct {
	db *gorm.DB
}

// NewLedgerEventRepository creates a new ledger event repository
func NewLedgerEventRepository(db *gorm.DB) *LedgerEventRepository {
	return &LedgerEventRepository{db: db}
}

// Record inserts the audit row. A repeated event key is ignored unless the
// stored row failed, in which case the retry outcome overwrites it.
func (r *LedgerEventRepository) Record(ctx context.Context, record *entities.LedgerEventRecord) error {
	if record.ID == uuid.Nil {
		record.ID = utils.GenerateUUIDv7()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(record.Event)
	if err != nil {
		return err
	}

	m := &models.LedgerEvent{
		ID:          record.ID,
		EventKey:    record.Event.Key(),
		EventType:   string(record.Event.Type),
		TokenID:     record.Event.TokenID,
		TxHash:      record.Event.TxHash,
		BlockNumber: int64(record.Event.BlockNumber),
		LogIndex:    int(record.Event.LogIndex),
		Outcome:     string(record.Outcome),
		Error:       record.Error,
		Attempts:    1,
		Payload:     datatypes.JSON(payload),
		CreatedAt:   record.CreatedAt,
	}

	return GetDB(ctx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_key"}},
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: m.TableName(), Name: "outcome"}, Value: string(entities.EventOutcomeFailed)},
			}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"outcome":  m.Outcome,
				"error":    m.Error,
				"attempts": gorm.Expr(m.TableName() + ".attempts + 1"),
			}),
		}).
		Create(m).Error
}

// ListByTokenID returns the newest events for a token first
func (r *LedgerEventRepository) ListByTokenID(ctx context.Context, tokenID int64, limit int) ([]*entities.LedgerEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var ms []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("block_number DESC, log_index DESC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}

	return toLedgerEventRecords(ms)
}

// ListFailed returns events whose last outcome was failed and that still have retry budget
func (r *LedgerEventRepository) ListFailed(ctx context.Context, maxAttempts, limit int) ([]*entities.LedgerEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var ms []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("outcome = ? AND attempts < ?", string(entities.EventOutcomeFailed), maxAttempts).
		Order("block_number ASC, log_index ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return toLedgerEventRecords(ms)
}

func toLedgerEventRecords(ms []models.LedgerEvent) ([]*entities.LedgerEventRecord, error) {
	records := make([]*entities.LedgerEventRecord, 0, len(ms))
	for _, m := range ms {
		var event entities.LedgerEvent
		if len(m.Payload) > 0 {
			if err := json.Unmarshal(m.Payload, &event); err != nil {
				return nil, err
			}
		}
		records = append(records, &entities.LedgerEventRecord{
			ID:        m.ID,
			Event:     event,
			Outcome:   entities.EventOutcome(m.Outcome),
			Error:     m.Error,
			Attempts:  m.Attempts,
			CreatedAt: m.CreatedAt,
		})
	}
	return records, nil
}
