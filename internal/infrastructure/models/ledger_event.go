package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LedgerEvent is the audit row written for every dispatched contract log
type LedgerEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventKey    string    `gorm:"column:event_key;type:varchar(100);not null;uniqueIndex"`
	EventType   string    `gorm:"type:varchar(50);not null;index"`
	TokenID     int64     `gorm:"index"`
	TxHash      string    `gorm:"type:varchar(66)"`
	BlockNumber int64
	LogIndex    int
	Outcome     string         `gorm:"type:varchar(20);not null;index"`
	Error       string         `gorm:"type:text"`
	Attempts    int            `gorm:"not null;default:1"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (LedgerEvent) TableName() string {
	return "ledger_events"
}
