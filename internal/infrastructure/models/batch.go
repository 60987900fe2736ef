package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/datatypes"
)

// TransferRecord is the jsonb element of Batch.History
type TransferRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromRole  string    `json:"fromRole"`
	ToRole    string    `json:"toRole"`
	Timestamp time.Time `json:"timestamp"`
	TxHash    string    `json:"txHash,omitempty"`
}

type Batch struct {
	ID                uuid.UUID                           `gorm:"type:uuid;primaryKey"`
	BatchID           string                              `gorm:"column:batch_id;type:varchar(255);not null;uniqueIndex"`
	TokenID           null.Int64                          `gorm:"column:token_id;uniqueIndex"`
	LedgerAddress     string                              `gorm:"column:ledger_address;type:varchar(64)"`
	DrugName          string                              `gorm:"type:varchar(255);not null"`
	Manufacturer      string                              `gorm:"type:varchar(64);not null;index"`
	ManufacturerName  string                              `gorm:"type:varchar(255)"`
	ManufacturingDate time.Time                           `gorm:"not null"`
	ExpiryDate        time.Time                           `gorm:"not null"`
	Quantity          int64                               `gorm:"not null;default:1"`
	CurrentOwner      string                              `gorm:"type:varchar(64);not null;index"`
	CurrentRole       string                              `gorm:"column:owner_role;type:varchar(32);not null"`
	Status            string                              `gorm:"type:varchar(32);not null;index"`
	MetadataHash      string                              `gorm:"type:varchar(64);not null;index"`
	MetadataURI       null.String                         `gorm:"column:metadata_uri;type:text"`
	QACertificateHash null.String                         `gorm:"column:qa_certificate_hash;type:varchar(64)"`
	IsCounterfeit     bool                                `gorm:"not null;default:false;index"`
	NeedsEnrichment   bool                                `gorm:"not null;default:false"`
	ParentBatchID     null.Int64                          `gorm:"column:parent_batch_id;index"`
	ChildBatchIDs     datatypes.JSONSlice[int64]          `gorm:"column:child_batch_ids;type:jsonb"`
	History           datatypes.JSONSlice[TransferRecord] `gorm:"column:history;type:jsonb"`
	QRData            null.String                         `gorm:"column:qr_data;type:jsonb"`
	QRSignature       null.String                         `gorm:"column:qr_signature;type:text"`
	Version           int64                               `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Batch) TableName() string {
	return "batches"
}
