package entities

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// Role is a supply-chain participant role as recorded by the ledger
type Role string

const (
	RoleNone         Role = "None"
	RoleManufacturer Role = "Manufacturer"
	RoleDistributor  Role = "Distributor"
	RoleRetailer     Role = "Retailer"
	RolePharmacy     Role = "Pharmacy"
)

var ledgerRoles = []Role{RoleNone, RoleManufacturer, RoleDistributor, RoleRetailer, RolePharmacy}

// RoleFromCode maps the contract's uint8 role enum. Unknown codes map to RoleNone.
func RoleFromCode(code uint8) Role {
	if int(code) < len(ledgerRoles) {
		return ledgerRoles[code]
	}
	return RoleNone
}

// Code returns the contract enum value for the role
func (r Role) Code() uint8 {
	for i, role := range ledgerRoles {
		if role == r {
			return uint8(i)
		}
	}
	return 0
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	for _, role := range ledgerRoles {
		if role == r {
			return true
		}
	}
	return false
}

// BatchStatus represents the lifecycle status of a batch
type BatchStatus string

const (
	BatchStatusCreated   BatchStatus = "Created"
	BatchStatusInTransit BatchStatus = "InTransit"
	BatchStatusInStore   BatchStatus = "InStore"
	BatchStatusDelivered BatchStatus = "Delivered"
	BatchStatusFlagged   BatchStatus = "Flagged"
)

// Valid reports whether s is a known status
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusInTransit, BatchStatusInStore, BatchStatusDelivered, BatchStatusFlagged:
		return true
	}
	return false
}

// StatusForRole returns the status a batch takes after a custody move to role.
func StatusForRole(role Role) BatchStatus {
	if role == RolePharmacy {
		return BatchStatusDelivered
	}
	return BatchStatusInTransit
}

// TransferRecord is one entry of a batch's custody history
type TransferRecord struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	FromRole  Role        `json:"fromRole"`
	ToRole    Role        `json:"toRole"`
	Timestamp time.Time   `json:"timestamp"`
	TxHash    null.String `json:"txHash,omitempty"`
}

// Batch is the off-chain mirror of a PharmaNFT batch
type Batch struct {
	ID                uuid.UUID        `json:"id"`
	BatchID           string           `json:"batchID"`
	TokenID           null.Int64       `json:"tokenId"`
	LedgerAddress     string           `json:"contractAddress,omitempty"`
	DrugName          string           `json:"drugName"`
	Manufacturer      string           `json:"manufacturer"`
	ManufacturerName  string           `json:"manufacturerName,omitempty"`
	ManufacturingDate time.Time        `json:"manufacturingDate"`
	ExpiryDate        time.Time        `json:"expiryDate"`
	Quantity          int64            `json:"quantity"`
	CurrentOwner      string           `json:"currentOwner"`
	CurrentRole       Role             `json:"currentRole"`
	Status            BatchStatus      `json:"status"`
	MetadataHash      string           `json:"metadataHash"`
	MetadataURI       null.String      `json:"metadataURI,omitempty"`
	QACertificateHash null.String      `json:"qaCertificateHash,omitempty"`
	IsCounterfeit     bool             `json:"isCounterfeit"`
	NeedsEnrichment   bool             `json:"needsEnrichment"`
	ParentBatchID     null.Int64       `json:"parentBatchId,omitempty"`
	ChildBatchIDs     []int64          `json:"childBatchIds"`
	History           []TransferRecord `json:"history"`
	QRData            json.RawMessage  `json:"qrData,omitempty"`
	QRSignature       null.String      `json:"qrSignature,omitempty"`
	Version           int64            `json:"-"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// IsBound reports whether a ledger token has been bound to the batch
func (b *Batch) IsBound() bool {
	return b.TokenID.Valid
}

// HasTransferWithin reports whether history already holds a (from, to) move
// whose timestamp lies within window of at.
func (b *Batch) HasTransferWithin(from, to string, at time.Time, window time.Duration) bool {
	for _, h := range b.History {
		if !strings.EqualFold(h.From, from) || !strings.EqualFold(h.To, to) {
			continue
		}
		d := at.Sub(h.Timestamp)
		if d < 0 {
			d = -d
		}
		if d < window {
			return true
		}
	}
	return false
}

// AppendTransfer appends rec unless an equivalent move is already inside the
// coalescing window. It returns whether the record was added.
func (b *Batch) AppendTransfer(rec TransferRecord, window time.Duration) bool {
	rec.From = strings.ToLower(rec.From)
	rec.To = strings.ToLower(rec.To)
	if b.HasTransferWithin(rec.From, rec.To, rec.Timestamp, window) {
		return false
	}
	b.History = append(b.History, rec)
	return true
}

// AddChild appends childID to ChildBatchIDs once
func (b *Batch) AddChild(childID int64) bool {
	for _, id := range b.ChildBatchIDs {
		if id == childID {
			return false
		}
	}
	b.ChildBatchIDs = append(b.ChildBatchIDs, childID)
	return true
}

// BatchFilter narrows batch listings
type BatchFilter struct {
	Owner        string
	Manufacturer string
	Status       BatchStatus
	Role         Role
}
