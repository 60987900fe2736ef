package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LedgerBatch is the authoritative view returned by getBatchDetails
type LedgerBatch struct {
	TokenID      int64
	CurrentOwner string
	CurrentRole  Role
	BatchID      string
	MetadataHash string
	MetadataURI  string
	QRCodeURI    string
	Timestamp    time.Time
	Manufacturer string
}

// LedgerTransfer is one entry of getTransferHistory
type LedgerTransfer struct {
	From      string
	To        string
	Timestamp time.Time
	FromRole  Role
	ToRole    Role
}

// LedgerState carries the fields the ledger owns for a batch
type LedgerState struct {
	CurrentOwner  string
	CurrentRole   Role
	IsCounterfeit bool
	MetadataHash  string
}

type ledgerField struct {
	Name  string
	apply func(b *Batch, s LedgerState) bool
}

// ledgerOwnedFields lists every store field whose value is a cache of ledger
// state. ApplyLedgerState is the only writer for these fields during reconciliation.
var ledgerOwnedFields = []ledgerField{
	{Name: "currentOwner", apply: func(b *Batch, s LedgerState) bool {
		owner := strings.ToLower(s.CurrentOwner)
		if owner == "" || b.CurrentOwner == owner {
			return false
		}
		b.CurrentOwner = owner
		return true
	}},
	{Name: "currentRole", apply: func(b *Batch, s LedgerState) bool {
		if s.CurrentRole == "" || b.CurrentRole == s.CurrentRole {
			return false
		}
		b.CurrentRole = s.CurrentRole
		return true
	}},
	{Name: "isCounterfeit", apply: func(b *Batch, s LedgerState) bool {
		if b.IsCounterfeit == s.IsCounterfeit {
			return false
		}
		b.IsCounterfeit = s.IsCounterfeit
		return true
	}},
	{Name: "metadataHash", apply: func(b *Batch, s LedgerState) bool {
		hash := strings.ToLower(s.MetadataHash)
		if hash == "" || b.MetadataHash == hash {
			return false
		}
		b.MetadataHash = hash
		return true
	}},
}

// LedgerOwnedFieldNames returns the JSON names of the fields only the ledger may change.
func LedgerOwnedFieldNames() []string {
	names := make([]string, 0, len(ledgerOwnedFields))
	for _, f := range ledgerOwnedFields {
		names = append(names, f.Name)
	}
	return names
}

// ApplyLedgerState overwrites the ledger-owned fields of b with s and returns
// the names of the fields that changed. Empty owner or hash values mean the
// ledger did not report them and leave the store copy untouched.
// A counterfeit batch is always Flagged.
func ApplyLedgerState(b *Batch, s LedgerState) []string {
	var changed []string
	for _, f := range ledgerOwnedFields {
		if f.apply(b, s) {
			changed = append(changed, f.Name)
		}
	}
	if b.IsCounterfeit && b.Status != BatchStatusFlagged {
		b.Status = BatchStatusFlagged
		changed = append(changed, "status")
	}
	return changed
}

// LedgerEventType names a PharmaNFT contract event
type LedgerEventType string

const (
	EventBatchMinted          LedgerEventType = "BatchMinted"
	EventOwnershipTransferred LedgerEventType = "OwnershipTransferred"
	EventBatchVerified        LedgerEventType = "BatchVerified"
	EventChildBatchLinked     LedgerEventType = "ChildBatchLinked"
)

// LedgerEvent is a decoded contract log. Only the fields relevant to Type are set.
type LedgerEvent struct {
	Type        LedgerEventType `json:"type"`
	TokenID     int64           `json:"tokenId,omitempty"`
	BatchID     string          `json:"batchID,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	NewRole     Role            `json:"newRole,omitempty"`
	Verifier    string          `json:"verifier,omitempty"`
	Valid       bool            `json:"valid,omitempty"`
	ParentID    int64           `json:"parentId,omitempty"`
	ChildID     int64           `json:"childId,omitempty"`
	BlockNumber uint64          `json:"blockNumber"`
	TxHash      string          `json:"txHash"`
	LogIndex    uint            `json:"logIndex"`
}

// Key identifies the log that produced the event
func (e LedgerEvent) Key() string {
	return fmt.Sprintf("%s:%d", strings.ToLower(e.TxHash), e.LogIndex)
}

// EventOutcome records what the reconciler did with an event
type EventOutcome string

const (
	EventOutcomeApplied EventOutcome = "applied"
	EventOutcomeSkipped EventOutcome = "skipped"
	EventOutcomeFailed  EventOutcome = "failed"
)

// LedgerEventRecord is the persisted audit entry for a dispatched event
type LedgerEventRecord struct {
	ID        uuid.UUID    `json:"id"`
	Event     LedgerEvent  `json:"event"`
	Outcome   EventOutcome `json:"outcome"`
	Error     string       `json:"error,omitempty"`
	Attempts  int          `json:"attempts"`
	CreatedAt time.Time    `json:"createdAt"`
}
