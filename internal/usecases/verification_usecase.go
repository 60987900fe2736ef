package usecases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"pharma-chain.backend/internal/config"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/domain/repositories"
	"pharma-chain.backend/internal/infrastructure/metrics"
	"pharma-chain.backend/pkg/crypto"
	"pharma-chain.backend/pkg/logger"
)

// Diagnostic messages surfaced to verification clients
const (
	msgStoreHashMismatch     = "Metadata hash mismatch in database (will check blockchain hash)"
	msgLedgerHashMismatch    = "Metadata hash mismatch - verifying against blockchain directly"
	msgBatchIDMismatch       = "Batch ID mismatch between blockchain and database"
	msgManufacturerMismatch  = "Manufacturer mismatch between blockchain and database"
	msgContractMismatch      = "Contract address mismatch"
	msgLedgerCounterfeit     = "Batch flagged as counterfeit on blockchain"
	msgSignerFieldMismatch   = "QR signer field does not match recovered signer"
	msgOwnerMismatch         = "Current owner differs from blockchain (ownership may have changed)"
	msgLedgerNotConfigured   = "Blockchain verification skipped: ledger not configured"
	msgTokenNotBound         = "Blockchain verification skipped: batch not yet minted"
	msgQRErrorPrefix         = "QR verification error: "
	msgLedgerErrorPrefix     = "Blockchain verification error: "
	defaultVerifyCallTimeout = 10 * time.Second
)

// VerifyInput identifies the batch to verify. Resolution order is TokenID,
// BatchID, then the identifiers embedded in the QR payload.
type VerifyInput struct {
	QRPayload *crypto.QRPayload
	TokenID   *int64
	BatchID   string
}

// LedgerMatch holds the ledger cross-check comparisons
type LedgerMatch struct {
	BatchIDMatch      bool `json:"batchIdMatch"`
	ManufacturerMatch bool `json:"manufacturerMatch"`
	MetadataHashMatch bool `json:"metadataHashMatch"`
	OwnerMatch        bool `json:"ownerMatch"`
	CounterfeitMatch  bool `json:"counterfeitMatch"`
}

// VerificationChecks is the per-check breakdown. Nil pointers mean the check
// was not attempted.
type VerificationChecks struct {
	StoreHashIntegrity bool         `json:"storeHashIntegrity"`
	CounterfeitFlag    bool         `json:"counterfeitFlag"`
	QRSignature        *bool        `json:"qrSignature,omitempty"`
	ContractMatch      *bool        `json:"contractMatch,omitempty"`
	LedgerMatch        *LedgerMatch `json:"ledgerMatch,omitempty"`
}

type VerificationResult struct {
	Authentic       bool               `json:"authentic"`
	Checks          VerificationChecks `json:"checks"`
	Errors          []string           `json:"errors"`
	Warnings        []string           `json:"warnings"`
	RecoveredSigner string             `json:"recoveredSigner,omitempty"`
	Batch           *entities.Batch    `json:"batch"`
}

func (r *VerificationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *VerificationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// QuickChecks are the store-only checks of QuickVerify
type QuickChecks struct {
	HashIntegrity  bool `json:"hashIntegrity"`
	NotCounterfeit bool `json:"notCounterfeit"`
}

type QuickVerifyResult struct {
	Authentic bool            `json:"authentic"`
	Checks    QuickChecks     `json:"checks"`
	Batch     *entities.Batch `json:"batch"`
}

type VerificationUsecase struct {
	batchRepo repositories.BatchRepository
	ledger    repositories.LedgerReader
	cfg       config.ReconcilerConfig
	metrics   *metrics.ReconcilerMetrics
}

func NewVerificationUsecase(
	batchRepo repositories.BatchRepository,
	ledger repositories.LedgerReader,
	callTimeout time.Duration,
	m *metrics.ReconcilerMetrics,
) *VerificationUsecase {
	if callTimeout <= 0 {
		callTimeout = defaultVerifyCallTimeout
	}
	return &VerificationUsecase{
		batchRepo: batchRepo,
		ledger:    ledger,
		// verification is interactive; ledger calls are not retried
		cfg:     config.ReconcilerConfig{CallTimeout: callTimeout},
		metrics: m,
	}
}

// Verify produces an authenticity verdict with a diagnostic breakdown.
// Only unresolvable or malformed input is returned as an error.
func (uc *VerificationUsecase) Verify(ctx context.Context, input VerifyInput) (*VerificationResult, error) {
	var qrData *crypto.QRData
	if input.QRPayload != nil {
		data, err := input.QRPayload.Decode()
		if err != nil {
			return nil, fmt.Errorf("qr payload: %v: %w", err, domainerrors.ErrInvalidInput)
		}
		qrData = data
	}

	batch, err := uc.resolveBatch(ctx, input, qrData)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{Batch: batch, Errors: []string{}, Warnings: []string{}}

	result.Checks.StoreHashIntegrity = crypto.VerifyMetadataHash(metadataFieldsOf(batch), batch.MetadataHash)
	if !result.Checks.StoreHashIntegrity {
		result.addWarning(msgStoreHashMismatch)
	}

	result.Checks.CounterfeitFlag = !batch.IsCounterfeit
	if batch.IsCounterfeit {
		result.addError(domainerrors.ErrCounterfeitFlagged.Error())
	}

	if input.QRPayload.IsSigned() {
		uc.checkSignature(result, batch, input.QRPayload, qrData)
	}

	uc.checkLedger(ctx, result, batch)

	result.Authentic = verdict(result.Checks)
	uc.metrics.IncVerification(result.Authentic)

	logger.Info(ctx, "Batch verification completed",
		zap.String("batch_id", batch.BatchID),
		zap.Bool("authentic", result.Authentic),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// verdict gates on identity, counterfeit status and any supplied signature.
// Hash mismatches never flip it.
func verdict(c VerificationChecks) bool {
	if !c.CounterfeitFlag {
		return false
	}
	if c.LedgerMatch != nil && (!c.LedgerMatch.BatchIDMatch || !c.LedgerMatch.ManufacturerMatch) {
		return false
	}
	if c.QRSignature != nil && !*c.QRSignature {
		return false
	}
	if c.ContractMatch != nil && !*c.ContractMatch {
		return false
	}
	return true
}

func (uc *VerificationUsecase) resolveBatch(ctx context.Context, input VerifyInput, qr *crypto.QRData) (*entities.Batch, error) {
	switch {
	case input.TokenID != nil:
		return uc.lookupToken(ctx, *input.TokenID)
	case strings.TrimSpace(input.BatchID) != "":
		return uc.lookupBatchID(ctx, strings.TrimSpace(input.BatchID))
	case qr != nil:
		if tokenID, ok := qr.TokenIDValue(); ok {
			batch, err := uc.lookupToken(ctx, tokenID)
			if err == nil || !errors.Is(err, domainerrors.ErrBatchNotFound) || qr.BatchID == "" {
				return batch, err
			}
		}
		if qr.BatchID != "" {
			return uc.lookupBatchID(ctx, qr.BatchID)
		}
		return nil, fmt.Errorf("qr payload carries no batch identifier: %w", domainerrors.ErrBatchNotFound)
	}
	return nil, fmt.Errorf("tokenId, batchID or qrData is required: %w", domainerrors.ErrInvalidInput)
}

func (uc *VerificationUsecase) lookupToken(ctx context.Context, tokenID int64) (*entities.Batch, error) {
	batch, err := uc.batchRepo.GetByTokenID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("token %d: %w", tokenID, err)
	}
	return batch, nil
}

func (uc *VerificationUsecase) lookupBatchID(ctx context.Context, batchID string) (*entities.Batch, error) {
	batch, err := uc.batchRepo.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", batchID, err)
	}
	return batch, nil
}

func (uc *VerificationUsecase) checkSignature(result *VerificationResult, batch *entities.Batch, payload *crypto.QRPayload, data *crypto.QRData) {
	valid, recovered, err := crypto.VerifySigner(payload.Data, payload.Signature, batch.Manufacturer)
	if err != nil {
		result.Checks.QRSignature = boolPtr(false)
		result.addError(msgQRErrorPrefix + err.Error())
		return
	}
	result.RecoveredSigner = recovered
	result.Checks.QRSignature = boolPtr(valid)
	if !valid {
		result.addError(domainerrors.ErrSignatureInvalid.Error())
	}
	if payload.Signer != "" && !crypto.SameAddress(payload.Signer, recovered) {
		result.addWarning(msgSignerFieldMismatch)
	}

	if data != nil && data.Contract != "" {
		match := crypto.SameAddress(data.Contract, batch.LedgerAddress)
		result.Checks.ContractMatch = boolPtr(match)
		if !match {
			result.addError(msgContractMismatch)
		}
	}
}

func (uc *VerificationUsecase) checkLedger(ctx context.Context, result *VerificationResult, batch *entities.Batch) {
	if uc.ledger == nil || uc.ledger.Address() == "" {
		result.addWarning(msgLedgerNotConfigured)
		return
	}
	if !batch.IsBound() {
		result.addWarning(msgTokenNotBound)
		return
	}
	tokenID := batch.TokenID.Int64

	details, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (*entities.LedgerBatch, error) {
		return uc.ledger.GetBatchDetails(cctx, tokenID)
	})
	if err != nil {
		uc.ledgerFailure(ctx, result, batch, err)
		return
	}
	owner, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (string, error) {
		return uc.ledger.OwnerOf(cctx, tokenID)
	})
	if err != nil {
		uc.ledgerFailure(ctx, result, batch, err)
		return
	}
	ledgerCounterfeit, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (bool, error) {
		return uc.ledger.IsCounterfeit(cctx, tokenID)
	})
	if err != nil {
		uc.ledgerFailure(ctx, result, batch, err)
		return
	}

	match := &LedgerMatch{
		BatchIDMatch:      details.BatchID == batch.BatchID,
		ManufacturerMatch: crypto.SameAddress(details.Manufacturer, batch.Manufacturer),
		MetadataHashMatch: crypto.VerifyMetadataHash(metadataFieldsOf(batch), details.MetadataHash),
		OwnerMatch:        crypto.SameAddress(owner, batch.CurrentOwner),
		CounterfeitMatch:  ledgerCounterfeit == batch.IsCounterfeit,
	}
	result.Checks.LedgerMatch = match

	if !match.BatchIDMatch {
		result.addError(msgBatchIDMismatch)
	}
	if !match.ManufacturerMatch {
		result.addError(msgManufacturerMismatch)
	}
	if !match.MetadataHashMatch {
		result.addWarning(msgLedgerHashMismatch)
	}
	if !match.OwnerMatch {
		result.addWarning(msgOwnerMismatch)
	}
	if ledgerCounterfeit {
		result.Checks.CounterfeitFlag = false
		result.addError(msgLedgerCounterfeit)
	}
}

func (uc *VerificationUsecase) ledgerFailure(ctx context.Context, result *VerificationResult, batch *entities.Batch, err error) {
	logger.Warn(ctx, "Ledger cross-check failed",
		zap.String("batch_id", batch.BatchID),
		zap.Int64("token_id", batch.TokenID.Int64),
		zap.Error(err),
	)
	result.addError(msgLedgerErrorPrefix + err.Error())
}

// QuickVerify runs the store-only checks. id is a token id when numeric,
// a batch id otherwise.
func (uc *VerificationUsecase) QuickVerify(ctx context.Context, id string) (*QuickVerifyResult, error) {
	batch, err := lookupByAnyID(ctx, uc.batchRepo, id)
	if err != nil {
		return nil, err
	}
	checks := QuickChecks{
		HashIntegrity:  crypto.VerifyMetadataHash(metadataFieldsOf(batch), batch.MetadataHash),
		NotCounterfeit: !batch.IsCounterfeit,
	}
	return &QuickVerifyResult{
		Authentic: checks.HashIntegrity && checks.NotCounterfeit,
		Checks:    checks,
		Batch:     batch,
	}, nil
}

// lookupByAnyID resolves a path id: numeric ids are token ids, anything else a batch id.
func lookupByAnyID(ctx context.Context, repo repositories.BatchRepository, id string) (*entities.Batch, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("id is required: %w", domainerrors.ErrInvalidInput)
	}
	if tokenID, err := strconv.ParseInt(id, 10, 64); err == nil && tokenID >= 0 {
		batch, err := repo.GetByTokenID(ctx, tokenID)
		if err == nil || !errors.Is(err, domainerrors.ErrBatchNotFound) {
			return batch, err
		}
	}
	return repo.GetByBatchID(ctx, id)
}

// metadataFieldsOf returns the canonical hash inputs held by a stored batch
func metadataFieldsOf(b *entities.Batch) crypto.MetadataFields {
	return crypto.MetadataFields{
		BatchID:           b.BatchID,
		DrugName:          b.DrugName,
		ManufacturingDate: b.ManufacturingDate,
		ExpiryDate:        b.ExpiryDate,
		Quantity:          b.Quantity,
		Manufacturer:      b.Manufacturer,
	}
}

func boolPtr(v bool) *bool {
	return &v
}
