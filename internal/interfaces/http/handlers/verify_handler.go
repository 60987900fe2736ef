package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/interfaces/http/response"
	"pharma-chain.backend/internal/usecases"
	"pharma-chain.backend/pkg/crypto"
)

type VerificationService interface {
	Verify(ctx context.Context, input usecases.VerifyInput) (*usecases.VerificationResult, error)
	QuickVerify(ctx context.Context, id string) (*usecases.QuickVerifyResult, error)
}

type MetadataService interface {
	GetMetadata(ctx context.Context, id string) (*usecases.MetadataView, error)
	VerifyMetadata(ctx context.Context, input usecases.VerifyMetadataInput) (*usecases.VerifyMetadataOutput, error)
}

// VerifyHandler handles authenticity and metadata integrity endpoints
type VerifyHandler struct {
	verifier VerificationService
	metadata MetadataService
}

func NewVerifyHandler(verifier VerificationService, metadata MetadataService) *VerifyHandler {
	return &VerifyHandler{verifier: verifier, metadata: metadata}
}

// verifyRequest accepts qrData either as an object or as its JSON string
// encoding, and tokenId as a number or numeric string.
type verifyRequest struct {
	QRData  json.RawMessage `json:"qrData"`
	TokenID json.RawMessage `json:"tokenId"`
	BatchID string          `json:"batchID"`
}

// Verify checks a batch against the store, the ledger and its QR signature
// POST /api/v1/verify
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid tokenId"))
		return
	}
	payload, err := parseQRPayload(req.QRData)
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid qrData"))
		return
	}

	input := usecases.VerifyInput{
		QRPayload: payload,
		TokenID:   tokenID,
		BatchID:   strings.TrimSpace(req.BatchID),
	}
	if input.QRPayload == nil && input.TokenID == nil && input.BatchID == "" {
		response.Error(c, domainerrors.BadRequest("qrData, tokenId or batchID required"))
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// QuickVerify runs the store-only checks for a batch
// GET /api/v1/verify/:id
func (h *VerifyHandler) QuickVerify(c *gin.Context) {
	result, err := h.verifier.QuickVerify(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GetMetadata returns a batch's metadata and whether its stored hash holds
// GET /api/v1/metadata/:id
func (h *VerifyHandler) GetMetadata(c *gin.Context) {
	view, err := h.metadata.GetMetadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

type metadataRequest struct {
	BatchID           string `json:"batchID"`
	DrugName          string `json:"drugName"`
	ManufacturingDate any    `json:"manufacturingDate"`
	ExpiryDate        any    `json:"expiryDate"`
	Quantity          int64  `json:"quantity"`
	Manufacturer      string `json:"manufacturer"`
}

type verifyMetadataRequest struct {
	TokenID  json.RawMessage  `json:"tokenId"`
	BatchID  string           `json:"batchID"`
	Metadata *metadataRequest `json:"metadata"`
}

// VerifyMetadata recomputes the hash of candidate metadata and compares it
// with the stored one
// POST /api/v1/metadata/verify
func (h *VerifyHandler) VerifyMetadata(c *gin.Context) {
	var req verifyMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}
	if req.Metadata == nil {
		response.Error(c, domainerrors.BadRequest("Metadata object required"))
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid tokenId"))
		return
	}

	out, err := h.metadata.VerifyMetadata(c.Request.Context(), usecases.VerifyMetadataInput{
		TokenID: tokenID,
		BatchID: req.BatchID,
		Metadata: crypto.MetadataFields{
			BatchID:           req.Metadata.BatchID,
			DrugName:          req.Metadata.DrugName,
			ManufacturingDate: req.Metadata.ManufacturingDate,
			ExpiryDate:        req.Metadata.ExpiryDate,
			Quantity:          req.Metadata.Quantity,
			Manufacturer:      req.Metadata.Manufacturer,
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

func parseTokenID(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, err
	}
	if v < 0 {
		return nil, domainerrors.ErrInvalidInput
	}
	return &v, nil
}

func parseQRPayload(raw json.RawMessage) (*crypto.QRPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		if strings.TrimSpace(encoded) == "" {
			return nil, nil
		}
		raw = []byte(encoded)
	}
	var payload crypto.QRPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
