package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/interfaces/http/response"
	"pharma-chain.backend/internal/usecases"
	"pharma-chain.backend/pkg/utils"
)

const maxCertificateSize = 10 << 20

type BatchService interface {
	CreateBatch(ctx context.Context, input usecases.CreateBatchInput) (*usecases.CreateBatchOutput, error)
	GetBatch(ctx context.Context, id string) (*entities.Batch, error)
	ListBatches(ctx context.Context, filter entities.BatchFilter, page, limit int) ([]*entities.Batch, utils.PaginationMeta, error)
	RecordTransfer(ctx context.Context, id string, input usecases.RecordTransferInput) (*entities.Batch, error)
	GetHistory(ctx context.Context, id string) ([]entities.TransferRecord, error)
	ListEvents(ctx context.Context, id string, limit int) ([]*entities.LedgerEventRecord, error)
	UpdateBatch(ctx context.Context, id string, fields map[string]json.RawMessage) (*entities.Batch, error)
	StoreQR(ctx context.Context, input usecases.StoreQRInput) (*entities.Batch, error)
	GetQR(ctx context.Context, id string) (*usecases.QRView, error)
	ListTransfers(ctx context.Context, filter usecases.TransferFilter) ([]usecases.TransferView, error)
}

// BatchHandler handles batch endpoints
type BatchHandler struct {
	batchUsecase BatchService
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batchUsecase BatchService) *BatchHandler {
	return &BatchHandler{batchUsecase: batchUsecase}
}

type createBatchRequest struct {
	BatchID           string `json:"batchID" form:"batchID"`
	DrugName          string `json:"drugName" form:"drugName"`
	ManufacturingDate string `json:"manufacturingDate" form:"manufacturingDate"`
	ExpiryDate        string `json:"expiryDate" form:"expiryDate"`
	Quantity          int64  `json:"quantity" form:"quantity"`
	Manufacturer      string `json:"manufacturer" form:"manufacturer"`
	ManufacturerName  string `json:"manufacturerName" form:"manufacturerName"`
	TokenID           *int64 `json:"tokenId" form:"tokenId"`
	ContractAddress   string `json:"contractAddress" form:"contractAddress"`
	MetadataHash      string `json:"metadataHash" form:"metadataHash"`
}

// CreateBatch records a manufactured batch. Accepts JSON or a multipart form
// carrying an optional qaCertificate file.
// POST /api/v1/batches
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	var certificate []byte

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			response.Error(c, domainerrors.BadRequest(err.Error()))
			return
		}
		content, err := readCertificate(c)
		if err != nil {
			response.Error(c, domainerrors.BadRequest(err.Error()))
			return
		}
		certificate = content
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	out, err := h.batchUsecase.CreateBatch(c.Request.Context(), usecases.CreateBatchInput{
		BatchID:           req.BatchID,
		DrugName:          req.DrugName,
		ManufacturingDate: req.ManufacturingDate,
		ExpiryDate:        req.ExpiryDate,
		Quantity:          req.Quantity,
		Manufacturer:      req.Manufacturer,
		ManufacturerName:  req.ManufacturerName,
		MetadataHash:      req.MetadataHash,
		TokenID:           req.TokenID,
		ContractAddress:   req.ContractAddress,
		QACertificate:     certificate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, out)
}

func readCertificate(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("qaCertificate")
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if fh.Size > maxCertificateSize {
		return nil, fmt.Errorf("qaCertificate exceeds %d bytes", maxCertificateSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxCertificateSize))
}

// ListBatches lists batches with optional filters
// GET /api/v1/batches?owner=&manufacturer=&status=&role=&page=&limit=
func (h *BatchHandler) ListBatches(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(usecases.DefaultPageLimit)))

	filter := entities.BatchFilter{
		Owner:        c.Query("owner"),
		Manufacturer: c.Query("manufacturer"),
		Status:       entities.BatchStatus(c.Query("status")),
		Role:         entities.Role(c.Query("role")),
	}

	batches, meta, err := h.batchUsecase.ListBatches(c.Request.Context(), filter, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"batches":    batches,
		"pagination": meta,
	})
}

// GetBatch gets a batch by token id or batch id
// GET /api/v1/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batch, err := h.batchUsecase.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"batch": batch})
}

type recordTransferRequest struct {
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
	FromRole string `json:"fromRole" binding:"required"`
	ToRole   string `json:"toRole" binding:"required"`
	TxHash   string `json:"txHash"`
}

// RecordTransfer records a custody move reported by a client
// POST /api/v1/batches/:id/transfer
func (h *BatchHandler) RecordTransfer(c *gin.Context) {
	var req recordTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest("Missing transfer details"))
		return
	}

	batch, err := h.batchUsecase.RecordTransfer(c.Request.Context(), c.Param("id"), usecases.RecordTransferInput{
		From:     req.From,
		To:       req.To,
		FromRole: entities.Role(req.FromRole),
		ToRole:   entities.Role(req.ToRole),
		TxHash:   req.TxHash,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"batch": batch})
}

// GetHistory returns the custody history of a batch
// GET /api/v1/batches/:id/history
func (h *BatchHandler) GetHistory(c *gin.Context) {
	history, err := h.batchUsecase.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"history": history})
}

// GetEvents returns the ledger events recorded for a batch
// GET /api/v1/batches/:id/events?limit=
func (h *BatchHandler) GetEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	events, err := h.batchUsecase.ListEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// UpdateBatch changes client-owned fields (metadataURI, qrData, qrSignature)
// PUT /api/v1/batches/:id
func (h *BatchHandler) UpdateBatch(c *gin.Context) {
	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	batch, err := h.batchUsecase.UpdateBatch(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"batch": batch, "message": "Batch updated successfully"})
}

type storeQRRequest struct {
	TokenID     *int64          `json:"tokenId"`
	BatchID     string          `json:"batchID"`
	QRData      json.RawMessage `json:"qrData"`
	QRSignature string          `json:"qrSignature"`
}

// StoreQR stores the signed QR payload generated for a batch
// POST /api/v1/qr
func (h *BatchHandler) StoreQR(c *gin.Context) {
	var req storeQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	batch, err := h.batchUsecase.StoreQR(c.Request.Context(), usecases.StoreQRInput{
		TokenID:     req.TokenID,
		BatchID:     req.BatchID,
		QRData:      req.QRData,
		QRSignature: req.QRSignature,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"batch": batch, "message": "QR code data stored successfully"})
}

// GetQR returns the stored QR payload of a batch
// GET /api/v1/qr/:id
func (h *BatchHandler) GetQR(c *gin.Context) {
	view, err := h.batchUsecase.GetQR(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ListTransfers lists custody moves across batches
// GET /api/v1/transfers?tokenId=&batchID=&from=&to=
func (h *BatchHandler) ListTransfers(c *gin.Context) {
	filter := usecases.TransferFilter{
		BatchID: c.Query("batchID"),
		From:    c.Query("from"),
		To:      c.Query("to"),
	}
	if raw := c.Query("tokenId"); raw != "" {
		tokenID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, domainerrors.BadRequest("tokenId must be an integer"))
			return
		}
		filter.TokenID = &tokenID
	}

	transfers, err := h.batchUsecase.ListTransfers(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"transfers": transfers, "count": len(transfers)})
}
