package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/usecases"
)

type verificationServiceStub struct {
	verifyFn func(ctx context.Context, input usecases.VerifyInput) (*usecases.VerificationResult, error)
	quickFn  func(ctx context.Context, id string) (*usecases.QuickVerifyResult, error)
}

func (s verificationServiceStub) Verify(ctx context.Context, input usecases.VerifyInput) (*usecases.VerificationResult, error) {
	return s.verifyFn(ctx, input)
}
func (s verificationServiceStub) QuickVerify(ctx context.Context, id string) (*usecases.QuickVerifyResult, error) {
	return s.quickFn(ctx, id)
}

type metadataServiceStub struct {
	getFn    func(ctx context.Context, id string) (*usecases.MetadataView, error)
	verifyFn func(ctx context.Context, input usecases.VerifyMetadataInput) (*usecases.VerifyMetadataOutput, error)
}

func (s metadataServiceStub) GetMetadata(ctx context.Context, id string) (*usecases.MetadataView, error) {
	return s.getFn(ctx, id)
}
func (s metadataServiceStub) VerifyMetadata(ctx context.Context, input usecases.VerifyMetadataInput) (*usecases.VerifyMetadataOutput, error) {
	return s.verifyFn(ctx, input)
}

func newVerifyRouter(v VerificationService, m MetadataService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewVerifyHandler(v, m)
	r := gin.New()
	r.POST("/verify", h.Verify)
	r.GET("/verify/:id", h.QuickVerify)
	r.GET("/metadata/:id", h.GetMetadata)
	r.POST("/metadata/verify", h.VerifyMetadata)
	return r
}

func TestVerifyHandler_Verify(t *testing.T) {
	var got usecases.VerifyInput
	svc := verificationServiceStub{
		verifyFn: func(_ context.Context, input usecases.VerifyInput) (*usecases.VerificationResult, error) {
			got = input
			if input.BatchID == "missing" {
				return nil, domainerrors.ErrBatchNotFound
			}
			if input.QRPayload != nil {
				if _, err := input.QRPayload.Decode(); err != nil {
					return nil, domainerrors.ErrInvalidInput
				}
			}
			return &usecases.VerificationResult{
				Authentic: true,
				Checks:    usecases.VerificationChecks{CounterfeitFlag: true, StoreHashIntegrity: true},
				Errors:    []string{},
				Warnings:  []string{},
				Batch:     &entities.Batch{BatchID: "BATCH-001"},
			}, nil
		},
	}
	r := newVerifyRouter(svc, nil)

	rec := doJSON(r, http.MethodPost, "/verify", map[string]any{"tokenId": "7"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.TokenID)
	assert.Equal(t, int64(7), *got.TokenID)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["authentic"])
	assert.Contains(t, body, "checks")
	assert.Contains(t, body, "warnings")

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"tokenId": 9})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(9), *got.TokenID)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"batchID": " BATCH-001 "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got.TokenID)
	assert.Equal(t, "BATCH-001", got.BatchID)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"batchID": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"tokenId": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"tokenId": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyHandler_VerifyQRData(t *testing.T) {
	var got usecases.VerifyInput
	svc := verificationServiceStub{
		verifyFn: func(_ context.Context, input usecases.VerifyInput) (*usecases.VerificationResult, error) {
			got = input
			if _, err := input.QRPayload.Decode(); err != nil {
				return nil, domainerrors.ErrInvalidInput
			}
			return &usecases.VerificationResult{Errors: []string{}, Warnings: []string{}}, nil
		},
	}
	r := newVerifyRouter(svc, nil)

	qr := map[string]any{
		"data":      map[string]any{"batchId": "BATCH-001", "tokenId": 7},
		"signature": "0xsig",
	}
	rec := doJSON(r, http.MethodPost, "/verify", map[string]any{"qrData": qr})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.QRPayload)
	assert.Equal(t, "0xsig", got.QRPayload.Signature)
	data, err := got.QRPayload.Decode()
	require.NoError(t, err)
	assert.Equal(t, "BATCH-001", data.BatchID)

	// qrData sent as its JSON string encoding
	encoded, err := json.Marshal(qr)
	require.NoError(t, err)
	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"qrData": string(encoded)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xsig", got.QRPayload.Signature)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"qrData": "not json"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodPost, "/verify", map[string]any{"qrData": map[string]any{"signature": "0xsig"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyHandler_QuickVerify(t *testing.T) {
	svc := verificationServiceStub{
		quickFn: func(_ context.Context, id string) (*usecases.QuickVerifyResult, error) {
			if id == "missing" {
				return nil, domainerrors.ErrBatchNotFound
			}
			if id == "boom" {
				return nil, errors.New("db down")
			}
			return &usecases.QuickVerifyResult{Authentic: true, Checks: usecases.QuickChecks{HashIntegrity: true, NotCounterfeit: true}}, nil
		},
	}
	r := newVerifyRouter(svc, nil)

	rec := doJSON(r, http.MethodGet, "/verify/7", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["authentic"])

	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/verify/missing", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, doJSON(r, http.MethodGet, "/verify/boom", nil).Code)
}

func TestVerifyHandler_Metadata(t *testing.T) {
	var got usecases.VerifyMetadataInput
	svc := metadataServiceStub{
		getFn: func(_ context.Context, id string) (*usecases.MetadataView, error) {
			if id == "missing" {
				return nil, domainerrors.ErrBatchNotFound
			}
			return &usecases.MetadataView{Batch: &entities.Batch{BatchID: id}, HashValid: true}, nil
		},
		verifyFn: func(_ context.Context, input usecases.VerifyMetadataInput) (*usecases.VerifyMetadataOutput, error) {
			got = input
			if input.TokenID == nil && input.BatchID == "" {
				return nil, domainerrors.ErrInvalidInput
			}
			return &usecases.VerifyMetadataOutput{Valid: true, StoredHash: "abc"}, nil
		},
	}
	r := newVerifyRouter(nil, svc)

	rec := doJSON(r, http.MethodGet, "/metadata/BATCH-001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["hashValid"])
	assert.Contains(t, body, "metadata")
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, "/metadata/missing", nil).Code)

	rec = doJSON(r, http.MethodPost, "/metadata/verify", map[string]any{
		"tokenId": 7,
		"metadata": map[string]any{
			"batchID":           "BATCH-001",
			"drugName":          "Paracetamol 500mg",
			"manufacturingDate": "2026-01-15",
			"expiryDate":        "2027-06-30",
			"quantity":          1000,
			"manufacturer":      "0xabc",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "abc", body["storedHash"])
	require.NotNil(t, got.TokenID)
	assert.Equal(t, int64(7), *got.TokenID)
	assert.Equal(t, "BATCH-001", got.Metadata.BatchID)
	assert.Equal(t, "2026-01-15", got.Metadata.ManufacturingDate)
	assert.Equal(t, int64(1000), got.Metadata.Quantity)

	rec = doJSON(r, http.MethodPost, "/metadata/verify", map[string]any{"tokenId": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Metadata object required", decodeBody(t, rec)["message"])

	rec = doJSON(r, http.MethodPost, "/metadata/verify", map[string]any{"metadata": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTokenID(t *testing.T) {
	cases := []struct {
		raw     string
		want    *int64
		wantErr bool
	}{
		{raw: ``},
		{raw: `null`},
		{raw: `""`},
		{raw: `12`, want: int64Ptr(12)},
		{raw: `"12"`, want: int64Ptr(12)},
		{raw: `" 3 "`, want: int64Ptr(3)},
		{raw: `1.5`, wantErr: true},
		{raw: `"x"`, wantErr: true},
		{raw: `-4`, wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseTokenID(json.RawMessage(tc.raw))
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func int64Ptr(v int64) *int64 { return &v }
