package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var ErrMalformedSignature = errors.New("malformed signature")

// QRPayload is the signed envelope encoded in a batch QR code.
// Data is kept verbatim because the signature covers its serialized form.
type QRPayload struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
	Signer    string          `json:"signer,omitempty"`
}

// QRData is the signed content of a QR code
type QRData struct {
	Type      string      `json:"type,omitempty"`
	BatchID   string      `json:"batchId,omitempty"`
	TokenID   json.Number `json:"tokenId,omitempty"`
	Contract  string      `json:"contract,omitempty"`
	VerifyURL string      `json:"verifyUrl,omitempty"`
	Timestamp json.Number `json:"timestamp,omitempty"`
}

// IsSigned reports whether the payload carries a signature
func (p *QRPayload) IsSigned() bool {
	return p != nil && strings.TrimSpace(p.Signature) != ""
}

// Decode parses the signed data. Data must be a JSON object.
func (p *QRPayload) Decode() (*QRData, error) {
	trimmed := bytes.TrimSpace(p.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("qr data must be a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var d QRData
	if err := dec.Decode(&d); err != nil {
		// tokenId and timestamp are sometimes emitted as strings
		var loose struct {
			Type      string `json:"type"`
			BatchID   string `json:"batchId"`
			TokenID   any    `json:"tokenId"`
			Contract  string `json:"contract"`
			VerifyURL string `json:"verifyUrl"`
			Timestamp any    `json:"timestamp"`
		}
		if lerr := json.Unmarshal(trimmed, &loose); lerr != nil {
			return nil, err
		}
		d = QRData{
			Type:      loose.Type,
			BatchID:   loose.BatchID,
			TokenID:   json.Number(anyToString(loose.TokenID)),
			Contract:  loose.Contract,
			VerifyURL: loose.VerifyURL,
			Timestamp: json.Number(anyToString(loose.Timestamp)),
		}
	}
	return &d, nil
}

// TokenIDValue returns the token id if present and numeric
func (d *QRData) TokenIDValue() (int64, bool) {
	if d == nil || d.TokenID == "" {
		return 0, false
	}
	v, err := d.TokenID.Int64()
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func anyToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return fmt.Sprint(x)
	}
}

// QRMessageHash is keccak256 over the compact JSON serialization of data.
func QRMessageHash(data json.RawMessage) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, fmt.Errorf("compact qr data: %w", err)
	}
	return ethcrypto.Keccak256(compact.Bytes()), nil
}

// RecoverSigner returns the address that produced signature over the EIP-191
// personal message made of the 32-byte QR message hash.
func RecoverSigner(data json.RawMessage, signature string) (string, error) {
	msgHash, err := QRMessageHash(data)
	if err != nil {
		return "", err
	}
	sig, err := hexutil.Decode(ensureHexPrefix(strings.TrimSpace(signature)))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return "", ErrMalformedSignature
	}
	sig = append([]byte(nil), sig...)
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(msgHash), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// VerifySigner reports whether signature over data was produced by expected.
func VerifySigner(data json.RawMessage, signature, expected string) (bool, string, error) {
	recovered, err := RecoverSigner(data, signature)
	if err != nil {
		return false, "", err
	}
	return SameAddress(recovered, expected), recovered, nil
}

// SignQRData signs data the way wallet personal_sign does.
func SignQRData(data json.RawMessage, key *ecdsa.PrivateKey) (string, error) {
	msgHash, err := QRMessageHash(data)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(accounts.TextHash(msgHash), key)
	if err != nil {
		return "", err
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SameAddress compares two hex addresses case-insensitively
func SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) && strings.TrimSpace(a) != ""
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
