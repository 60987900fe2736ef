package main

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"pharma-chain.backend/pkg/crypto"
)

var (
	stdout   io.Writer = os.Stdout
	now                = time.Now
	generate           = ethcrypto.GenerateKey
)

type signRequest struct {
	kind     string
	batchID  string
	tokenID  int64
	contract string
	baseURL  string
	keyHex   string
	genKey   bool
}

// signedQR is the QR payload plus a scan URL carrying it base64 encoded
type signedQR struct {
	crypto.QRPayload
	ScanURL string `json:"scanUrl,omitempty"`
}

func parseArgs(args []string) (signRequest, error) {
	fs := flag.NewFlagSet("qr-sign", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	kind := fs.String("type", "parent", "QR type: parent or child")
	batchID := fs.String("batch-id", "", "batch identifier (required)")
	tokenID := fs.Int64("token-id", -1, "ledger token id (required)")
	contract := fs.String("contract", "", "PharmaNFT contract address (required)")
	baseURL := fs.String("base-url", "", "public frontend URL used for verifyUrl and scanUrl")
	keyHex := fs.String("key", os.Getenv("QR_SIGNER_KEY"), "hex private key of the manufacturer")
	genKey := fs.Bool("generate-key", false, "sign with a freshly generated key")
	if err := fs.Parse(args); err != nil {
		return signRequest{}, err
	}

	req := signRequest{
		kind:     *kind,
		batchID:  strings.TrimSpace(*batchID),
		tokenID:  *tokenID,
		contract: strings.ToLower(strings.TrimSpace(*contract)),
		baseURL:  strings.TrimRight(strings.TrimSpace(*baseURL), "/"),
		keyHex:   strings.TrimPrefix(strings.TrimSpace(*keyHex), "0x"),
		genKey:   *genKey,
	}
	return req, validateInputs(req)
}

func validateInputs(req signRequest) error {
	if req.kind != "parent" && req.kind != "child" {
		return fmt.Errorf("invalid type: %s (allowed: parent, child)", req.kind)
	}
	if req.batchID == "" || req.contract == "" {
		return fmt.Errorf("batch-id and contract are required")
	}
	if req.tokenID < 0 {
		return fmt.Errorf("token-id is required")
	}
	if req.keyHex == "" && !req.genKey {
		return fmt.Errorf("a signing key is required: pass -key, set QR_SIGNER_KEY or use -generate-key")
	}
	return nil
}

func loadKey(req signRequest) (*ecdsa.PrivateKey, error) {
	if req.keyHex != "" {
		key, err := ethcrypto.HexToECDSA(req.keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		return key, nil
	}
	return generate()
}

func buildPayload(req signRequest, key *ecdsa.PrivateKey) (*signedQR, error) {
	data := crypto.QRData{
		Type:      req.kind,
		BatchID:   req.batchID,
		TokenID:   json.Number(strconv.FormatInt(req.tokenID, 10)),
		Contract:  req.contract,
		Timestamp: json.Number(strconv.FormatInt(now().UnixMilli(), 10)),
	}
	if req.baseURL != "" {
		data.VerifyURL = fmt.Sprintf("%s/verify/%d", req.baseURL, req.tokenID)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.SignQRData(raw, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign qr data: %w", err)
	}

	out := &signedQR{QRPayload: crypto.QRPayload{
		Data:      raw,
		Signature: signature,
		Signer:    strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex()),
	}}
	if req.baseURL != "" {
		encoded, err := json.Marshal(out.QRPayload)
		if err != nil {
			return nil, err
		}
		out.ScanURL = req.baseURL + "/verify?data=" + base64.StdEncoding.EncodeToString(encoded)
	}
	return out, nil
}

func run(args []string, out io.Writer) error {
	req, err := parseArgs(args)
	if err != nil {
		return err
	}
	key, err := loadKey(req)
	if err != nil {
		return err
	}
	payload, err := buildPayload(req, key)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func main() {
	if err := run(os.Args[1:], stdout); err != nil {
		log.Fatalf("qr-sign: %v", err)
	}
}
