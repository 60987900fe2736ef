package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
)

const pharmaNFTABIJSON = `[
	{"anonymous":false,"inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":true,"name":"owner","type":"address"},{"indexed":false,"name":"batchID","type":"string"}],"name":"BatchMinted","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"newRole","type":"uint8"}],"name":"OwnershipTransferred","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":true,"name":"verifier","type":"address"},{"indexed":false,"name":"valid","type":"bool"}],"name":"BatchVerified","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"parentId","type":"uint256"},{"indexed":true,"name":"childId","type":"uint256"}],"name":"ChildBatchLinked","type":"event"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"getBatchDetails","outputs":[{"components":[
		{"name":"tokenId","type":"uint256"},
		{"name":"currentOwner","type":"address"},
		{"name":"currentRole","type":"uint8"},
		{"name":"batchID","type":"string"},
		{"name":"metadataHash","type":"string"},
		{"name":"metadataURI","type":"string"},
		{"name":"qrCodeURI","type":"string"},
		{"name":"timestamp","type":"uint256"},
		{"name":"manufacturer","type":"address"}
	],"name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"getTransferHistory","outputs":[{"components":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"timestamp","type":"uint256"},
		{"name":"fromRole","type":"uint8"},
		{"name":"toRole","type":"uint8"}
	],"name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"getRole","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"isCounterfeit","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"getParentBatch","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	pharmaNFTABI = mustParseABI(pharmaNFTABIJSON)

	// ERC721NonexistentToken(uint256) custom error selector
	nonexistentTokenSelector = hexutil.Encode(crypto.Keccak256([]byte("ERC721NonexistentToken(uint256)"))[:4])

	nonexistentTokenReasons = []string{
		"nonexistent token",
		"erc721nonexistenttoken",
		"invalid token id",
		"token does not exist",
		"batch does not exist",
	}
)

// batchDetailsTuple mirrors the getBatchDetails tuple in field order.
type batchDetailsTuple struct {
	TokenId      *big.Int
	CurrentOwner common.Address
	CurrentRole  uint8
	BatchID      string
	MetadataHash string
	MetadataURI  string
	QrCodeURI    string
	Timestamp    *big.Int
	Manufacturer common.Address
}

type transferTuple struct {
	From      common.Address
	To        common.Address
	Timestamp *big.Int
	FromRole  uint8
	ToRole    uint8
}

// ViewCaller executes read-only contract calls
type ViewCaller interface {
	CallView(ctx context.Context, to string, data []byte) ([]byte, error)
}

// PharmaLedger is the typed read facade over the PharmaNFT contract.
type PharmaLedger struct {
	client  ViewCaller
	address string
}

func NewPharmaLedger(client ViewCaller, contractAddress string) *PharmaLedger {
	return &PharmaLedger{client: client, address: strings.ToLower(strings.TrimSpace(contractAddress))}
}

func (l *PharmaLedger) Address() string {
	return l.address
}

func (l *PharmaLedger) GetBatchDetails(ctx context.Context, tokenID int64) (*entities.LedgerBatch, error) {
	raw, err := l.call(ctx, "getBatchDetails", big.NewInt(tokenID))
	if err != nil {
		return nil, err
	}
	out, err := convertOut[batchDetailsTuple]("getBatchDetails", raw)
	if err != nil {
		return nil, err
	}
	// the contract returns a zeroed struct for unknown ids instead of reverting
	if out.TokenId == nil || (out.TokenId.Sign() == 0 && out.BatchID == "" && out.CurrentOwner == (common.Address{})) {
		return nil, fmt.Errorf("getBatchDetails(%d): %w", tokenID, domainerrors.ErrTokenNotFound)
	}

	return &entities.LedgerBatch{
		TokenID:      out.TokenId.Int64(),
		CurrentOwner: lowerHex(out.CurrentOwner),
		CurrentRole:  entities.RoleFromCode(out.CurrentRole),
		BatchID:      out.BatchID,
		MetadataHash: strings.ToLower(out.MetadataHash),
		MetadataURI:  out.MetadataURI,
		QRCodeURI:    out.QrCodeURI,
		Timestamp:    unixTime(out.Timestamp),
		Manufacturer: lowerHex(out.Manufacturer),
	}, nil
}

func (l *PharmaLedger) GetTransferHistory(ctx context.Context, tokenID int64) ([]entities.LedgerTransfer, error) {
	raw, err := l.call(ctx, "getTransferHistory", big.NewInt(tokenID))
	if err != nil {
		return nil, err
	}
	out, err := convertOut[[]transferTuple]("getTransferHistory", raw)
	if err != nil {
		return nil, err
	}

	history := make([]entities.LedgerTransfer, 0, len(out))
	for _, t := range out {
		history = append(history, entities.LedgerTransfer{
			From:      lowerHex(t.From),
			To:        lowerHex(t.To),
			Timestamp: unixTime(t.Timestamp),
			FromRole:  entities.RoleFromCode(t.FromRole),
			ToRole:    entities.RoleFromCode(t.ToRole),
		})
	}
	return history, nil
}

func (l *PharmaLedger) GetRole(ctx context.Context, address string) (entities.Role, error) {
	if !common.IsHexAddress(address) {
		return entities.RoleNone, fmt.Errorf("getRole(%s): %w", address, domainerrors.ErrInvalidInput)
	}
	raw, err := l.call(ctx, "getRole", common.HexToAddress(address))
	if err != nil {
		return entities.RoleNone, err
	}
	code, err := convertOut[uint8]("getRole", raw)
	if err != nil {
		return entities.RoleNone, err
	}
	return entities.RoleFromCode(code), nil
}

func (l *PharmaLedger) IsCounterfeit(ctx context.Context, tokenID int64) (bool, error) {
	raw, err := l.call(ctx, "isCounterfeit", big.NewInt(tokenID))
	if err != nil {
		return false, err
	}
	return convertOut[bool]("isCounterfeit", raw)
}

func (l *PharmaLedger) OwnerOf(ctx context.Context, tokenID int64) (string, error) {
	raw, err := l.call(ctx, "ownerOf", big.NewInt(tokenID))
	if err != nil {
		return "", err
	}
	owner, err := convertOut[common.Address]("ownerOf", raw)
	if err != nil {
		return "", err
	}
	return lowerHex(owner), nil
}

func (l *PharmaLedger) GetParentBatch(ctx context.Context, tokenID int64) (int64, error) {
	raw, err := l.call(ctx, "getParentBatch", big.NewInt(tokenID))
	if err != nil {
		return 0, err
	}
	parent, err := convertOut[*big.Int]("getParentBatch", raw)
	if err != nil {
		return 0, err
	}
	if parent == nil || !parent.IsInt64() {
		return 0, nil
	}
	return parent.Int64(), nil
}

// call packs args, executes the view and unpacks the first return value.
func (l *PharmaLedger) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	if l.client == nil || l.address == "" {
		return nil, fmt.Errorf("%s: ledger not configured: %w", method, domainerrors.ErrLedgerUnavailable)
	}
	data, err := pharmaNFTABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := l.client.CallView(ctx, l.address, data)
	if err != nil {
		return nil, classifyCallError(method, err)
	}
	vals, err := pharmaNFTABI.Unpack(method, out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("failed to decode %s: %w", method, domainerrors.ErrLedgerUnavailable)
	}
	return vals[0], nil
}

func convertOut[T any](method string, v interface{}) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid %s return type: %w", method, domainerrors.ErrLedgerUnavailable)
		}
	}()
	if direct, ok := v.(T); ok {
		return direct, nil
	}
	return *abi.ConvertType(v, new(T)).(*T), nil
}

type rpcDataError interface {
	ErrorData() interface{}
}

// classifyCallError maps reverts about unknown tokens to ErrTokenNotFound and
// everything else to ErrLedgerUnavailable.
func classifyCallError(method string, err error) error {
	if isNonexistentTokenError(err) {
		return fmt.Errorf("%s: %v: %w", method, err, domainerrors.ErrTokenNotFound)
	}
	return fmt.Errorf("%s: %v: %w", method, err, domainerrors.ErrLedgerUnavailable)
}

func isNonexistentTokenError(err error) bool {
	var dataErr rpcDataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok && strings.HasPrefix(strings.ToLower(data), nonexistentTokenSelector) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "revert") {
		return false
	}
	for _, reason := range nonexistentTokenReasons {
		if strings.Contains(msg, reason) {
			return true
		}
	}
	return false
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func unixTime(ts *big.Int) time.Time {
	if ts == nil || !ts.IsInt64() {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0).UTC()
}
