package blockchain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	dialEVMClient    = ethclient.Dial
	getClientChainID = func(client *ethclient.Client, ctx context.Context) (*big.Int, error) {
		return client.ChainID(ctx)
	}

	errClientNotConnected = errors.New("evm client not connected")
)

// EVMClient provides the read-only EVM calls the ledger facade and event watcher need
type EVMClient struct {
	client  *ethclient.Client
	chainID *big.Int
	rpcURL  string
	// test hooks allow deterministic unit tests without network sockets.
	testCallView    func(ctx context.Context, to string, data []byte) ([]byte, error)
	testFilterLogs  func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	testBlockNumber func(ctx context.Context) (uint64, error)
}

// NewEVMClient creates a new EVM client
func NewEVMClient(rpcURL string) (*EVMClient, error) {
	client, err := dialEVMClient(rpcURL)
	if err != nil {
		return nil, err
	}

	chainID, err := getClientChainID(client, context.Background())
	if err != nil {
		client.Close()
		return nil, err
	}

	return &EVMClient{
		client:  client,
		chainID: chainID,
		rpcURL:  rpcURL,
	}, nil
}

// NewEVMClientWithCallView creates an EVM client that uses an injected CallView implementation.
// This is intended for unit tests where RPC sockets are unavailable.
func NewEVMClientWithCallView(chainID *big.Int, callViewFn func(ctx context.Context, to string, data []byte) ([]byte, error)) *EVMClient {
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	return &EVMClient{
		chainID:      chainID,
		testCallView: callViewFn,
	}
}

// NewEVMClientWithLogs creates an EVM client backed by injected log and head functions.
func NewEVMClientWithLogs(
	blockNumberFn func(ctx context.Context) (uint64, error),
	filterLogsFn func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error),
) *EVMClient {
	return &EVMClient{
		chainID:         big.NewInt(1),
		testBlockNumber: blockNumberFn,
		testFilterLogs:  filterLogsFn,
	}
}

// ChainID returns the chain ID
func (c *EVMClient) ChainID() *big.Int {
	return c.chainID
}

// GetBlockNumber gets the latest block number
func (c *EVMClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	if c.testBlockNumber != nil {
		return c.testBlockNumber(ctx)
	}
	if c.client == nil {
		return 0, errClientNotConnected
	}
	return c.client.BlockNumber(ctx)
}

// FilterLogs returns the logs matching q
func (c *EVMClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if c.testFilterLogs != nil {
		return c.testFilterLogs(ctx, q)
	}
	if c.client == nil {
		return nil, errClientNotConnected
	}
	return c.client.FilterLogs(ctx, q)
}

// CallView executes a read-only contract call
func (c *EVMClient) CallView(ctx context.Context, to string, data []byte) ([]byte, error) {
	if c.testCallView != nil {
		return c.testCallView(ctx, to, data)
	}
	if c.client == nil {
		return nil, errClientNotConnected
	}
	addr := common.HexToAddress(to)
	msg := ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}
	return c.client.CallContract(ctx, msg, nil)
}

// Close closes the client connection
func (c *EVMClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
