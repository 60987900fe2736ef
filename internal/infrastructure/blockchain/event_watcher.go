package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"pharma-chain.backend/internal/domain/entities"
	"pharma-chain.backend/internal/domain/repositories"
	"pharma-chain.backend/internal/infrastructure/metrics"
	"pharma-chain.backend/pkg/logger"
)

const (
	defaultPollInterval     = 5 * time.Second
	defaultMaxBlockRange    = uint64(2000)
	defaultMaxEventAttempts = 5
)

var (
	errUnknownEvent = errors.New("unknown event topic")
	// ErrEventDeferred is returned by Poll when a failed event holds the cursor for a retry.
	ErrEventDeferred = errors.New("ledger event deferred for retry")
)

// LogSource is the subset of EVMClient the watcher polls.
type LogSource interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// WatcherOptions tunes polling.
// A zero StartBlock with no stored cursor starts at the confirmed head.
type WatcherOptions struct {
	StartBlock    uint64
	PollInterval  time.Duration
	Confirmations uint64
	MaxBlockRange uint64
	// MaxEventAttempts bounds how often a failing event holds the cursor back.
	MaxEventAttempts int
}

// EventWatcher polls contract logs and delivers decoded events in ledger order.
type EventWatcher struct {
	source  LogSource
	address common.Address
	cursors repositories.CursorStore
	opts    WatcherOptions
	metrics *metrics.ReconcilerMetrics
	topics  []common.Hash

	mu       sync.Mutex
	failures map[string]int
}

func NewEventWatcher(
	source LogSource,
	contractAddress string,
	cursors repositories.CursorStore,
	opts WatcherOptions,
	m *metrics.ReconcilerMetrics,
) *EventWatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxBlockRange == 0 {
		opts.MaxBlockRange = defaultMaxBlockRange
	}
	if opts.MaxEventAttempts <= 0 {
		opts.MaxEventAttempts = defaultMaxEventAttempts
	}
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	return &EventWatcher{
		source:   source,
		address:  common.HexToAddress(contractAddress),
		cursors:  cursors,
		opts:     opts,
		metrics:  m,
		failures: make(map[string]int),
		topics: []common.Hash{
			pharmaNFTABI.Events[string(entities.EventBatchMinted)].ID,
			pharmaNFTABI.Events[string(entities.EventOwnershipTransferred)].ID,
			pharmaNFTABI.Events[string(entities.EventBatchVerified)].ID,
			pharmaNFTABI.Events[string(entities.EventChildBatchLinked)].ID,
		},
	}
}

func (w *EventWatcher) contractKey() string {
	return lowerHex(w.address)
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on the next tick.
func (w *EventWatcher) Run(ctx context.Context, handle func(ctx context.Context, ev entities.LedgerEvent) error) error {
	ctx = logger.WithComponent(ctx, "ledger-watcher")
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx, handle); err != nil && ctx.Err() == nil && !errors.Is(err, ErrEventDeferred) {
			logger.Warn(ctx, "Ledger poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll processes every confirmed block after the cursor once.
// A failing event releases its claim and leaves the cursor before its block,
// so the next poll delivers it again until MaxEventAttempts is spent.
func (w *EventWatcher) Poll(ctx context.Context, handle func(ctx context.Context, ev entities.LedgerEvent) error) error {
	head, err := w.source.GetBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	if head < w.opts.Confirmations {
		return nil
	}
	safe := head - w.opts.Confirmations

	cursor, ok, err := w.cursors.LoadCursor(ctx, w.contractKey())
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	from := w.opts.StartBlock
	switch {
	case ok:
		from = cursor + 1
	case from == 0:
		from = safe
		logger.Info(ctx, "No ledger cursor, starting at confirmed head", zap.Uint64("block", safe))
	}

	for from <= safe {
		to := from + w.opts.MaxBlockRange - 1
		if to > safe {
			to = safe
		}
		failedBlock, deferred, err := w.processRange(ctx, from, to, handle)
		if err != nil {
			return err
		}
		if deferred {
			if failedBlock > 0 {
				if err := w.saveCursor(ctx, failedBlock-1); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: block %d", ErrEventDeferred, failedBlock)
		}
		if err := w.saveCursor(ctx, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (w *EventWatcher) saveCursor(ctx context.Context, block uint64) error {
	if err := w.cursors.SaveCursor(ctx, w.contractKey(), block); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	w.metrics.SetListenerBlock(block)
	return nil
}

// processRange dispatches the range in ledger order. It stops at the first
// event that fails with retry budget left and reports that event's block.
func (w *EventWatcher) processRange(ctx context.Context, from, to uint64, handle func(ctx context.Context, ev entities.LedgerEvent) error) (uint64, bool, error) {
	logs, err := w.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.address},
		Topics:    [][]common.Hash{w.topics},
	})
	if err != nil {
		return 0, false, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeLedgerEvent(lg)
		if err != nil {
			logger.Warn(ctx, "Skipping undecodable ledger log",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Uint("log_index", lg.Index),
				zap.Error(err),
			)
			continue
		}

		claimed, err := w.cursors.ClaimEvent(ctx, ev.Key())
		if err != nil {
			return 0, false, fmt.Errorf("claim event %s: %w", ev.Key(), err)
		}
		if !claimed {
			continue
		}
		herr := handle(ctx, ev)
		if herr == nil {
			w.clearFailures(ev.Key())
			continue
		}

		attempts := w.noteFailure(ev.Key())
		if attempts >= w.opts.MaxEventAttempts {
			w.clearFailures(ev.Key())
			logger.Error(ctx, "Ledger event handler failed, giving up",
				zap.String("event", string(ev.Type)),
				zap.Int64("token_id", ev.TokenID),
				zap.Int("attempts", attempts),
				zap.Error(herr),
			)
			continue
		}
		if err := w.cursors.ReleaseEvent(ctx, ev.Key()); err != nil {
			return 0, false, fmt.Errorf("release event %s: %w", ev.Key(), err)
		}
		logger.Warn(ctx, "Ledger event handler failed, retrying",
			zap.String("event", string(ev.Type)),
			zap.Int64("token_id", ev.TokenID),
			zap.Uint64("block", lg.BlockNumber),
			zap.Int("attempts", attempts),
			zap.Error(herr),
		)
		return lg.BlockNumber, true, nil
	}
	return 0, false, nil
}

func (w *EventWatcher) noteFailure(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[key]++
	return w.failures[key]
}

func (w *EventWatcher) clearFailures(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.failures, key)
}

// DecodeLedgerEvent turns a PharmaNFT log into a LedgerEvent.
func DecodeLedgerEvent(lg types.Log) (entities.LedgerEvent, error) {
	if len(lg.Topics) == 0 {
		return entities.LedgerEvent{}, errUnknownEvent
	}
	event, err := pharmaNFTABI.EventByID(lg.Topics[0])
	if err != nil {
		return entities.LedgerEvent{}, errUnknownEvent
	}

	indexed := 0
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	if len(lg.Topics) != indexed+1 {
		return entities.LedgerEvent{}, fmt.Errorf("%s: expected %d topics, got %d", event.Name, indexed+1, len(lg.Topics))
	}

	ev := entities.LedgerEvent{
		Type:        entities.LedgerEventType(event.Name),
		BlockNumber: lg.BlockNumber,
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		LogIndex:    lg.Index,
	}

	var values []interface{}
	if len(event.Inputs.NonIndexed()) > 0 {
		values, err = pharmaNFTABI.Unpack(event.Name, lg.Data)
		if err != nil {
			return entities.LedgerEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
		}
	}

	switch ev.Type {
	case entities.EventBatchMinted:
		ev.TokenID = topicInt64(lg.Topics[1])
		ev.Owner = topicAddress(lg.Topics[2])
		ev.BatchID, _ = firstValue[string](values)
	case entities.EventOwnershipTransferred:
		ev.TokenID = topicInt64(lg.Topics[1])
		ev.From = topicAddress(lg.Topics[2])
		ev.To = topicAddress(lg.Topics[3])
		code, _ := firstValue[uint8](values)
		ev.NewRole = entities.RoleFromCode(code)
	case entities.EventBatchVerified:
		ev.TokenID = topicInt64(lg.Topics[1])
		ev.Verifier = topicAddress(lg.Topics[2])
		ev.Valid, _ = firstValue[bool](values)
	case entities.EventChildBatchLinked:
		ev.ParentID = topicInt64(lg.Topics[1])
		ev.ChildID = topicInt64(lg.Topics[2])
		ev.TokenID = ev.ParentID
	default:
		return entities.LedgerEvent{}, errUnknownEvent
	}
	return ev, nil
}

func firstValue[T any](values []interface{}) (T, bool) {
	var zero T
	if len(values) == 0 {
		return zero, false
	}
	v, ok := values[0].(T)
	return v, ok
}

func topicInt64(h common.Hash) int64 {
	v := new(big.Int).SetBytes(h.Bytes())
	if !v.IsInt64() {
		return 0
	}
	return v.Int64()
}

func topicAddress(h common.Hash) string {
	return lowerHex(common.BytesToAddress(h.Bytes()))
}
