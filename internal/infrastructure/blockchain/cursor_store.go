package blockchain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"pharma-chain.backend/pkg/redis"
)

const eventClaimTTL = 24 * time.Hour

var (
	getCursorValue  = redis.Get
	setCursorValue  = redis.Set
	claimEventKey   = redis.SetNX
	releaseEventKey = redis.Del
)

// RedisCursorStore keeps the listener cursor and event claims in Redis.
type RedisCursorStore struct {
	prefix string
}

func NewRedisCursorStore(prefix string) *RedisCursorStore {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisCursorStore{prefix: prefix}
}

func (s *RedisCursorStore) cursorKey(contract string) string {
	return fmt.Sprintf("%s:cursor:%s", s.prefix, strings.ToLower(contract))
}

func (s *RedisCursorStore) LoadCursor(ctx context.Context, contract string) (uint64, bool, error) {
	val, err := getCursorValue(ctx, s.cursorKey(contract))
	if err != nil {
		if redis.IsNil(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	block, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor %q: %w", val, err)
	}
	return block, true, nil
}

func (s *RedisCursorStore) SaveCursor(ctx context.Context, contract string, block uint64) error {
	return setCursorValue(ctx, s.cursorKey(contract), strconv.FormatUint(block, 10), 0)
}

func (s *RedisCursorStore) ClaimEvent(ctx context.Context, key string) (bool, error) {
	return claimEventKey(ctx, s.eventKey(key), 1, eventClaimTTL)
}

func (s *RedisCursorStore) ReleaseEvent(ctx context.Context, key string) error {
	return releaseEventKey(ctx, s.eventKey(key))
}

func (s *RedisCursorStore) eventKey(key string) string {
	return fmt.Sprintf("%s:event:%s", s.prefix, key)
}

// MemoryCursorStore is a process-local CursorStore used when Redis is absent.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
	claimed map[string]struct{}
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{
		cursors: make(map[string]uint64),
		claimed: make(map[string]struct{}),
	}
}

func (s *MemoryCursorStore) LoadCursor(_ context.Context, contract string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.cursors[strings.ToLower(contract)]
	return block, ok, nil
}

func (s *MemoryCursorStore) SaveCursor(_ context.Context, contract string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[strings.ToLower(contract)] = block
	return nil
}

func (s *MemoryCursorStore) ClaimEvent(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[key]; ok {
		return false, nil
	}
	s.claimed[key] = struct{}{}
	return true, nil
}

func (s *MemoryCursorStore) ReleaseEvent(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, key)
	return nil
}
