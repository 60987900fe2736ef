package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"pharma-chain.backend/internal/config"
	"pharma-chain.backend/internal/domain/entities"
	"pharma-chain.backend/internal/domain/repositories"
	"pharma-chain.backend/internal/usecases"
	"pharma-chain.backend/pkg/logger"
	"pharma-chain.backend/pkg/redis"
)

// sweepLockTTL bounds how long a crashed instance can block other sweeps
const sweepLockTTL = 10 * time.Minute

// obtainSweepLock keeps concurrent instances from sweeping the same contract at once
var obtainSweepLock = redis.ObtainLock

// Reconciler is the usecase side of the listener
type Reconciler interface {
	Sweep(ctx context.Context) (usecases.SweepReport, error)
	HandleEvent(ctx context.Context, ev entities.LedgerEvent) error
}

// ReconciliationService keeps the store in step with the ledger: one sweep on
// start, then every contract event in delivery order.
type ReconciliationService struct {
	reconciler   Reconciler
	source       repositories.EventSource
	contract     string
	sweepOnStart bool
	interval     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewReconciliationService(
	reconciler Reconciler,
	source repositories.EventSource,
	ledgerCfg config.LedgerConfig,
	cfg config.ReconcilerConfig,
) *ReconciliationService {
	return &ReconciliationService{
		reconciler:   reconciler,
		source:       source,
		contract:     ledgerCfg.ContractAddress,
		sweepOnStart: cfg.SweepOnStart,
		interval:     cfg.SweepInterval,
	}
}

// Start launches the service in the background. Starting a running service,
// or one without a configured contract, is a no-op.
func (s *ReconciliationService) Start(ctx context.Context) error {
	ctx = logger.WithComponent(ctx, "ledger-listener")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.contract == "" || s.source == nil || s.reconciler == nil {
		logger.Info(ctx, "Ledger listener disabled: contract address not configured")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	logger.Info(ctx, "Starting ledger listener", zap.String("contract", s.contract))
	go s.run(runCtx, s.done)
	return nil
}

// Stop cancels the service and waits for it to exit. Safe to call repeatedly.
func (s *ReconciliationService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the listener loop is active
func (s *ReconciliationService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReconciliationService) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.sweepOnStart {
		s.sweep(ctx)
	}

	var wg sync.WaitGroup
	if s.interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sweepLoop(ctx)
		}()
	}

	err := s.source.Run(ctx, s.reconciler.HandleEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "Ledger listener stopped", zap.Error(err))
	} else {
		logger.Info(ctx, "Ledger listener stopped")
	}
	wg.Wait()
}

func (s *ReconciliationService) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReconciliationService) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	release, err := obtainSweepLock(ctx, "ledger:sweep:"+s.contract, sweepLockTTL)
	switch {
	case errors.Is(err, redis.ErrLockNotObtained):
		logger.Info(ctx, "Reconciliation sweep skipped: another instance holds the lock")
		return
	case errors.Is(err, redis.ErrNotInitialized):
		logger.Debug(ctx, "Sweeping without lock: redis not configured")
	case err != nil:
		logger.Warn(ctx, "Sweep lock unavailable, sweeping without it", zap.Error(err))
	default:
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	if _, err := s.reconciler.Sweep(ctx); err != nil {
		logger.Error(ctx, "Reconciliation sweep failed", zap.Error(err))
	}
}
