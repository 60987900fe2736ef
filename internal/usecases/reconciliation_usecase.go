package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"pharma-chain.backend/internal/config"
	"pharma-chain.backend/internal/domain/entities"
	domainerrors "pharma-chain.backend/internal/domain/errors"
	"pharma-chain.backend/internal/domain/repositories"
	"pharma-chain.backend/internal/infrastructure/metrics"
	"pharma-chain.backend/pkg/crypto"
	"pharma-chain.backend/pkg/logger"
)

// failedReplayLimit caps the failed events one sweep redelivers
const failedReplayLimit = 500

// SweepReport summarizes one full reconciliation pass
type SweepReport struct {
	Total     int           `json:"total"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Replayed  int           `json:"replayed"`
	Duration  time.Duration `json:"duration"`
}

type ReconciliationUsecase struct {
	batchRepo repositories.BatchRepository
	eventRepo repositories.LedgerEventRepository
	uow       repositories.UnitOfWork
	ledger    repositories.LedgerReader
	cfg       config.ReconcilerConfig
	metrics   *metrics.ReconcilerMetrics
	now       func() time.Time
}

func NewReconciliationUsecase(
	batchRepo repositories.BatchRepository,
	eventRepo repositories.LedgerEventRepository,
	uow repositories.UnitOfWork,
	ledger repositories.LedgerReader,
	cfg config.ReconcilerConfig,
	m *metrics.ReconcilerMetrics,
) *ReconciliationUsecase {
	return &ReconciliationUsecase{
		batchRepo: batchRepo,
		eventRepo: eventRepo,
		uow:       uow,
		ledger:    ledger,
		cfg:       normalizeReconcilerConfig(cfg),
		metrics:   m,
		now:       time.Now,
	}
}

func normalizeReconcilerConfig(cfg config.ReconcilerConfig) config.ReconcilerConfig {
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = DefaultSweepConcurrency
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultLedgerCallTimeout
	}
	if cfg.PlaceholderExpiry <= 0 {
		cfg.PlaceholderExpiry = DefaultPlaceholderExpiry
	}
	if cfg.EventMaxAttempts <= 0 {
		cfg.EventMaxAttempts = DefaultEventMaxAttempts
	}
	return cfg
}

// HandleEvent applies one ledger event to the store and records the outcome.
// A failed event stays in the audit log as failed; the sweep replays it.
func (uc *ReconciliationUsecase) HandleEvent(ctx context.Context, ev entities.LedgerEvent) error {
	return uc.dispatch(ctx, ev, false)
}

// dispatch applies ev. A replayed event may be stale, so it takes roles from
// the ledger instead of the event and fails without ledger state.
func (uc *ReconciliationUsecase) dispatch(ctx context.Context, ev entities.LedgerEvent, replay bool) error {
	var (
		outcome entities.EventOutcome
		err     error
	)
	switch ev.Type {
	case entities.EventBatchMinted:
		outcome, err = uc.handleMint(ctx, ev)
	case entities.EventOwnershipTransferred:
		outcome, err = uc.handleTransfer(ctx, ev, replay)
	case entities.EventBatchVerified:
		outcome, err = uc.handleVerified(ctx, ev)
	case entities.EventChildBatchLinked:
		outcome, err = uc.handleChildLink(ctx, ev)
	default:
		outcome, err = entities.EventOutcomeSkipped, nil
	}
	if err != nil {
		outcome = entities.EventOutcomeFailed
	}

	uc.metrics.IncEvent(string(ev.Type), string(outcome))
	uc.recordOutcome(ctx, ev, outcome, err)
	if err != nil {
		return fmt.Errorf("%s token %d: %w", ev.Type, ev.TokenID, err)
	}
	return nil
}

func (uc *ReconciliationUsecase) recordOutcome(ctx context.Context, ev entities.LedgerEvent, outcome entities.EventOutcome, cause error) {
	if uc.eventRepo == nil {
		return
	}
	rec := &entities.LedgerEventRecord{Event: ev, Outcome: outcome, CreatedAt: uc.now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := uc.eventRepo.Record(ctx, rec); err != nil {
		logger.Warn(ctx, "Failed to record ledger event",
			zap.String("event_key", ev.Key()),
			zap.Error(err),
		)
	}
}

func (uc *ReconciliationUsecase) handleMint(ctx context.Context, ev entities.LedgerEvent) (entities.EventOutcome, error) {
	batch, err := uc.batchRepo.GetByBatchID(ctx, ev.BatchID)
	if err == nil {
		return uc.bindMint(ctx, batch, ev)
	}
	if !errors.Is(err, domainerrors.ErrBatchNotFound) {
		return entities.EventOutcomeFailed, err
	}

	// listener replay after the row was already bound under another batch id
	if existing, err := uc.batchRepo.GetByTokenID(ctx, ev.TokenID); err == nil {
		logger.Info(ctx, "Mint already mirrored",
			zap.Int64("token_id", ev.TokenID),
			zap.String("batch_id", existing.BatchID),
		)
		return entities.EventOutcomeSkipped, nil
	} else if !errors.Is(err, domainerrors.ErrBatchNotFound) {
		return entities.EventOutcomeFailed, err
	}

	return uc.synthesizeFromMint(ctx, ev)
}

func (uc *ReconciliationUsecase) bindMint(ctx context.Context, batch *entities.Batch, ev entities.LedgerEvent) (entities.EventOutcome, error) {
	if batch.IsBound() && batch.TokenID.Int64 != ev.TokenID {
		uc.observeDoubleMint(ctx, batch, ev)
		return entities.EventOutcomeSkipped, nil
	}

	details, state, lerr := uc.fetchLedgerState(ctx, ev.TokenID)
	if lerr != nil {
		// the event alone is enough to bind; the sweep repairs the rest
		logger.Warn(ctx, "Ledger state unavailable for mint, binding token only",
			zap.Int64("token_id", ev.TokenID),
			zap.String("batch_id", batch.BatchID),
			zap.Error(lerr),
		)
	}

	_, changed, err := uc.updateWithRetry(ctx, batch, func(b *entities.Batch) (bool, error) {
		if b.IsBound() && b.TokenID.Int64 != ev.TokenID {
			return false, domainerrors.ErrTokenAlreadyBound
		}
		changed := false
		if !b.IsBound() {
			b.TokenID = null.Int64From(ev.TokenID)
			changed = true
		}
		if addr := uc.ledgerAddress(); addr != "" && b.LedgerAddress != addr {
			b.LedgerAddress = addr
			changed = true
		}
		if state != nil && len(entities.ApplyLedgerState(b, *state)) > 0 {
			changed = true
		}
		if details != nil && applyMetadataURI(b, details.MetadataURI) {
			changed = true
		}
		return changed, nil
	})
	if errors.Is(err, domainerrors.ErrTokenAlreadyBound) {
		uc.observeDoubleMint(ctx, batch, ev)
		return entities.EventOutcomeSkipped, nil
	}
	if err != nil {
		return entities.EventOutcomeFailed, err
	}

	logger.Info(ctx, "Batch bound to ledger token",
		zap.Int64("token_id", ev.TokenID),
		zap.String("batch_id", batch.BatchID),
		zap.Bool("changed", changed),
	)
	return outcomeFor(changed), nil
}

func (uc *ReconciliationUsecase) observeDoubleMint(ctx context.Context, batch *entities.Batch, ev entities.LedgerEvent) {
	uc.metrics.IncDoubleMint()
	logger.Warn(ctx, "Double mint observed",
		zap.String("batch_id", batch.BatchID),
		zap.Int64("bound_token_id", batch.TokenID.Int64),
		zap.Int64("token_id", ev.TokenID),
	)
}

func (uc *ReconciliationUsecase) synthesizeFromMint(ctx context.Context, ev entities.LedgerEvent) (entities.EventOutcome, error) {
	details, state, lerr := uc.fetchLedgerState(ctx, ev.TokenID)
	if lerr != nil {
		logger.Warn(ctx, "Synthesizing batch without ledger details",
			zap.Int64("token_id", ev.TokenID),
			zap.Error(lerr),
		)
	}

	batchID := ev.BatchID
	if batchID == "" && details != nil {
		batchID = details.BatchID
	}
	if batchID == "" {
		logger.Warn(ctx, "Mint without batch id ignored", zap.Int64("token_id", ev.TokenID))
		return entities.EventOutcomeSkipped, nil
	}

	now := uc.now().UTC()
	batch := &entities.Batch{
		BatchID:           batchID,
		TokenID:           null.Int64From(ev.TokenID),
		LedgerAddress:     uc.ledgerAddress(),
		DrugName:          UnknownDrugName,
		Manufacturer:      strings.ToLower(ev.Owner),
		ManufacturingDate: crypto.TruncateDate(now),
		ExpiryDate:        crypto.TruncateDate(now.Add(uc.cfg.PlaceholderExpiry)),
		Quantity:          1,
		CurrentOwner:      strings.ToLower(ev.Owner),
		CurrentRole:       entities.RoleManufacturer,
		Status:            entities.BatchStatusCreated,
		NeedsEnrichment:   true,
		ChildBatchIDs:     []int64{},
		History:           []entities.TransferRecord{},
	}
	if details != nil {
		if details.Manufacturer != "" {
			batch.Manufacturer = details.Manufacturer
		}
		if !details.Timestamp.IsZero() {
			batch.ManufacturingDate = crypto.TruncateDate(details.Timestamp)
		}
		applyMetadataURI(batch, details.MetadataURI)
	}
	if state != nil {
		entities.ApplyLedgerState(batch, *state)
	}
	if parent, ok := uc.fetchParent(ctx, ev.TokenID); ok {
		batch.ParentBatchID = null.Int64From(parent)
	}

	err := uc.batchRepo.Create(ctx, batch)
	if err == nil {
		logger.Info(ctx, "Batch synthesized from mint",
			zap.Int64("token_id", ev.TokenID),
			zap.String("batch_id", batchID),
		)
		return entities.EventOutcomeApplied, nil
	}
	if !errors.Is(err, domainerrors.ErrDuplicateKey) {
		return entities.EventOutcomeFailed, err
	}

	// a concurrent writer created the row first
	existing, ferr := uc.batchRepo.GetByBatchID(ctx, batchID)
	if errors.Is(ferr, domainerrors.ErrBatchNotFound) {
		existing, ferr = uc.batchRepo.GetByTokenID(ctx, ev.TokenID)
		if ferr == nil {
			return entities.EventOutcomeSkipped, nil
		}
	}
	if ferr != nil {
		return entities.EventOutcomeFailed, ferr
	}
	return uc.bindMint(ctx, existing, ev)
}

func (uc *ReconciliationUsecase) handleTransfer(ctx context.Context, ev entities.LedgerEvent, replay bool) (entities.EventOutcome, error) {
	batch, err := uc.batchRepo.GetByTokenID(ctx, ev.TokenID)
	if errors.Is(err, domainerrors.ErrBatchNotFound) {
		logger.Warn(ctx, "Transfer for unknown token",
			zap.Int64("token_id", ev.TokenID),
			zap.String("to", ev.To),
		)
		return entities.EventOutcomeSkipped, nil
	}
	if err != nil {
		return entities.EventOutcomeFailed, err
	}

	_, state, lerr := uc.fetchLedgerState(ctx, ev.TokenID)
	if lerr != nil {
		if replay {
			return entities.EventOutcomeFailed, lerr
		}
		logger.Warn(ctx, "Ledger state unavailable for transfer, applying event values",
			zap.Int64("token_id", ev.TokenID),
			zap.Error(lerr),
		)
		state = &entities.LedgerState{CurrentOwner: ev.To, IsCounterfeit: batch.IsCounterfeit}
	}
	if !replay || state.CurrentRole == "" {
		state.CurrentRole = ev.NewRole
	}

	var ledgerFromRole entities.Role
	if uc.ledger != nil {
		if history, herr := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) ([]entities.LedgerTransfer, error) {
			return uc.ledger.GetTransferHistory(cctx, ev.TokenID)
		}); herr == nil {
			for i := len(history) - 1; i >= 0; i-- {
				if strings.EqualFold(history[i].From, ev.From) && strings.EqualFold(history[i].To, ev.To) {
					ledgerFromRole = history[i].FromRole
					break
				}
			}
		}
	}

	now := uc.now().UTC()
	_, changed, err := uc.updateWithRetry(ctx, batch, func(b *entities.Batch) (bool, error) {
		fromRole := ledgerFromRole
		if fromRole == "" {
			fromRole = b.CurrentRole
		}
		changed := len(entities.ApplyLedgerState(b, *state)) > 0

		if status := entities.StatusForRole(state.CurrentRole); !b.IsCounterfeit && b.Status != status {
			b.Status = status
			changed = true
		}

		rec := entities.TransferRecord{
			From:      ev.From,
			To:        ev.To,
			FromRole:  fromRole,
			ToRole:    ev.NewRole,
			Timestamp: now,
		}
		if ev.TxHash != "" {
			rec.TxHash = null.StringFrom(ev.TxHash)
		}
		if b.AppendTransfer(rec, uc.cfg.CoalesceWindow) {
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return entities.EventOutcomeFailed, err
	}
	return outcomeFor(changed), nil
}

func (uc *ReconciliationUsecase) handleVerified(ctx context.Context, ev entities.LedgerEvent) (entities.EventOutcome, error) {
	logger.Info(ctx, "Batch verified on ledger",
		zap.Int64("token_id", ev.TokenID),
		zap.String("verifier", ev.Verifier),
		zap.Bool("valid", ev.Valid),
	)
	return entities.EventOutcomeApplied, nil
}

func (uc *ReconciliationUsecase) handleChildLink(ctx context.Context, ev entities.LedgerEvent) (entities.EventOutcome, error) {
	applied := false
	link := func(txCtx context.Context) error {
		if uc.uow != nil {
			txCtx = uc.uow.WithLock(txCtx)
		}
		parent, err := uc.batchRepo.GetByTokenID(txCtx, ev.ParentID)
		switch {
		case err == nil:
			_, changed, uerr := uc.updateWithRetry(txCtx, parent, func(b *entities.Batch) (bool, error) {
				return b.AddChild(ev.ChildID), nil
			})
			if uerr != nil {
				return uerr
			}
			applied = applied || changed
		case errors.Is(err, domainerrors.ErrBatchNotFound):
			logger.Warn(ctx, "Child link for unknown parent", zap.Int64("token_id", ev.ParentID))
		default:
			return err
		}

		child, err := uc.batchRepo.GetByTokenID(txCtx, ev.ChildID)
		switch {
		case err == nil:
			_, changed, uerr := uc.updateWithRetry(txCtx, child, func(b *entities.Batch) (bool, error) {
				if b.ParentBatchID.Valid && b.ParentBatchID.Int64 == ev.ParentID {
					return false, nil
				}
				b.ParentBatchID = null.Int64From(ev.ParentID)
				return true, nil
			})
			if uerr != nil {
				return uerr
			}
			applied = applied || changed
		case errors.Is(err, domainerrors.ErrBatchNotFound):
			logger.Warn(ctx, "Child link for unknown child", zap.Int64("token_id", ev.ChildID))
		default:
			return err
		}
		return nil
	}

	var err error
	if uc.uow != nil {
		err = uc.uow.Do(ctx, link)
	} else {
		err = link(ctx)
	}
	if err != nil {
		return entities.EventOutcomeFailed, err
	}
	return outcomeFor(applied), nil
}

// Sweep reconciles every bound batch against the ledger. Per-row failures are
// counted and logged; only a failure to list rows is returned.
func (uc *ReconciliationUsecase) Sweep(ctx context.Context) (SweepReport, error) {
	ctx = logger.WithComponent(ctx, "reconcile-sweep")
	start := uc.now()

	replayed, replayFailed := uc.replayFailedEvents(ctx)

	batches, err := uc.batchRepo.ListWithToken(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list bound batches: %w", err)
	}

	report := SweepReport{Total: len(batches), Replayed: replayed, Failed: replayFailed}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(uc.cfg.SweepConcurrency)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			outcome := uc.reconcileRow(ctx, batch)
			uc.metrics.IncSweepRow(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case metrics.OutcomeUpdated:
				report.Updated++
			case metrics.OutcomeUnchanged:
				report.Unchanged++
			case metrics.OutcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = uc.now().Sub(start)
	uc.metrics.ObserveSweep(report.Duration)
	logger.Info(ctx, "Reconciliation sweep finished",
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("replayed", report.Replayed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// replayFailedEvents redelivers events whose last outcome was failed, in
// ledger order, before the row pass picks up anything they bind.
func (uc *ReconciliationUsecase) replayFailedEvents(ctx context.Context) (replayed, failed int) {
	if uc.eventRepo == nil {
		return 0, 0
	}
	records, err := uc.eventRepo.ListFailed(ctx, uc.cfg.EventMaxAttempts, failedReplayLimit)
	if err != nil {
		logger.Warn(ctx, "Failed to list failed ledger events", zap.Error(err))
		return 0, 0
	}
	for _, rec := range records {
		if err := uc.dispatch(ctx, rec.Event, true); err != nil {
			failed++
			logger.Warn(ctx, "Ledger event replay failed",
				zap.String("event_key", rec.Event.Key()),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
			continue
		}
		replayed++
	}
	return replayed, failed
}

func (uc *ReconciliationUsecase) reconcileRow(ctx context.Context, batch *entities.Batch) string {
	tokenID := batch.TokenID.Int64
	fields := []zap.Field{zap.Int64("token_id", tokenID), zap.String("batch_id", batch.BatchID)}
	if uc.ledger == nil {
		return uc.rowFailure(ctx, domainerrors.ErrLedgerUnavailable, fields)
	}

	details, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (*entities.LedgerBatch, error) {
		return uc.ledger.GetBatchDetails(cctx, tokenID)
	})
	if err != nil {
		return uc.rowFailure(ctx, err, fields)
	}
	owner, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (string, error) {
		return uc.ledger.OwnerOf(cctx, tokenID)
	})
	if err != nil {
		return uc.rowFailure(ctx, err, fields)
	}
	role, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (entities.Role, error) {
		return uc.ledger.GetRole(cctx, owner)
	})
	if err != nil {
		return uc.rowFailure(ctx, err, fields)
	}
	counterfeit, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (bool, error) {
		return uc.ledger.IsCounterfeit(cctx, tokenID)
	})
	if err != nil {
		return uc.rowFailure(ctx, err, fields)
	}

	var parent int64
	if !batch.ParentBatchID.Valid {
		parent, _ = uc.fetchParent(ctx, tokenID)
	}

	state := entities.LedgerState{
		CurrentOwner:  owner,
		CurrentRole:   role,
		IsCounterfeit: counterfeit,
		MetadataHash:  details.MetadataHash,
	}
	_, changed, err := uc.updateWithRetry(ctx, batch, func(b *entities.Batch) (bool, error) {
		changed := len(entities.ApplyLedgerState(b, state)) > 0
		if applyMetadataURI(b, details.MetadataURI) {
			changed = true
		}
		if parent != 0 && !b.ParentBatchID.Valid {
			b.ParentBatchID = null.Int64From(parent)
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return uc.rowFailure(ctx, err, fields)
	}
	if !changed {
		return metrics.OutcomeUnchanged
	}
	logger.Debug(ctx, "Batch reconciled with ledger", fields...)
	return metrics.OutcomeUpdated
}

func (uc *ReconciliationUsecase) rowFailure(ctx context.Context, err error, fields []zap.Field) string {
	if errors.Is(err, domainerrors.ErrTokenNotFound) {
		logger.Warn(ctx, "Bound token missing on ledger", fields...)
		return metrics.OutcomeSkipped
	}
	logger.Error(ctx, "Failed to reconcile batch", append(fields, zap.Error(err))...)
	return metrics.OutcomeFailed
}

// fetchLedgerState reads the ledger-owned fields for tokenID.
func (uc *ReconciliationUsecase) fetchLedgerState(ctx context.Context, tokenID int64) (*entities.LedgerBatch, *entities.LedgerState, error) {
	if uc.ledger == nil {
		return nil, nil, domainerrors.ErrLedgerUnavailable
	}
	details, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (*entities.LedgerBatch, error) {
		return uc.ledger.GetBatchDetails(cctx, tokenID)
	})
	if err != nil {
		return nil, nil, err
	}
	counterfeit, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (bool, error) {
		return uc.ledger.IsCounterfeit(cctx, tokenID)
	})
	if err != nil {
		return details, nil, err
	}
	return details, &entities.LedgerState{
		CurrentOwner:  details.CurrentOwner,
		CurrentRole:   details.CurrentRole,
		IsCounterfeit: counterfeit,
		MetadataHash:  details.MetadataHash,
	}, nil
}

// fetchParent returns the ledger's parent token for tokenID; zero means none.
func (uc *ReconciliationUsecase) fetchParent(ctx context.Context, tokenID int64) (int64, bool) {
	if uc.ledger == nil {
		return 0, false
	}
	parent, err := callWithRetry(ctx, uc.cfg, uc.metrics, func(cctx context.Context) (int64, error) {
		return uc.ledger.GetParentBatch(cctx, tokenID)
	})
	if err != nil {
		logger.Debug(ctx, "Parent batch unavailable", zap.Int64("token_id", tokenID), zap.Error(err))
		return 0, false
	}
	return parent, parent != 0
}

func (uc *ReconciliationUsecase) ledgerAddress() string {
	if uc.ledger == nil {
		return ""
	}
	return uc.ledger.Address()
}

// updateWithRetry applies mutate and writes the row, re-fetching and
// re-applying when another writer moved the version first.
func (uc *ReconciliationUsecase) updateWithRetry(
	ctx context.Context,
	batch *entities.Batch,
	mutate func(b *entities.Batch) (bool, error),
) (*entities.Batch, bool, error) {
	return updateBatchWithRetry(ctx, uc.batchRepo, batch, mutate)
}

func updateBatchWithRetry(
	ctx context.Context,
	repo repositories.BatchRepository,
	batch *entities.Batch,
	mutate func(b *entities.Batch) (bool, error),
) (*entities.Batch, bool, error) {
	for attempt := 1; ; attempt++ {
		changed, err := mutate(batch)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return batch, false, nil
		}

		err = repo.Update(ctx, batch)
		if err == nil {
			return batch, true, nil
		}
		if !errors.Is(err, domainerrors.ErrConcurrentUpdate) || attempt >= maxWriteAttempts {
			return nil, false, err
		}

		batch, err = repo.GetByBatchID(ctx, batch.BatchID)
		if err != nil {
			return nil, false, err
		}
	}
}

// callWithRetry bounds each ledger call by CallTimeout and retries
// ErrLedgerUnavailable RetryAttempts times with a fixed backoff.
func callWithRetry[T any](ctx context.Context, cfg config.ReconcilerConfig, m *metrics.ReconcilerMetrics, fn func(ctx context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		v, err := fn(callCtx)
		cancel()
		if err == nil || !errors.Is(err, domainerrors.ErrLedgerUnavailable) || attempt >= cfg.RetryAttempts {
			return v, err
		}

		m.IncLedgerRetry()
		timer := time.NewTimer(cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, ctx.Err()
		case <-timer.C:
		}
	}
}

func applyMetadataURI(b *entities.Batch, uri string) bool {
	if uri == "" || (b.MetadataURI.Valid && b.MetadataURI.String == uri) {
		return false
	}
	b.MetadataURI = null.StringFrom(uri)
	return true
}

func outcomeFor(changed bool) entities.EventOutcome {
	if changed {
		return entities.EventOutcomeApplied
	}
	return entities.EventOutcomeSkipped
}
