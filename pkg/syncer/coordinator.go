package syncer

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/multiorder/shopsync/internal/metrics"
)

// Outcome is the terminal result of one sync cycle.
type Outcome string

const (
	// OutcomeSucceeded means every fetched receipt was persisted and the
	// watermark advanced.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the watermark was left unchanged; the next cycle
	// re-covers the same window. The deferred set may still have been
	// updated and the run flag is released.
	OutcomeFailed Outcome = "failed"
	// OutcomeAlreadyRunning means another cycle holds the run flag; nothing
	// was mutated.
	OutcomeAlreadyRunning Outcome = "already_running"
)

// SyncShop runs one synchronization cycle for a shop connection. All
// failures are contained within the cycle: callers only ever observe the
// outcome, and the run flag is cleared on every exit path.
func (s *Syncer) SyncShop(ctx context.Context, connectionID string) Outcome {
	logger := s.logger.With(
		zap.String("connection_id", connectionID),
		zap.String("run_id", uuid.NewString()))
	logger.Info("Starting receipt sync cycle")
	start := time.Now()

	running, err := s.state.IsRunning(ctx, connectionID)
	if err != nil {
		logger.Error("Failed to read run flag", zap.Error(err))
		metrics.SyncCyclesTotal.WithLabelValues(connectionID, string(OutcomeFailed)).Inc()
		return OutcomeFailed
	}
	if running {
		logger.Info("Sync already running for connection, skipping")
		metrics.SyncCyclesTotal.WithLabelValues(connectionID, string(OutcomeAlreadyRunning)).Inc()
		return OutcomeAlreadyRunning
	}
	// The run flag is advisory: another trigger racing between the check
	// above and this set can slip through, and overlap is tolerated because
	// receipt inserts are duplicate-safe.
	if err := s.state.SetRunning(ctx, connectionID, true); err != nil {
		logger.Error("Failed to set run flag", zap.Error(err))
		metrics.SyncCyclesTotal.WithLabelValues(connectionID, string(OutcomeFailed)).Inc()
		return OutcomeFailed
	}

	outcome := OutcomeFailed
	defer func() {
		// The caller's context may already be cancelled by the time the cycle
		// unwinds; releasing the flag must not depend on it, or the connection
		// stays locked out until someone clears the key by hand.
		if err := s.state.SetRunning(context.WithoutCancel(ctx), connectionID, false); err != nil {
			logger.Error("Failed to clear run flag", zap.Error(err))
		}
		metrics.SyncCyclesTotal.WithLabelValues(connectionID, string(outcome)).Inc()
		metrics.SyncCycleDuration.WithLabelValues(connectionID).Observe(time.Since(start).Seconds())
		logger.Info("Sync cycle finished",
			zap.String("outcome", string(outcome)),
			zap.Duration("duration", time.Since(start)))
	}()

	advanced, err := s.runCycle(ctx, logger, connectionID)
	if err != nil {
		logger.Error("Sync cycle failed", zap.Error(err))
		return OutcomeFailed
	}
	if advanced {
		outcome = OutcomeSucceeded
	}
	return outcome
}

// runCycle performs the fetch, merge and persist steps of one cycle and
// reports whether the watermark advanced.
func (s *Syncer) runCycle(ctx context.Context, logger *zap.Logger, connectionID string) (bool, error) {
	// The upper bound is captured once at cycle start; it becomes the next
	// watermark only when every fetched receipt is persisted.
	upperBound := s.now().Unix()

	lastUpdated, err := s.state.LastUpdated(ctx, connectionID)
	if err != nil {
		return false, err
	}

	params := url.Values{}
	params.Set("includes", receiptIncludes)
	params.Set("max_created", strconv.FormatInt(upperBound, 10))
	if lastUpdated != nil {
		params.Set("min_created", strconv.FormatInt(*lastUpdated, 10))
		logger.Info("Resuming from watermark",
			zap.Int64("from", *lastUpdated),
			zap.Int64("to", upperBound))
	} else {
		logger.Info("No watermark yet, window is unbounded below",
			zap.Int64("to", upperBound))
	}

	shop, err := s.receipts.FindShopConnection(ctx, connectionID)
	if err != nil {
		return false, err
	}

	stillUnpaid, reconciledPaid, err := s.reconcileUnpaid(ctx, connectionID, shop, params)
	if err != nil {
		return false, err
	}
	newUnpaid, newPaid, err := s.fetchNewOrders(ctx, shop, params)
	if err != nil {
		return false, err
	}

	deferred := dedupeIDs(append(stillUnpaid, newUnpaid...))
	// Receipts appearing in both result sets are not pre-deduplicated; the
	// duplicate-safe insert absorbs them.
	toInsert := append(reconciledPaid, newPaid...)
	logger.Info("Merged fetch results",
		zap.String("shop_id", shop.ShopID),
		zap.Int("deferred", len(deferred)),
		zap.Int("to_insert", len(toInsert)))

	// The deferred set is written unconditionally, even when the insert
	// below fails: it reflects what was observed, not what was stored.
	if err := s.state.SetUnpaidReceipts(ctx, connectionID, deferred); err != nil {
		return false, err
	}
	metrics.DeferredReceipts.WithLabelValues(connectionID).Set(float64(len(deferred)))

	inserted, err := s.receipts.InsertReceipts(ctx, shop.ShopName, toInsert)
	if err != nil {
		return false, err
	}
	metrics.ReceiptsInserted.WithLabelValues(shop.ShopName).Add(float64(len(inserted)))
	metrics.NotesCreated.WithLabelValues(shop.ShopName).Add(float64(len(inserted)))

	if len(inserted) != len(toInsert) {
		logger.Warn("Not every receipt was inserted, keeping watermark",
			zap.Int("submitted", len(toInsert)),
			zap.Int("inserted", len(inserted)))
		return false, nil
	}

	if err := s.state.SetLastUpdated(ctx, connectionID, upperBound); err != nil {
		return false, err
	}
	logger.Info("All receipts inserted, watermark advanced",
		zap.Int64("last_updated", upperBound))
	return true, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	deduped := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}
	return deduped
}
