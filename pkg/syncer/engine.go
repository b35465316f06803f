package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/multiorder/shopsync/pkg/config"
)

// ShopSyncer runs one sync cycle for a shop connection.
type ShopSyncer interface {
	SyncShop(ctx context.Context, connectionID string) Outcome
}

// Engine periodically runs a sync cycle for every configured shop
// connection.
type Engine struct {
	syncer      ShopSyncer
	connections []string
	interval    time.Duration
	logger      *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a new periodic sync engine
func NewEngine(syncer ShopSyncer, cfg *config.SyncConfig, logger *zap.Logger) *Engine {
	return &Engine{
		syncer:      syncer,
		connections: cfg.Connections,
		interval:    cfg.Interval,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start starts the periodic sync loop
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.logger.Info("Started periodic shop sync",
			zap.Duration("interval", e.interval),
			zap.Int("connections", len(e.connections)))

		for {
			select {
			case <-ticker.C:
				e.SyncAll(context.Background())
			case <-e.stopCh:
				e.logger.Info("Stopping periodic shop sync")
				return
			}
		}
	}()
}

// SyncAll runs one cycle per configured connection, sequentially. Outcomes
// are logged per connection; one shop's failure does not block the others.
func (e *Engine) SyncAll(ctx context.Context) {
	for _, connectionID := range e.connections {
		outcome := e.syncer.SyncShop(ctx, connectionID)
		e.logger.Info("Shop sync finished",
			zap.String("connection_id", connectionID),
			zap.String("outcome", string(outcome)))
	}
}

// Stop stops the periodic sync loop
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}
