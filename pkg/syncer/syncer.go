// Package syncer implements the receipt synchronization engine: the per-shop
// sync cycle (run guard, incremental time window, unpaid reconciliation,
// idempotent persistence) and the periodic scheduler driving it.
package syncer

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/multiorder/shopsync/pkg/etsy"
	"github.com/multiorder/shopsync/pkg/store"
)

// receiptIncludes expands transactions and listing data on fetched receipts.
const receiptIncludes = "Transactions/MainImage,Listings/ShippingTemplate"

// PagedFetcher fetches all result pages of a platform resource.
type PagedFetcher interface {
	GetAllPages(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error)
}

// StateStore holds the cross-run sync state of a shop connection.
type StateStore interface {
	IsRunning(ctx context.Context, connectionID string) (bool, error)
	SetRunning(ctx context.Context, connectionID string, running bool) error
	LastUpdated(ctx context.Context, connectionID string) (*int64, error)
	SetLastUpdated(ctx context.Context, connectionID string, ts int64) error
	UnpaidReceipts(ctx context.Context, connectionID string) ([]int64, error)
	SetUnpaidReceipts(ctx context.Context, connectionID string, ids []int64) error
}

// ReceiptStore persists receipts and resolves shop connections.
type ReceiptStore interface {
	InsertReceipts(ctx context.Context, shopName string, receipts []*etsy.Receipt) ([]store.InsertedReceipt, error)
	FindShopConnection(ctx context.Context, connectionID string) (*store.ShopConnection, error)
}

// Syncer runs receipt synchronization cycles for shop connections.
type Syncer struct {
	fetcher  PagedFetcher
	state    StateStore
	receipts ReceiptStore
	logger   *zap.Logger

	now func() time.Time
}

// New creates a new Syncer
func New(fetcher PagedFetcher, state StateStore, receipts ReceiptStore, logger *zap.Logger) *Syncer {
	return &Syncer{
		fetcher:  fetcher,
		state:    state,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}
}
