package syncer

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/multiorder/shopsync/pkg/etsy"
	"github.com/multiorder/shopsync/pkg/store"
	"github.com/multiorder/shopsync/pkg/syncstate"
)

// cancelAwareKV fails every operation once its context is cancelled, the way
// a network-backed KV does.
type cancelAwareKV struct {
	inner syncstate.KV
}

func (k *cancelAwareKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return k.inner.Get(ctx, key)
}

func (k *cancelAwareKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.inner.Set(ctx, key, value)
}

// openGuardKV reports the run flag as clear for a fixed number of reads,
// reproducing two triggers that both check the flag before either set lands.
type openGuardKV struct {
	*syncstate.MemoryKV
	guardReads int
}

func (k *openGuardKV) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.HasSuffix(key, ":is_running") && k.guardReads > 0 {
		k.guardReads--
		return "False", true, nil
	}
	return k.MemoryKV.Get(ctx, key)
}

// insertAll reports every submitted receipt as stored.
func insertAll(ctx context.Context, shopName string, receipts []*etsy.Receipt) ([]store.InsertedReceipt, error) {
	inserted := make([]store.InsertedReceipt, len(receipts))
	for i, r := range receipts {
		inserted[i] = store.InsertedReceipt{StorageID: "id", ReceiptID: r.ReceiptID}
	}
	return inserted, nil
}

func TestSyncShop_AlreadyRunning_SkipsCycle(t *testing.T) {
	state := newTestState(t)
	if err := state.SetRunning(context.Background(), "conn-1", true); err != nil {
		t.Fatalf("failed to seed run flag: %v", err)
	}

	fetcher := &MockFetcher{}
	s := New(fetcher, state, &MockReceiptStore{}, zap.NewNop())

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeAlreadyRunning {
		t.Errorf("Expected outcome %s, got %s", OutcomeAlreadyRunning, got)
	}
	if len(fetcher.Resources) != 0 {
		t.Errorf("Expected no remote calls, got %v", fetcher.Resources)
	}
	running, err := state.IsRunning(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read run flag: %v", err)
	}
	if !running {
		t.Error("Run flag of the concurrent cycle must not be cleared")
	}
}

func TestSyncShop_FirstCycle_NoLowerBoundAndWatermarkAdvances(t *testing.T) {
	state := newTestState(t)
	var seen url.Values
	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			seen = params
			return []etsy.Page{page(paidReceipt(1), paidReceipt(2))}, nil
		},
	}
	s := New(fetcher, state, &MockReceiptStore{InsertReceiptsFunc: insertAll}, zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeSucceeded {
		t.Fatalf("Expected outcome %s, got %s", OutcomeSucceeded, got)
	}

	if _, ok := seen["min_created"]; ok {
		t.Error("First cycle must not bound the window below")
	}
	if seen.Get("max_created") != "1700000000" {
		t.Errorf("Expected max_created 1700000000, got %q", seen.Get("max_created"))
	}
	if !strings.Contains(seen.Get("includes"), "Transactions") {
		t.Errorf("Expected transactions expanded, got includes=%q", seen.Get("includes"))
	}

	lastUpdated, err := state.LastUpdated(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read watermark: %v", err)
	}
	if lastUpdated == nil || *lastUpdated != 1700000000 {
		t.Errorf("Expected watermark 1700000000, got %v", lastUpdated)
	}

	running, err := state.IsRunning(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read run flag: %v", err)
	}
	if running {
		t.Error("Run flag must be cleared after the cycle")
	}
}

func TestSyncShop_ResumesFromWatermark(t *testing.T) {
	state := newTestState(t)
	if err := state.SetLastUpdated(context.Background(), "conn-1", 1600000000); err != nil {
		t.Fatalf("failed to seed watermark: %v", err)
	}

	var seen url.Values
	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			seen = params
			return []etsy.Page{page()}, nil
		},
	}
	s := New(fetcher, state, &MockReceiptStore{InsertReceiptsFunc: insertAll}, zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeSucceeded {
		t.Fatalf("Expected outcome %s, got %s", OutcomeSucceeded, got)
	}
	if seen.Get("min_created") != "1600000000" {
		t.Errorf("Expected min_created 1600000000, got %q", seen.Get("min_created"))
	}
}

func TestSyncShop_PartialInsert_KeepsWatermark(t *testing.T) {
	state := newTestState(t)
	if err := state.SetLastUpdated(context.Background(), "conn-1", 1600000000); err != nil {
		t.Fatalf("failed to seed watermark: %v", err)
	}

	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			return []etsy.Page{page(paidReceipt(1), paidReceipt(2))}, nil
		},
	}
	receipts := &MockReceiptStore{
		InsertReceiptsFunc: func(ctx context.Context, shopName string, rs []*etsy.Receipt) ([]store.InsertedReceipt, error) {
			// One of the two dropped by a write error.
			return []store.InsertedReceipt{{StorageID: "id", ReceiptID: rs[0].ReceiptID}}, nil
		},
	}
	s := New(fetcher, state, receipts, zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeFailed {
		t.Errorf("Expected outcome %s, got %s", OutcomeFailed, got)
	}
	lastUpdated, err := state.LastUpdated(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read watermark: %v", err)
	}
	if lastUpdated == nil || *lastUpdated != 1600000000 {
		t.Errorf("Expected watermark unchanged at 1600000000, got %v", lastUpdated)
	}
}

func TestSyncShop_InsertError_DeferredSetStillWritten(t *testing.T) {
	state := newTestState(t)
	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			return []etsy.Page{page(unpaidReceipt(7), paidReceipt(8))}, nil
		},
	}
	receipts := &MockReceiptStore{
		InsertReceiptsFunc: func(ctx context.Context, shopName string, rs []*etsy.Receipt) ([]store.InsertedReceipt, error) {
			return nil, errors.New("storage unavailable")
		},
	}
	s := New(fetcher, state, receipts, zap.NewNop())

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeFailed {
		t.Errorf("Expected outcome %s, got %s", OutcomeFailed, got)
	}

	deferred, err := state.UnpaidReceipts(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read deferred receipts: %v", err)
	}
	if len(deferred) != 1 || deferred[0] != 7 {
		t.Errorf("Expected deferred set [7] despite the failed insert, got %v", deferred)
	}
	lastUpdated, err := state.LastUpdated(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read watermark: %v", err)
	}
	if lastUpdated != nil {
		t.Errorf("Expected no watermark, got %v", lastUpdated)
	}
}

func TestSyncShop_FetchError_ClearsRunFlag(t *testing.T) {
	state := newTestState(t)
	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			return nil, errors.New("connection refused")
		},
	}
	s := New(fetcher, state, &MockReceiptStore{}, zap.NewNop())

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeFailed {
		t.Errorf("Expected outcome %s, got %s", OutcomeFailed, got)
	}
	running, err := state.IsRunning(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read run flag: %v", err)
	}
	if running {
		t.Error("Run flag must be cleared when the cycle fails")
	}
}

func TestSyncShop_CancelledContext_RunFlagStillCleared(t *testing.T) {
	state := syncstate.NewStore(&cancelAwareKV{inner: syncstate.NewMemoryKV()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			// The trigger goes away mid-fetch.
			cancel()
			return nil, ctx.Err()
		},
	}
	s := New(fetcher, state, &MockReceiptStore{}, zap.NewNop())

	if got := s.SyncShop(ctx, "conn-1"); got != OutcomeFailed {
		t.Errorf("Expected outcome %s, got %s", OutcomeFailed, got)
	}

	running, err := state.IsRunning(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read run flag: %v", err)
	}
	if running {
		t.Error("Run flag must be released even when the cycle's context is cancelled")
	}
}

func TestSyncShop_RacedTriggers_BothRunAndFlagEndsCleared(t *testing.T) {
	// The run guard is advisory: two triggers can both observe a clear flag
	// before either sets it. Exactly-once execution is best-effort, and the
	// duplicate-safe insert is what makes the overlap harmless.
	kv := &openGuardKV{MemoryKV: syncstate.NewMemoryKV(), guardReads: 2}
	state := syncstate.NewStore(kv)

	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			return []etsy.Page{page(paidReceipt(1))}, nil
		},
	}
	var inserts int
	receipts := &MockReceiptStore{
		InsertReceiptsFunc: func(ctx context.Context, shopName string, rs []*etsy.Receipt) ([]store.InsertedReceipt, error) {
			inserts++
			return insertAll(ctx, shopName, rs)
		},
	}
	s := New(fetcher, state, receipts, zap.NewNop())

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeSucceeded {
		t.Errorf("Expected first cycle %s, got %s", OutcomeSucceeded, got)
	}
	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeSucceeded {
		t.Errorf("Expected second cycle %s, got %s", OutcomeSucceeded, got)
	}

	if inserts != 2 {
		t.Errorf("Expected both overlapping cycles to run to completion, got %d inserts", inserts)
	}
	running, err := state.IsRunning(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read run flag: %v", err)
	}
	if running {
		t.Error("Run flag must end cleared after the overlapping cycles finish")
	}
}

func TestSyncShop_MergesAndDedupesDeferredIDs(t *testing.T) {
	state := newTestState(t)
	if err := state.SetUnpaidReceipts(context.Background(), "conn-1", []int64{5}); err != nil {
		t.Fatalf("failed to seed deferred set: %v", err)
	}

	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			if strings.HasPrefix(resource, "/receipts/") {
				// Re-check of the deferred receipt: still unpaid.
				return []etsy.Page{page(unpaidReceipt(5))}, nil
			}
			// The window fetch sees it again, plus a new unpaid one.
			return []etsy.Page{page(unpaidReceipt(5), unpaidReceipt(6))}, nil
		},
	}
	s := New(fetcher, state, &MockReceiptStore{InsertReceiptsFunc: insertAll}, zap.NewNop())

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeSucceeded {
		t.Fatalf("Expected outcome %s, got %s", OutcomeSucceeded, got)
	}

	deferred, err := state.UnpaidReceipts(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read deferred receipts: %v", err)
	}
	if len(deferred) != 2 || deferred[0] != 5 || deferred[1] != 6 {
		t.Errorf("Expected deferred set [5 6], got %v", deferred)
	}
}

func TestSyncShop_ReconciledPaidReceiptsAreInserted(t *testing.T) {
	state := newTestState(t)
	if err := state.SetUnpaidReceipts(context.Background(), "conn-1", []int64{9}); err != nil {
		t.Fatalf("failed to seed deferred set: %v", err)
	}

	fetcher := &MockFetcher{
		GetAllPagesFunc: func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
			if strings.HasPrefix(resource, "/receipts/") {
				// Payment cleared since the last cycle.
				return []etsy.Page{page(paidReceipt(9))}, nil
			}
			return []etsy.Page{page()}, nil
		},
	}
	var submitted []int64
	receipts := &MockReceiptStore{
		InsertReceiptsFunc: func(ctx context.Context, shopName string, rs []*etsy.Receipt) ([]store.InsertedReceipt, error) {
			for _, r := range rs {
				submitted = append(submitted, r.ReceiptID)
			}
			return insertAll(ctx, shopName, rs)
		},
	}
	s := New(fetcher, state, receipts, zap.NewNop())

	if got := s.SyncShop(context.Background(), "conn-1"); got != OutcomeSucceeded {
		t.Fatalf("Expected outcome %s, got %s", OutcomeSucceeded, got)
	}

	if len(submitted) != 1 || submitted[0] != 9 {
		t.Errorf("Expected receipt 9 submitted for insert, got %v", submitted)
	}
	deferred, err := state.UnpaidReceipts(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("failed to read deferred receipts: %v", err)
	}
	if len(deferred) != 0 {
		t.Errorf("Expected the deferred set emptied, got %v", deferred)
	}
}
