package syncer

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/multiorder/shopsync/internal/metrics"
	"github.com/multiorder/shopsync/pkg/etsy"
	"github.com/multiorder/shopsync/pkg/store"
)

// fetchAndClassify walks every page of a receipts resource and partitions
// the results into ids still awaiting payment and receipts ready to store.
// Pages with a non-success status are skipped, not retried: a partial fetch
// yields a partial but valid result set instead of aborting the cycle.
func (s *Syncer) fetchAndClassify(ctx context.Context, shop *store.ShopConnection, resource string, params url.Values) ([]int64, []*etsy.Receipt, error) {
	pages, err := s.fetcher.GetAllPages(ctx, http.MethodGet, resource, params)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("Fetched receipt pages",
		zap.String("shop_id", shop.ShopID),
		zap.Int("pages", len(pages)))

	var unpaidIDs []int64
	var paid []*etsy.Receipt
	for _, page := range pages {
		if page.StatusCode != http.StatusOK {
			metrics.PagesSkipped.WithLabelValues(shop.ShopID).Inc()
			continue
		}
		for _, receipt := range page.Body.Results {
			if Classify(receipt) == Unpaid {
				s.logger.Info("Payment not cleared yet, deferring receipt",
					zap.Int64("receipt_id", receipt.ReceiptID),
					zap.Bool("was_paid", receipt.WasPaid))
				unpaidIDs = append(unpaidIDs, receipt.ReceiptID)
				continue
			}
			paid = append(paid, receipt)
		}
	}
	return unpaidIDs, paid, nil
}

// reconcileUnpaid re-checks receipts deferred in earlier cycles. With an
// empty deferred set there is nothing to ask the platform, so no request is
// made. The min_created bound is dropped from a copy of the query: a
// deferred receipt may be older than the current window.
func (s *Syncer) reconcileUnpaid(ctx context.Context, connectionID string, shop *store.ShopConnection, params url.Values) ([]int64, []*etsy.Receipt, error) {
	deferred, err := s.state.UnpaidReceipts(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if len(deferred) == 0 {
		return nil, nil, nil
	}
	s.logger.Info("Checking deferred unpaid receipts",
		zap.String("connection_id", connectionID),
		zap.Int("count", len(deferred)))

	query := cloneValues(params)
	query.Del("min_created")
	return s.fetchAndClassify(ctx, shop, etsy.ReceiptsByID(deferred), query)
}

// fetchNewOrders queries receipts created within the cycle's time window.
func (s *Syncer) fetchNewOrders(ctx context.Context, shop *store.ShopConnection, params url.Values) ([]int64, []*etsy.Receipt, error) {
	s.logger.Info("Checking for new orders", zap.String("shop_id", shop.ShopID))
	return s.fetchAndClassify(ctx, shop, etsy.FindAllShopReceipts(shop.ShopID), params)
}

func cloneValues(params url.Values) url.Values {
	clone := make(url.Values, len(params))
	for k, vs := range params {
		clone[k] = append([]string(nil), vs...)
	}
	return clone
}
