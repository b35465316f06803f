package syncer

import (
	"context"
	"net/url"

	"github.com/multiorder/shopsync/pkg/etsy"
	"github.com/multiorder/shopsync/pkg/store"
)

// MockFetcher is a mock implementation of PagedFetcher
type MockFetcher struct {
	GetAllPagesFunc func(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error)

	Resources []string
}

func (m *MockFetcher) GetAllPages(ctx context.Context, method, resource string, params url.Values) ([]etsy.Page, error) {
	m.Resources = append(m.Resources, resource)
	if m.GetAllPagesFunc != nil {
		return m.GetAllPagesFunc(ctx, method, resource, params)
	}
	return nil, nil
}

// MockReceiptStore is a mock implementation of ReceiptStore
type MockReceiptStore struct {
	InsertReceiptsFunc     func(ctx context.Context, shopName string, receipts []*etsy.Receipt) ([]store.InsertedReceipt, error)
	FindShopConnectionFunc func(ctx context.Context, connectionID string) (*store.ShopConnection, error)
}

func (m *MockReceiptStore) InsertReceipts(ctx context.Context, shopName string, receipts []*etsy.Receipt) ([]store.InsertedReceipt, error) {
	if m.InsertReceiptsFunc != nil {
		return m.InsertReceiptsFunc(ctx, shopName, receipts)
	}
	return nil, nil
}

func (m *MockReceiptStore) FindShopConnection(ctx context.Context, connectionID string) (*store.ShopConnection, error) {
	if m.FindShopConnectionFunc != nil {
		return m.FindShopConnectionFunc(ctx, connectionID)
	}
	return &store.ShopConnection{ShopID: "11111", ShopName: "mockshop"}, nil
}

// MockShopSyncer is a mock implementation of ShopSyncer
type MockShopSyncer struct {
	SyncShopFunc func(ctx context.Context, connectionID string) Outcome
}

func (m *MockShopSyncer) SyncShop(ctx context.Context, connectionID string) Outcome {
	if m.SyncShopFunc != nil {
		return m.SyncShopFunc(ctx, connectionID)
	}
	return OutcomeSucceeded
}

// paidReceipt builds a storable receipt with the given id.
func paidReceipt(id int64) *etsy.Receipt {
	return &etsy.Receipt{
		ReceiptID: id,
		WasPaid:   true,
		Transactions: []*etsy.Transaction{
			{TransactionID: id * 10, PaidTime: i64(1600000000), ExpectedShipDate: i64(1600100000)},
		},
	}
}

// unpaidReceipt builds a receipt still awaiting payment.
func unpaidReceipt(id int64) *etsy.Receipt {
	return &etsy.Receipt{
		ReceiptID: id,
		WasPaid:   false,
		Transactions: []*etsy.Transaction{
			{TransactionID: id * 10},
		},
	}
}

// page wraps receipts into a single successful result page.
func page(receipts ...*etsy.Receipt) etsy.Page {
	return etsy.Page{
		StatusCode: 200,
		Body:       etsy.PageBody{Count: len(receipts), Results: receipts},
	}
}
