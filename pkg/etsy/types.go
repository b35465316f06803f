package etsy

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"
)

// Transaction is one line item on a receipt. The remote payload carries many
// more fields than the sync pipeline consumes; the full payload is retained
// in raw and round-trips into storage unmodified.
type Transaction struct {
	TransactionID    int64
	PaidTime         *int64
	ExpectedShipDate *int64

	raw map[string]interface{}
}

// UnmarshalJSON decodes the typed fields and keeps the raw payload.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var fields struct {
		TransactionID    int64  `json:"transaction_id"`
		PaidTime         *int64 `json:"paid_tsz"`
		ExpectedShipDate *int64 `json:"expected_ship_date"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.TransactionID = fields.TransactionID
	t.PaidTime = fields.PaidTime
	t.ExpectedShipDate = fields.ExpectedShipDate
	t.raw = raw
	return nil
}

// Document returns the transaction as it arrived from the platform.
func (t *Transaction) Document() bson.M {
	doc := make(bson.M, len(t.raw))
	for k, v := range t.raw {
		doc[k] = v
	}
	return doc
}

// Receipt is one commerce order fetched from the platform. ReceiptID is the
// remote-assigned identity, stable and unique within a shop; the storage id
// assigned by MongoDB is separate. MaxDueDate and MinDueDate stay nil until
// the receipt is classified as paid.
type Receipt struct {
	ReceiptID    int64
	WasPaid      bool
	Transactions []*Transaction
	MaxDueDate   *int64
	MinDueDate   *int64

	raw map[string]interface{}
}

// UnmarshalJSON decodes the consumed fields and keeps everything else the
// platform sent.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var fields struct {
		ReceiptID    int64          `json:"receipt_id"`
		WasPaid      bool           `json:"was_paid"`
		Transactions []*Transaction `json:"Transactions"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ReceiptID = fields.ReceiptID
	r.WasPaid = fields.WasPaid
	r.Transactions = fields.Transactions
	r.raw = raw
	return nil
}

// Document builds the storage document: the raw platform payload plus the
// shop name stamp, the normalized receipt id and the derived due dates.
func (r *Receipt) Document(shopName string) bson.M {
	doc := make(bson.M, len(r.raw)+4)
	for k, v := range r.raw {
		doc[k] = v
	}
	doc["receipt_id"] = r.ReceiptID
	doc["shop_name"] = shopName
	doc["max_due_date"] = r.MaxDueDate
	doc["min_due_date"] = r.MinDueDate
	return doc
}

// Pagination is the paging envelope of a list response.
type Pagination struct {
	EffectiveLimit  int  `json:"effective_limit"`
	EffectiveOffset int  `json:"effective_offset"`
	NextOffset      *int `json:"next_offset"`
}

// PageBody is the decoded body of one result page.
type PageBody struct {
	Count      int         `json:"count"`
	Results    []*Receipt  `json:"results"`
	Pagination *Pagination `json:"pagination"`
}

// Page is one page of a paged fetch, exposing the HTTP status so callers can
// decide what to do with non-success pages.
type Page struct {
	StatusCode int
	Body       PageBody
}
