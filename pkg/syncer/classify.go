package syncer

import "github.com/multiorder/shopsync/pkg/etsy"

// Classification is the storage eligibility of a fetched receipt.
type Classification int

const (
	// Unpaid receipts are deferred to the next cycle instead of stored.
	Unpaid Classification = iota
	// Paid receipts are eligible for storage.
	Paid
)

func (c Classification) String() string {
	if c == Paid {
		return "paid"
	}
	return "unpaid"
}

// Classify decides whether a fetched receipt is eligible for storage. A
// receipt is unpaid when the platform has not flagged it paid or when its
// first transaction has no paid timestamp yet (payment still processing on
// the platform side). The platform guarantees at least one transaction per
// receipt, but a receipt without any classifies as unpaid rather than
// panicking. Paid receipts get their due dates derived before they are
// returned.
func Classify(r *etsy.Receipt) Classification {
	if !r.WasPaid || len(r.Transactions) == 0 || r.Transactions[0].PaidTime == nil {
		return Unpaid
	}
	DeriveDueDates(r)
	return Paid
}
