package syncer

import "github.com/multiorder/shopsync/pkg/etsy"

// DeriveDueDates sets the receipt's max and min fulfillment due dates from
// the expected ship dates of its transactions. Transactions without a ship
// date are ignored; when no transaction carries one, both fields stay nil.
func DeriveDueDates(r *etsy.Receipt) {
	var min, max *int64
	for _, t := range r.Transactions {
		if t.ExpectedShipDate == nil {
			continue
		}
		v := *t.ExpectedShipDate
		if min == nil || v < *min {
			min = &v
		}
		if max == nil || v > *max {
			max = &v
		}
	}
	r.MinDueDate = min
	r.MaxDueDate = max
}
