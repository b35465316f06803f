package etsy

import (
	"fmt"
	"strconv"
	"strings"
)

// FindAllShopReceipts returns the resource listing all receipts of a shop.
func FindAllShopReceipts(shopID string) string {
	return fmt.Sprintf("/shops/%s/receipts", shopID)
}

// ReceiptsByID returns the resource addressing a set of receipts by id.
// The platform accepts up to 100 comma-separated ids per request.
func ReceiptsByID(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("/receipts/%s", strings.Join(parts, ","))
}
