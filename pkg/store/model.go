package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection names in the order database.
const (
	collReceipts    = "Receipts"
	collNotes       = "Notes"
	collConnections = "EtsyShopConnections"
)

// NoteStatus is the completion state of a follow-up task.
type NoteStatus string

const (
	NoteStatusUncompleted NoteStatus = "UNCOMPLETED"
	NoteStatusCompleted   NoteStatus = "COMPLETED"
)

// Note is a follow-up task created for every stored receipt. It references
// the receipt by its remote id, not by storage id.
type Note struct {
	ReceiptID int64      `bson:"receipt_id"`
	CreatedAt time.Time  `bson:"created_at"`
	Status    NoteStatus `bson:"status"`
}

// InsertedReceipt pairs the store-assigned id of a newly inserted receipt
// with its remote receipt id.
type InsertedReceipt struct {
	StorageID string
	ReceiptID int64
}

// storedReceipt is the slice of a receipt document read back after insert.
type storedReceipt struct {
	ID        primitive.ObjectID `bson:"_id"`
	ReceiptID int64              `bson:"receipt_id"`
}

// ShopConnection is a provisioned link between the service and one shop.
// Provisioning (OAuth handshake, credential storage) happens elsewhere; the
// sync worker only reads the shop identity from it.
type ShopConnection struct {
	ID       primitive.ObjectID `bson:"_id"`
	ShopID   string             `bson:"etsy_shop_id"`
	ShopName string             `bson:"etsy_shop_name"`
	Verified bool               `bson:"verified"`
}
