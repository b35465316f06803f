// Package store persists receipts and their follow-up notes in MongoDB.
//
// Receipt inserts are bulk and idempotent: receipt_id carries a unique index
// per shop, re-syncing an already stored receipt surfaces as a duplicate-key
// write error, and those are expected steady-state noise rather than
// failures. Non-duplicate write errors are logged as diagnostics without
// aborting the cycle that produced them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/multiorder/shopsync/pkg/etsy"
)

// Store provides receipt, note and shop connection operations.
type Store struct {
	driver Driver
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a new store over the given driver.
func NewStore(driver Driver, logger *zap.Logger) *Store {
	return &Store{
		driver: driver,
		logger: logger,
		now:    time.Now,
	}
}

// InsertReceipts stamps each receipt with the shop name and bulk-inserts
// them, then creates one note per newly inserted receipt. The returned pairs
// cover exactly the receipts that were genuinely inserted: duplicates of
// already stored receipts are suppressed, and a partial bulk failure does not
// discard the successes. The error is non-nil only for hard store failures.
func (s *Store) InsertReceipts(ctx context.Context, shopName string, receipts []*etsy.Receipt) ([]InsertedReceipt, error) {
	if len(receipts) == 0 {
		return nil, nil
	}

	docs := make([]interface{}, len(receipts))
	for i, r := range receipts {
		docs[i] = r.Document(shopName)
	}

	ids, err := s.driver.InsertMany(ctx, collReceipts, docs)
	failed := make(map[int]bool)
	if err != nil {
		var bulkErr *BulkError
		if !errors.As(err, &bulkErr) {
			return nil, fmt.Errorf("bulk insert of receipts failed: %w", err)
		}
		for _, we := range bulkErr.WriteErrors {
			failed[we.Index] = true
		}
		duplicates, others := bulkErr.Partition()
		if len(others) > 0 {
			s.logger.Warn("Receipt bulk insert reported non-duplicate write errors",
				zap.String("shop_name", shopName),
				zap.Int("count", len(others)),
				zap.Any("errors", others))
		}
		if len(duplicates) > 0 {
			s.logger.Debug("Skipped already stored receipts",
				zap.String("shop_name", shopName),
				zap.Int("count", len(duplicates)))
		}
	}

	inserted := make([]InsertedReceipt, 0, len(ids))
	storageIDs := make([]interface{}, 0, len(ids))
	idx := 0
	for i, r := range receipts {
		if failed[i] {
			continue
		}
		if idx >= len(ids) {
			break
		}
		inserted = append(inserted, InsertedReceipt{
			StorageID: storageIDString(ids[idx]),
			ReceiptID: r.ReceiptID,
		})
		storageIDs = append(storageIDs, ids[idx])
		idx++
	}

	if err := s.insertNotes(ctx, storageIDs); err != nil {
		return inserted, fmt.Errorf("failed to create notes for inserted receipts: %w", err)
	}
	return inserted, nil
}

// insertNotes re-reads each newly stored receipt to recover its remote id
// and bulk-inserts one uncompleted note per receipt. Notes carry a unique
// index on receipt_id, so a partial retry that re-creates notes surfaces as
// duplicate-key conflicts and is tolerated the same way receipts are.
func (s *Store) insertNotes(ctx context.Context, storageIDs []interface{}) error {
	if len(storageIDs) == 0 {
		return nil
	}

	notes := make([]interface{}, 0, len(storageIDs))
	for _, id := range storageIDs {
		var receipt storedReceipt
		if err := s.driver.FindOne(ctx, collReceipts, bson.M{"_id": id}, &receipt); err != nil {
			return fmt.Errorf("failed to read back receipt %v: %w", id, err)
		}
		notes = append(notes, Note{
			ReceiptID: receipt.ReceiptID,
			CreatedAt: s.now(),
			Status:    NoteStatusUncompleted,
		})
	}

	if _, err := s.driver.InsertMany(ctx, collNotes, notes); err != nil {
		var bulkErr *BulkError
		if !errors.As(err, &bulkErr) {
			return fmt.Errorf("bulk insert of notes failed: %w", err)
		}
		duplicates, others := bulkErr.Partition()
		if len(others) > 0 {
			s.logger.Warn("Note bulk insert reported non-duplicate write errors",
				zap.Int("count", len(others)),
				zap.Any("errors", others))
		}
		if len(duplicates) > 0 {
			s.logger.Debug("Skipped already existing notes", zap.Int("count", len(duplicates)))
		}
	}
	return nil
}

// UpdateReceipt replaces the transactions of a stored receipt. The filter
// matches both the storage id and the remote receipt id, so a stale or
// mismatched pair touches nothing.
func (s *Store) UpdateReceipt(ctx context.Context, storageID string, receiptID int64, transactions []*etsy.Transaction) error {
	oid, err := primitive.ObjectIDFromHex(storageID)
	if err != nil {
		return fmt.Errorf("invalid storage id %q: %w", storageID, err)
	}
	docs := make([]bson.M, len(transactions))
	for i, t := range transactions {
		docs[i] = t.Document()
	}
	err = s.driver.UpdateOne(ctx, collReceipts,
		bson.M{"_id": oid, "receipt_id": receiptID},
		bson.M{"$set": bson.M{"transactions": docs}},
	)
	if err != nil {
		return fmt.Errorf("failed to update receipt %d: %w", receiptID, err)
	}
	return nil
}

// FindShopConnection loads the shop connection for the given connection id.
func (s *Store) FindShopConnection(ctx context.Context, connectionID string) (*ShopConnection, error) {
	oid, err := primitive.ObjectIDFromHex(connectionID)
	if err != nil {
		return nil, fmt.Errorf("invalid connection id %q: %w", connectionID, err)
	}
	var conn ShopConnection
	if err := s.driver.FindOne(ctx, collConnections, bson.M{"_id": oid}, &conn); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("shop connection %s: %w", connectionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load shop connection %s: %w", connectionID, err)
	}
	return &conn, nil
}

func storageIDString(id interface{}) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}
