package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// duplicateKeyCode is the server error code for a unique index violation.
const duplicateKeyCode = 11000

// ErrNotFound is returned when a document lookup matches nothing.
var ErrNotFound = errors.New("document not found")

// WriteError is one per-document failure of a bulk insert.
type WriteError struct {
	Index   int
	Code    int
	Message string
}

// IsDuplicate reports whether the failure is a unique index violation.
func (e WriteError) IsDuplicate() bool {
	return e.Code == duplicateKeyCode
}

// BulkError carries the per-document failures of a bulk insert. The insert
// ids of the documents that did go through are returned alongside it, never
// lost to the error.
type BulkError struct {
	WriteErrors []WriteError
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk write failed for %d documents", len(e.WriteErrors))
}

// Partition splits the failures into duplicate-key conflicts and the rest.
func (e *BulkError) Partition() (duplicates, others []WriteError) {
	for _, we := range e.WriteErrors {
		if we.IsDuplicate() {
			duplicates = append(duplicates, we)
		} else {
			others = append(others, we)
		}
	}
	return duplicates, others
}

// Driver is the document store surface the repository consumes. InsertMany
// performs an unordered bulk insert and returns the storage ids of the
// documents that were inserted; per-document failures come back as a
// *BulkError next to those ids.
type Driver interface {
	InsertMany(ctx context.Context, collection string, docs []interface{}) ([]interface{}, error)
	FindOne(ctx context.Context, collection string, filter bson.M, out interface{}) error
	UpdateOne(ctx context.Context, collection string, filter bson.M, update bson.M) error
}

type mongoDriver struct {
	db *mongo.Database
}

// NewMongoDriver adapts a MongoDB database handle to the Driver surface.
func NewMongoDriver(db *mongo.Database) Driver {
	return &mongoDriver{db: db}
}

func (m *mongoDriver) InsertMany(ctx context.Context, collection string, docs []interface{}) ([]interface{}, error) {
	res, err := m.db.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	var ids []interface{}
	if res != nil {
		ids = res.InsertedIDs
	}
	if err == nil {
		return ids, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return ids, err
	}
	bulkErr := &BulkError{}
	failed := make(map[int]bool, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		bulkErr.WriteErrors = append(bulkErr.WriteErrors, WriteError{
			Index:   we.Index,
			Code:    we.Code,
			Message: we.Message,
		})
		failed[we.Index] = true
	}
	// Older driver versions report the client-generated id of every document,
	// failed ones included. Normalize to inserted-only.
	if len(ids) == len(docs) && len(failed) > 0 {
		kept := make([]interface{}, 0, len(docs)-len(failed))
		for i, id := range ids {
			if !failed[i] {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	return ids, bulkErr
}

func (m *mongoDriver) FindOne(ctx context.Context, collection string, filter bson.M, out interface{}) error {
	err := m.db.Collection(collection).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (m *mongoDriver) UpdateOne(ctx context.Context, collection string, filter bson.M, update bson.M) error {
	_, err := m.db.Collection(collection).UpdateOne(ctx, filter, update)
	return err
}
