package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName      = "receipts"
	userIndexBucket = "receipts_by_user"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt creates or replaces a receipt
	SaveReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// ListReceipts returns a user's receipts dated within [start, end],
	// ordered by date. An empty user lists every user; zero bounds are open.
	ListReceipts(ctx context.Context, userID string, start, end time.Time) ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(ctx context.Context, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(userIndexBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// indexKey orders a user's receipts by date: user 0x00 date 0x00 id
func indexKey(r *Receipt) []byte {
	return []byte(r.UserID + "\x00" + r.DateString() + "\x00" + r.ID)
}

func userPrefix(userID string) []byte {
	return []byte(userID + "\x00")
}

// SaveReceipt saves a receipt and keeps the user index in step
func (b *BoltDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		index := tx.Bucket([]byte(userIndexBucket))

		if existing := bucket.Get([]byte(receipt.ID)); existing != nil {
			var previous Receipt
			if err := json.Unmarshal(existing, &previous); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if err := index.Delete(indexKey(&previous)); err != nil {
				return fmt.Errorf("updating index: %w", err)
			}
		}

		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := bucket.Put([]byte(receipt.ID), data); err != nil {
			return err
		}
		return index.Put(indexKey(receipt), []byte(receipt.ID))
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts walks the user index from the start date, or scans every
// receipt when no user is given
func (b *BoltDB) ListReceipts(ctx context.Context, userID string, start, end time.Time) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))

		if userID == "" {
			return bucket.ForEach(func(k, v []byte) error {
				var receipt Receipt
				if err := json.Unmarshal(v, &receipt); err != nil {
					return fmt.Errorf("unmarshaling receipt: %w", err)
				}
				if inRange(receipt.Date, start, end) {
					receipts = append(receipts, &receipt)
				}
				return nil
			})
		}

		prefix := userPrefix(userID)
		seek := prefix
		if !start.IsZero() {
			seek = append(append([]byte{}, prefix...), start.Format(DateLayout)...)
		}

		c := tx.Bucket([]byte(userIndexBucket)).Cursor()
		for k, id := c.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			data := bucket.Get(id)
			if data == nil {
				continue
			}
			var receipt Receipt
			if err := json.Unmarshal(data, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if !end.IsZero() && receipt.DateString() > end.Format(DateLayout) {
				break
			}
			receipts = append(receipts, &receipt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortReceipts(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt and its index entry
func (b *BoltDB) DeleteReceipt(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(userIndexBucket)).Delete(indexKey(&receipt)); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// sortReceipts orders by date, then ID
func sortReceipts(receipts []*Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		di, dj := receipts[i].DateString(), receipts[j].DateString()
		if di != dj {
			return di < dj
		}
		return receipts[i].ID < receipts[j].ID
	})
}
