package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// BoltStore keeps data bag items in a bolt file, one bucket per data bag,
// keyed by item id with JSON values.
type BoltStore struct {
	db  *bolt.DB
	bag []byte
}

func NewBoltStore(path, bag string, readOnly bool) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 10 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("db open: path '%s' %w", path, err)
	}

	s := &BoltStore{db: db, bag: []byte(bag)}
	if readOnly {
		return s, nil
	}

	tx, err := db.Begin(true)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db begin: %w", err)
	}

	_, err = tx.CreateBucketIfNotExists(s.bag)
	if err != nil {
		_ = tx.Rollback()
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bag, err)
	}

	if err := tx.Commit(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// PutRecord stores rec under its id, replacing any previous item.
func (b *BoltStore) PutRecord(ctx context.Context, rec domain.UserRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("db put: %w: item without id", domain.ErrInvalidRecord)
	}

	m, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("db value marshal: %w", err)
	}

	tx, err := b.db.Begin(true)
	if err != nil {
		return fmt.Errorf("db begin: %w", err)
	}

	bucket := tx.Bucket(b.bag)
	if bucket == nil {
		_ = tx.Rollback()
		return fmt.Errorf("db bucket %s: %w", b.bag, domain.ErrNotFound)
	}

	if err := bucket.Put([]byte(rec.ID), m); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("db put: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db commit: %w", err)
	}

	return nil
}

// ReadRecord returns the item with the given id.
func (b *BoltStore) ReadRecord(ctx context.Context, id string) (domain.UserRecord, error) {
	var rec domain.UserRecord

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bag)
		if bucket == nil {
			return fmt.Errorf("db bucket %s: %w", b.bag, domain.ErrNotFound)
		}

		v := bucket.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("item not found: %s: %w", id, domain.ErrNotFound)
		}

		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("db value unmarshal %s: %w", id, err)
		}
		return nil
	})

	return rec, err
}

func (b *BoltStore) DeleteRecord(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bag)
		if bucket == nil {
			return fmt.Errorf("db bucket %s: %w", b.bag, domain.ErrNotFound)
		}
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("item not found: %s: %w", id, domain.ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// List returns every item of the bag in key order.
func (b *BoltStore) List(ctx context.Context) ([]domain.UserRecord, error) {
	var ret []domain.UserRecord

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bag)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var rec domain.UserRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("db value unmarshal %s: %w", k, err)
			}
			ret = append(ret, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("db foreach: %w", err)
	}

	return ret, nil
}

// Query implements domain.RecordSource.
func (b *BoltStore) Query(ctx context.Context, filter domain.Filter) ([]domain.UserRecord, error) {
	all, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	return matching(all, filter), nil
}
