package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/dreamware/onyx/internal/merge"
	"github.com/dreamware/onyx/internal/onyxval"
)

var bucketName = []byte("onyx")

// BoltDriver implements Storage on top of a single go.etcd.io/bbolt file,
// giving Onyx a durable backend for callers that need writes to survive a
// process restart. bbolt's single-writer transactions give us the
// "atomic composition" and "no partial updates visible" guarantees the
// Storage contract assumes without any extra locking in this package.
type BoltDriver struct {
	db   *bbolt.DB
	path string
}

// NewBoltDriver returns a driver for the bbolt database at path. It does
// not touch the file; Init opens it (creating it if necessary), and the
// caller must call Init before any other method.
func NewBoltDriver(path string) *BoltDriver {
	return &BoltDriver{path: path}
}

// Init opens the database file and ensures the onyx bucket exists.
func (b *BoltDriver) Init(ctx context.Context) error {
	db, err := bbolt.Open(b.path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("onyx: open bolt db %q: %w", b.path, err)
	}
	b.db = db
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
}

// Close releases the underlying database file.
func (b *BoltDriver) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func encodeValue(v onyxval.Value) ([]byte, error) {
	return json.Marshal(v)
}

func decodeValue(raw []byte) (onyxval.Value, error) {
	var v onyxval.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return onyxval.Value{}, err
	}
	return v, nil
}

// GetItem returns the stored value for key.
func (b *BoltDriver) GetItem(ctx context.Context, key string) (onyxval.Value, bool, error) {
	var v onyxval.Value
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		decoded, err := decodeValue(raw)
		if err != nil {
			return err
		}
		v = decoded
		return nil
	})
	return v, found, err
}

// GetAllKeys returns every key currently stored.
func (b *BoltDriver) GetAllKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys[string(k)] = struct{}{}
			return nil
		})
	})
	return keys, err
}

// SetItem writes value for key inside a single bbolt transaction.
func (b *BoltDriver) SetItem(ctx context.Context, key string, value onyxval.Value) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return b.putLocked(tx, key, value)
	})
}

func (b *BoltDriver) putLocked(tx *bbolt.Tx, key string, value onyxval.Value) error {
	if value.IsNull() {
		return tx.Bucket(bucketName).Delete([]byte(key))
	}
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketName).Put([]byte(key), encoded)
}

// MultiSet writes every pair inside a single bbolt transaction, so a crash
// mid-batch never leaves a partially-applied write visible to readers.
func (b *BoltDriver) MultiSet(ctx context.Context, pairs map[string]onyxval.Value) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for k, v := range pairs {
			if err := b.putLocked(tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// MergeItem merges delta onto the currently stored value within one
// transaction, guaranteeing the read-modify-write is not interleaved with
// any other writer.
func (b *BoltDriver) MergeItem(ctx context.Context, key string, delta, preMerged onyxval.Value, shouldSetValue bool) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var result onyxval.Value
		if shouldSetValue {
			result = preMerged
		} else {
			raw := tx.Bucket(bucketName).Get([]byte(key))
			var existing onyxval.Value
			if raw != nil {
				decoded, err := decodeValue(raw)
				if err != nil {
					return err
				}
				existing = decoded
			}
			result = merge.Apply(existing, []onyxval.Value{delta}, true)
		}
		return b.putLocked(tx, key, result)
	})
}

// MultiMerge applies MergeItem semantics to every pair within one
// transaction.
func (b *BoltDriver) MultiMerge(ctx context.Context, pairs map[string]onyxval.Value) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for key, delta := range pairs {
			raw := tx.Bucket(bucketName).Get([]byte(key))
			var existing onyxval.Value
			if raw != nil {
				decoded, err := decodeValue(raw)
				if err != nil {
					return err
				}
				existing = decoded
			}
			result := merge.Apply(existing, []onyxval.Value{delta}, true)
			if err := b.putLocked(tx, key, result); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveItems deletes every listed key within one transaction.
func (b *BoltDriver) RemoveItems(ctx context.Context, keys []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, k := range keys {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ Storage = (*BoltDriver)(nil)
