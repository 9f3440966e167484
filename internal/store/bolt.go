package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
)

// BoltBackend is the local embedded document store. Each collection is a
// bucket keyed by record id. bbolt allows a single writer at a time, so every
// Update is serialized.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bbolt file at path and makes sure every
// collection bucket exists
func OpenBolt(path string, collections []string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Name identifies the backend in logs
func (b *BoltBackend) Name() string {
	return "local"
}

// Close closes the bbolt file
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// View runs fn in a read-only transaction
func (b *BoltBackend) View(ctx context.Context, fn func(Reader) error) error {
	ran := false
	var fnErr error
	err := b.db.View(func(btx *bolt.Tx) error {
		ran = true
		fnErr = fn(&boltTx{tx: btx})
		return fnErr
	})
	if err != nil {
		if ran && fnErr != nil {
			return fnErr
		}
		return unavailable(err, b.Name(), "view")
	}
	return nil
}

// Update runs fn in a read-write transaction. Returning an error rolls back.
func (b *BoltBackend) Update(ctx context.Context, fn func(Tx) error) error {
	ran := false
	var fnErr error
	err := b.db.Update(func(btx *bolt.Tx) error {
		ran = true
		fnErr = fn(&boltTx{tx: btx})
		return fnErr
	})
	if err != nil {
		if ran && fnErr != nil {
			return fnErr
		}
		return unavailable(err, b.Name(), "update")
	}
	return nil
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	bucket := t.tx.Bucket([]byte(collection))
	if bucket == nil {
		return nil, ErrNotFound
	}
	v := bucket.Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

func (t *boltTx) List(ctx context.Context, collection string, filter Filter) ([][]byte, error) {
	bucket := t.tx.Bucket([]byte(collection))
	if bucket == nil {
		return nil, nil
	}

	var docs [][]byte
	err := bucket.ForEach(func(_, v []byte) error {
		if matches(v, filter) {
			docs = append(docs, copyBytes(v))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err, "local", "list")
	}
	return docs, nil
}

func (t *boltTx) Put(ctx context.Context, collection, id string, doc []byte) error {
	bucket, err := t.tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return unavailable(err, "local", "put")
	}
	if err := bucket.Put([]byte(id), doc); err != nil {
		return unavailable(err, "local", "put")
	}
	return nil
}

func (t *boltTx) Delete(ctx context.Context, collection, id string) (bool, error) {
	bucket := t.tx.Bucket([]byte(collection))
	if bucket == nil || bucket.Get([]byte(id)) == nil {
		return false, nil
	}
	if err := bucket.Delete([]byte(id)); err != nil {
		return false, unavailable(err, "local", "delete")
	}
	return true, nil
}

func matches(doc []byte, filter Filter) bool {
	for field, want := range filter {
		if jsoniter.Get(doc, field).ToString() != want {
			return false
		}
	}
	return true
}

// bbolt values are only valid for the life of the transaction
func copyBytes(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
