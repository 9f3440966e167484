package store

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"orderly-service/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Collections
const (
	CollectionUsers         = "users"
	CollectionProducts      = "products"
	CollectionOrders        = "orders"
	CollectionLinks         = "salesperson_links"
	CollectionNotifications = "notifications"
	CollectionFollows       = "follows"
)

// AllCollections lists every logical collection
var AllCollections = []string{
	CollectionUsers,
	CollectionProducts,
	CollectionOrders,
	CollectionLinks,
	CollectionNotifications,
	CollectionFollows,
}

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Filter selects records whose top-level string fields equal the given values.
// An empty filter matches every record.
type Filter map[string]string

// Reader reads JSON documents
type Reader interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	List(ctx context.Context, collection string, filter Filter) ([][]byte, error)
}

// Tx reads and writes JSON documents inside one atomic unit
type Tx interface {
	Reader
	Put(ctx context.Context, collection, id string, doc []byte) error
	Delete(ctx context.Context, collection, id string) (bool, error)
}

// Store runs read and read-modify-write units. fn passed to View may be run
// more than once when a read falls back to another backend.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Backend is one concrete storage engine
type Backend interface {
	Store
	Name() string
	Close() error
}

func unavailable(err error, backend, op string) error {
	return apperr.Wrap(apperr.CodeStoreUnavailable, err, "%s store %s failed", backend, op)
}

// Get decodes one record
func Get[T any](ctx context.Context, r Reader, collection, id string) (*T, error) {
	raw, err := r.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return &v, nil
}

// Find decodes every record matching filter
func Find[T any](ctx context.Context, r Reader, collection string, filter Filter) ([]T, error) {
	docs, err := r.List(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, raw := range docs {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Put encodes and writes one record
func Put(ctx context.Context, tx Tx, collection, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	return tx.Put(ctx, collection, id, raw)
}

// GetRecord reads one record in its own read unit
func GetRecord[T any](ctx context.Context, s Store, collection, id string) (*T, error) {
	var out *T
	err := s.View(ctx, func(r Reader) error {
		v, err := Get[T](ctx, r, collection, id)
		out = v
		return err
	})
	return out, err
}

// ListRecords reads every matching record in its own read unit
func ListRecords[T any](ctx context.Context, s Store, collection string, filter Filter) ([]T, error) {
	var out []T
	err := s.View(ctx, func(r Reader) error {
		v, err := Find[T](ctx, r, collection, filter)
		out = v
		return err
	})
	return out, err
}

// UpsertRecord writes one record in its own write unit
func UpsertRecord(ctx context.Context, s Store, collection, id string, v interface{}) error {
	return s.Update(ctx, func(tx Tx) error {
		return Put(ctx, tx, collection, id, v)
	})
}

// DeleteRecord removes one record in its own write unit
func DeleteRecord(ctx context.Context, s Store, collection, id string) (bool, error) {
	var deleted bool
	err := s.Update(ctx, func(tx Tx) error {
		ok, err := tx.Delete(ctx, collection, id)
		deleted = ok
		return err
	})
	return deleted, err
}
