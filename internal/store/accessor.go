package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"orderly-service/internal/apperr"
	"orderly-service/internal/util"
)

// Accessor selects the backends once at start and hands out the two store
// views the services run against.
//
// Primary targets the remote store when one is configured. Reads that fail
// with STORE_UNAVAILABLE are retried against the local store; writes never
// fall back.
//
// Mirrored is local-authoritative. Writes commit locally and are then copied
// to the remote store best-effort.
type Accessor struct {
	local  Backend
	remote Backend
	logger *zap.Logger
}

// NewAccessor builds an accessor. remote may be nil.
func NewAccessor(local, remote Backend, logger *zap.Logger) *Accessor {
	return &Accessor{
		local:  local,
		remote: remote,
		logger: logger,
	}
}

// RemoteConfigured reports whether a remote store is in use
func (a *Accessor) RemoteConfigured() bool {
	return a.remote != nil
}

// Primary returns the remote-first view
func (a *Accessor) Primary() Store {
	if a.remote == nil {
		return a.local
	}
	return &primaryStore{a: a}
}

// Mirrored returns the local-authoritative write-through view
func (a *Accessor) Mirrored() Store {
	if a.remote == nil {
		return a.local
	}
	return &mirroredStore{a: a}
}

// Ping checks every configured backend
func (a *Accessor) Ping(ctx context.Context) error {
	backends := []Backend{a.local}
	if a.remote != nil {
		backends = append(backends, a.remote)
	}
	for _, b := range backends {
		err := b.View(ctx, func(r Reader) error {
			_, err := r.Get(ctx, CollectionUsers, "__ping__")
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes every backend
func (a *Accessor) Close() error {
	var firstErr error
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type primaryStore struct {
	a *Accessor
}

func (s *primaryStore) View(ctx context.Context, fn func(Reader) error) error {
	var collection string
	err := s.a.remote.View(ctx, func(r Reader) error {
		return fn(&trackingReader{Reader: r, last: &collection})
	})
	if err == nil || !errors.Is(err, apperr.ErrStoreUnavailable) {
		return err
	}

	s.a.logger.Warn("Remote read failed, falling back to local store",
		zap.String("collection", collection),
		zap.Error(err),
	)
	util.StoreFallbackReadsTotal.WithLabelValues(collection).Inc()
	return s.a.local.View(ctx, fn)
}

func (s *primaryStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.a.remote.Update(ctx, fn)
}

type trackingReader struct {
	Reader
	last *string
}

func (r *trackingReader) Get(ctx context.Context, collection, id string) ([]byte, error) {
	*r.last = collection
	return r.Reader.Get(ctx, collection, id)
}

func (r *trackingReader) List(ctx context.Context, collection string, filter Filter) ([][]byte, error) {
	*r.last = collection
	return r.Reader.List(ctx, collection, filter)
}

type mirroredStore struct {
	a *Accessor
}

func (s *mirroredStore) View(ctx context.Context, fn func(Reader) error) error {
	return s.a.local.View(ctx, fn)
}

func (s *mirroredStore) Update(ctx context.Context, fn func(Tx) error) error {
	var rec *recordingTx
	err := s.a.local.Update(ctx, func(tx Tx) error {
		rec = &recordingTx{Tx: tx}
		return fn(rec)
	})
	if err != nil {
		return err
	}
	if rec == nil || len(rec.writes) == 0 {
		return nil
	}

	err = s.a.remote.Update(ctx, func(tx Tx) error {
		for _, w := range rec.writes {
			if w.doc == nil {
				if _, err := tx.Delete(ctx, w.collection, w.id); err != nil {
					return err
				}
				continue
			}
			if err := tx.Put(ctx, w.collection, w.id, w.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, c := range rec.collections() {
			util.StoreMirrorFailuresTotal.WithLabelValues(c).Inc()
		}
		s.a.logger.Warn("Failed to copy local write to remote store",
			zap.Strings("collections", rec.collections()),
			zap.Int("writes", len(rec.writes)),
			zap.Error(err),
		)
	}
	return nil
}

type write struct {
	collection string
	id         string
	doc        []byte
}

// recordingTx remembers every write so it can be replayed elsewhere.
// A nil doc marks a delete.
type recordingTx struct {
	Tx
	writes []write
}

func (t *recordingTx) Put(ctx context.Context, collection, id string, doc []byte) error {
	if err := t.Tx.Put(ctx, collection, id, doc); err != nil {
		return err
	}
	t.writes = append(t.writes, write{collection: collection, id: id, doc: doc})
	return nil
}

func (t *recordingTx) Delete(ctx context.Context, collection, id string) (bool, error) {
	ok, err := t.Tx.Delete(ctx, collection, id)
	if err != nil {
		return false, err
	}
	if ok {
		t.writes = append(t.writes, write{collection: collection, id: id})
	}
	return ok, nil
}

func (t *recordingTx) collections() []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range t.writes {
		if !seen[w.collection] {
			seen[w.collection] = true
			out = append(out, w.collection)
		}
	}
	return out
}
