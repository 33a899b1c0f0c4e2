// Package pebblestore persists segment payloads in a pebble key-value store,
// for use as a segment cache that survives process restarts.
package pebblestore

import (
	"bytes"
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	cate "github.com/qri-io/cate-go"
)

const StoreType = "PebbleStore"

// keyPrefix namespaces payload keys within the database
const keyPrefix = "segment/"

// Store implements cate.SegmentStore and wraps a pebble DB instance.
type Store struct {
	DB *pebble.DB
}

var _ cate.SegmentStore = (*Store)(nil)

type Option func(*pebble.Options)

// MemBacked keeps the database in memory.
func MemBacked() Option {
	return func(o *pebble.Options) {
		o.FS = vfs.NewMem()
	}
}

// Open opens or creates the database in dirname.
func Open(dirname string, opts ...Option) (*Store, error) {
	o := &pebble.Options{}
	for _, opt := range opts {
		opt(o)
	}
	db, err := pebble.Open(dirname, o)
	if err != nil {
		return nil, errors.Wrapf(err, "opening segment cache %s", dirname)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Type() string { return StoreType }

// Get implements the cate.SegmentStore interface. Missing keys return an
// error matching cate.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	v, c, err := s.DB.Get(dbKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrap(cate.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	// v is only valid until c is closed
	d := append([]byte(nil), v...)
	if err := c.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

// Put implements the cate.SegmentStore interface.
func (s *Store) Put(_ context.Context, key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	return s.DB.Set(dbKey(key), d, pebble.Sync)
}

// Delete removes a cached payload.
func (s *Store) Delete(key string) error {
	return s.DB.Delete(dbKey(key), pebble.Sync)
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}
