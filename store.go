package cate

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

const (
	MemoryStoreType   = "MemoryStore"
	LocalStoreType    = "LocalStore"
	CachedStoreType   = "CachedStore"
	RemoteStoreType   = "RemoteStore"
	dirPermissionBits = 0755
)

var ErrNotFound = errors.New("not found")

// SegmentStore holds segment payloads by data key.
type SegmentStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, val io.Reader) error
	Type() string
}

type MemoryStore struct {
	lk   sync.Mutex
	data map[string][]byte
}

var _ SegmentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d

	return nil
}

// Len is the number of payloads held.
func (s *MemoryStore) Len() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.data)
}

// LocalStore keeps one file per data key under a base directory. Data keys
// are path-escaped to form file names.
type LocalStore struct {
	fs   afero.Fs
	base string
}

var _ SegmentStore = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at base on the OS filesystem.
func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	return NewLocalStoreFs(afero.NewOsFs(), base)
}

// NewLocalStoreFs creates a store rooted at base on fs.
func NewLocalStoreFs(fs afero.Fs, base string) (*LocalStore, error) {
	if err := fs.MkdirAll(base, dirPermissionBits); err != nil {
		return nil, err
	}

	return &LocalStore{
		fs:   fs,
		base: base,
	}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.base, url.PathEscape(key))
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return f, err
}

func (s *LocalStore) Put(_ context.Context, key string, val io.Reader) error {
	// write to a temp name first so a failed copy never leaves a short file
	// readable under key
	path := s.path(key)
	tmp := path + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, val); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, path)
}

// CachedStore reads through Cache to Origin, filling Cache on a miss.
type CachedStore struct {
	Cache  SegmentStore
	Origin SegmentStore
}

var _ SegmentStore = (*CachedStore)(nil)

func NewCachedStore(cache, origin SegmentStore) *CachedStore {
	return &CachedStore{Cache: cache, Origin: origin}
}

func (s *CachedStore) Type() string { return CachedStoreType }

func (s *CachedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.Cache.Get(ctx, key)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	rc, err = s.Origin.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	d, err := io.ReadAll(rc)
	if err != nil {
		return nil, newDerivedError(ErrSegmentFetch, "reading segment "+key, err)
	}
	if err := s.Cache.Put(ctx, key, bytes.NewReader(d)); err != nil {
		return nil, errors.Wrapf(err, "caching segment %s", key)
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *CachedStore) Put(ctx context.Context, key string, val io.Reader) error {
	return s.Cache.Put(ctx, key, val)
}

// remoteStore downloads payloads from the server's /get_data endpoint.
type remoteStore struct {
	c *Client
}

var _ SegmentStore = (*remoteStore)(nil)

func (s *remoteStore) Type() string { return RemoteStoreType }

func (s *remoteStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.c.get(ctx, endpointData, url.Values{"data_key": {key}},
		ErrSegmentFetch, "data retrieval failed for segment "+key)
	if err != nil {
		return nil, err
	}
	rc, err := decompressor(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, newDerivedError(ErrSegmentFetch, "segment "+key, err)
	}
	return rc, nil
}

func (s *remoteStore) Put(context.Context, string, io.Reader) error {
	return errors.New("remote segment store is read-only")
}
