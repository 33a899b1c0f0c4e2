package cate_test

import (
	"bytes"
	"encoding/binary"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	cate "github.com/qri-io/cate-go"
	"github.com/qri-io/cate-go/catetest"
	"github.com/spf13/afero"
)

func readAll(s cate.SegmentStore, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

var _ = Describe("SegmentStore", func() {
	stores := map[string]func() cate.SegmentStore{
		cate.MemoryStoreType: func() cate.SegmentStore { return cate.NewMemoryStore() },
		cate.LocalStoreType: func() cate.SegmentStore {
			s, err := cate.NewLocalStoreFs(afero.NewMemMapFs(), "/cache/segments")
			Expect(err).ToNot(HaveOccurred())
			return s
		},
	}

	for name, newStore := range stores {
		name, newStore := name, newStore
		Describe(name, func() {
			It("Should return what was put", func() {
				s := newStore()
				Expect(s.Type()).To(Equal(name))
				Expect(s.Put(ctx, "2022-09-07T08:00:00+00:00/0", bytes.NewReader([]byte{1, 2, 3}))).To(Succeed())
				d, err := readAll(s, "2022-09-07T08:00:00+00:00/0")
				Expect(err).ToNot(HaveOccurred())
				Expect(d).To(Equal([]byte{1, 2, 3}))
			})

			It("Should overwrite an existing key", func() {
				s := newStore()
				Expect(s.Put(ctx, "k", bytes.NewReader([]byte{1}))).To(Succeed())
				Expect(s.Put(ctx, "k", bytes.NewReader([]byte{2, 2}))).To(Succeed())
				d, err := readAll(s, "k")
				Expect(err).ToNot(HaveOccurred())
				Expect(d).To(Equal([]byte{2, 2}))
			})

			It("Should return ErrNotFound for missing keys", func() {
				_, err := newStore().Get(ctx, "missing")
				Expect(err).To(MatchError(cate.ErrNotFound))
			})
		})
	}

	Describe("CachedStore", func() {
		It("Should fill the cache on a miss and serve hits from it", func() {
			origin := cate.NewMemoryStore()
			Expect(origin.Put(ctx, "k", bytes.NewReader([]byte{7, 7}))).To(Succeed())
			cache := cate.NewMemoryStore()
			s := cate.NewCachedStore(cache, origin)

			d, err := readAll(s, "k")
			Expect(err).ToNot(HaveOccurred())
			Expect(d).To(Equal([]byte{7, 7}))
			Expect(cache.Len()).To(Equal(1))

			Expect(origin.Put(ctx, "k", bytes.NewReader([]byte{8}))).To(Succeed())
			d, err = readAll(s, "k")
			Expect(err).ToNot(HaveOccurred())
			Expect(d).To(Equal([]byte{7, 7}))
		})

		It("Should pass origin misses through", func() {
			s := cate.NewCachedStore(cate.NewMemoryStore(), cate.NewMemoryStore())
			_, err := s.Get(ctx, "k")
			Expect(err).To(MatchError(cate.ErrNotFound))
		})
	})

	Describe("Client segment sources", func() {
		var srv *catetest.Server
		BeforeEach(func() {
			srv = catetest.NewServer(username, password)
		})
		AfterEach(func() {
			srv.Close()
		})

		It("Should download each segment once when a cache is configured", func() {
			vals := []uint16{1, 2, 3, 4}
			srv.AddSegment("<u2", extent(0, 1, 0, 1), extent(0, 1, 0, 1), catetest.Encode(binary.LittleEndian, vals))
			cache, err := cate.NewLocalStoreFs(afero.NewMemMapFs(), "/segments")
			Expect(err).ToNot(HaveOccurred())
			c := authenticatedClient(srv, cate.WithSegmentCache(cache))

			for i := 0; i < 3; i++ {
				arr, err := c.GetData(ctx, query)
				Expect(err).ToNot(HaveOccurred())
				got, err := arr.Values()
				Expect(err).ToNot(HaveOccurred())
				Expect(got).To(Equal(vals))
			}
			Expect(srv.Hits("get_data_segments")).To(Equal(3))
			Expect(srv.Hits("get_data")).To(Equal(1))
		})

		It("Should read payloads from a configured segment store instead of the server", func() {
			key := srv.AddSegment("|u1", extent(0, 0, 0, 2), extent(0, 0, 0, 2), []byte{0, 0, 0})
			local := cate.NewMemoryStore()
			Expect(local.Put(ctx, key, bytes.NewReader([]byte{4, 5, 6}))).To(Succeed())
			c := authenticatedClient(srv, cate.WithSegmentStore(local))

			arr, err := c.GetData(ctx, query)
			Expect(err).ToNot(HaveOccurred())
			Expect(arr.Data).To(Equal([]byte{4, 5, 6}))
			Expect(srv.Hits("get_data")).To(Equal(0))
		})

		It("Should classify store misses as segment fetch errors", func() {
			srv.AddSegment("|u1", extent(0, 0, 0, 0), extent(0, 0, 0, 0), []byte{1})
			c := authenticatedClient(srv, cate.WithSegmentStore(cate.NewMemoryStore()))
			_, err := c.GetData(ctx, query)
			Expect(cate.IsType(err, cate.ErrSegmentFetch)).To(BeTrue())
			Expect(err).To(MatchError(cate.ErrNotFound))
		})
	})
})
