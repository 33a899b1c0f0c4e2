package cate_test

import (
	"encoding/binary"
	"math"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	cate "github.com/qri-io/cate-go"
	"github.com/qri-io/cate-go/catetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func ramp32(n int, offset float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i) + offset
	}
	return v
}

var _ = Describe("GetData", func() {
	var srv *catetest.Server
	BeforeEach(func() {
		srv = catetest.NewServer(username, password)
	})
	AfterEach(func() {
		srv.Close()
	})

	It("Should assemble a single segment into an array of the same shape", func() {
		values := ramp32(100*50, 0.5)
		srv.AddSegment("<f4", extent(0, 99, 0, 49), extent(0, 99, 0, 49),
			catetest.Encode(binary.LittleEndian, values))

		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		Expect(arr.Shape()).To(Equal([2]int{100, 50}))
		Expect(arr.Dtype.Name()).To(Equal("float32"))

		got, err := arr.Values()
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(values))
		v, err := arr.At(99, 49)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(float64(values[len(values)-1])))

		p := srv.LastQuery("get_data_segments")
		Expect(p.Get("tmin")).To(Equal("2022-09-07T08:30:00+00:00"))
		Expect(p.Get("cmax")).To(Equal("4000"))
	})

	It("Should log the assembled array", func() {
		srv.AddSegment("<f4", extent(0, 1, 0, 2), extent(0, 1, 0, 2),
			catetest.Encode(binary.LittleEndian, ramp32(6, 0)))

		core, logs := observer.New(zap.DebugLevel)
		c := authenticatedClient(srv, cate.WithLogger(zap.New(core)))
		_, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())

		entries := logs.FilterMessage("assembled").All()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].ContextMap()["array"]).To(Equal("<cate.Array shape=[2 3] dtype=<f4>"))
	})

	It("Should reject segments describing an array too large to address", func() {
		stop := math.MaxInt / 2
		srv.AddSegment("<f4", extent(0, stop, 0, stop), extent(0, stop, 0, stop), nil)

		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrInconsistentPlan))
		Expect(srv.Hits("get_data")).To(Equal(0))
	})

	It("Should place disjoint row segments into their halves", func() {
		top := ramp32(50*10, 0)
		bottom := ramp32(50*10, 1000)
		srv.AddSegment("float32", extent(0, 49, 0, 9), extent(0, 49, 0, 9),
			catetest.Encode(binary.LittleEndian, top))
		srv.AddSegment("float32", extent(0, 49, 0, 9), extent(50, 99, 0, 9),
			catetest.Encode(binary.LittleEndian, bottom))

		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		Expect(arr.Shape()).To(Equal([2]int{100, 10}))

		got, err := arr.Values()
		Expect(err).ToNot(HaveOccurred())
		vals := got.([]float32)
		Expect(vals[:500]).To(Equal(top))
		Expect(vals[500:]).To(Equal(bottom))
		Expect(srv.Hits("get_data")).To(Equal(2))
	})

	It("Should place column segments side by side", func() {
		left := []int16{1, 2, 3, 4}
		right := []int16{5, 6, 7, 8, 9, 10}
		srv.AddSegment(">i2", extent(0, 1, 0, 1), extent(0, 1, 0, 1),
			catetest.Encode(binary.BigEndian, left))
		srv.AddSegment(">i2", extent(0, 1, 0, 2), extent(0, 1, 2, 4),
			catetest.Encode(binary.BigEndian, right))

		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		got, err := arr.Values()
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal([]int16{
			1, 2, 5, 6, 7,
			3, 4, 8, 9, 10,
		}))
	})

	It("Should return values bit-identical to the server buffer", func() {
		values := []float64{math.NaN(), math.Inf(-1), math.Copysign(0, -1), math.MaxFloat64,
			math.SmallestNonzeroFloat64, -1.0 / 3.0}
		raw := catetest.Encode(binary.BigEndian, values)
		srv.AddSegment(">f8", extent(0, 2, 0, 1), extent(0, 2, 0, 1), raw)

		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		Expect(arr.Data).To(Equal(raw))
	})

	It("Should fail with no data without downloading when no segments cover the query", func() {
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrNoData))
		Expect(srv.Hits("get_data_segments")).To(Equal(1))
		Expect(srv.Hits("get_data")).To(Equal(0))
	})

	It("Should fail with a decode error when a payload is short", func() {
		srv.AddSegment("<i4", extent(0, 9, 0, 9), extent(0, 9, 0, 9), make([]byte, 10*10*4-1))
		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrSegmentDecode))
		Expect(cate.IsType(err, cate.ErrSegmentDecode)).To(BeTrue())
		Expect(arr).To(BeNil())
	})

	It("Should fail with a decode error when a payload is long", func() {
		srv.AddSegment("<i4", extent(0, 9, 0, 9), extent(0, 9, 0, 9), make([]byte, 10*10*4+4))
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrSegmentDecode))
	})

	It("Should fail with a decode error when input and output shapes differ", func() {
		srv.AddSegment("<i4", extent(0, 4, 0, 1), extent(0, 1, 0, 4), make([]byte, 10*4))
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrSegmentDecode))
	})

	It("Should fail when segments declare different dtypes", func() {
		srv.AddSegment("<f4", extent(0, 0, 0, 1), extent(0, 0, 0, 1), make([]byte, 8))
		srv.AddSegment("<f8", extent(0, 0, 0, 1), extent(1, 1, 0, 1), make([]byte, 16))
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrSegmentDecode))
		Expect(err.Error()).To(ContainSubstring("<f8"))
	})

	It("Should reject an unknown dtype clearly", func() {
		srv.AddSegment("|S4", extent(0, 0, 0, 0), extent(0, 0, 0, 0), make([]byte, 4))
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrUnsupportedDtype))
		Expect(srv.Hits("get_data")).To(Equal(0))
	})

	It("Should surface segment download failures with the server message", func() {
		srv.AddSegment("<f4", extent(0, 0, 0, 0), extent(0, 0, 0, 0), make([]byte, 4))
		srv.Fail("get_data", http.StatusBadGateway, "segment store unreachable")
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrSegmentFetch))
		Expect(err.Error()).To(ContainSubstring("segment store unreachable"))
	})

	It("Should surface segment list failures as upstream errors", func() {
		srv.Fail("get_data_segments", http.StatusInternalServerError, "query planner crashed")
		c := authenticatedClient(srv)
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrUpstream))
		Expect(err.Error()).To(ContainSubstring("query planner crashed"))
	})

	It("Should let the last segment win where segments overlap", func() {
		srv.AddSegment("|u1", extent(0, 1, 0, 1), extent(0, 1, 0, 1), []byte{1, 1, 1, 1})
		srv.AddSegment("|u1", extent(0, 0, 0, 1), extent(1, 1, 0, 1), []byte{9, 9})
		c := authenticatedClient(srv, cate.WithConcurrency(4))
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		Expect(arr.Data).To(Equal([]byte{1, 1, 9, 9}))
	})

	It("Should refuse an inconsistent plan in strict mode", func() {
		srv.AddSegment("|u1", extent(0, 0, 0, 0), extent(0, 0, 0, 0), []byte{1})
		srv.AddSegment("|u1", extent(0, 0, 0, 0), extent(2, 2, 0, 0), []byte{2})
		c := authenticatedClient(srv, cate.WithStrictPlan())
		_, err := c.GetData(ctx, query)
		Expect(err).To(MatchError(cate.ErrInconsistentPlan))
		Expect(srv.Hits("get_data")).To(Equal(0))
	})

	It("Should leave uncovered cells zero outside strict mode", func() {
		srv.AddSegment("|u1", extent(0, 0, 0, 0), extent(0, 0, 0, 0), []byte{1})
		srv.AddSegment("|u1", extent(0, 0, 0, 0), extent(2, 2, 0, 0), []byte{2})
		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		Expect(arr.Data).To(Equal([]byte{1, 0, 2}))
	})

	It("Should decode gzip encoded payloads", func() {
		srv.Close()
		srv = catetest.NewServer(username, password, catetest.WithGzip())
		values := ramp32(20*3, 0)
		srv.AddSegment("<f4", extent(0, 19, 0, 2), extent(0, 19, 0, 2),
			catetest.Encode(binary.LittleEndian, values))
		c := authenticatedClient(srv)
		arr, err := c.GetData(ctx, query)
		Expect(err).ToNot(HaveOccurred())
		got, err := arr.Values()
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(values))
	})

	Describe("Concurrent fetches", func() {
		It("Should assemble the same array as sequential fetches", func() {
			var all []float32
			for i := 0; i < 8; i++ {
				vals := ramp32(10*4, float32(i*100))
				all = append(all, vals...)
				srv.AddSegment("<f4", extent(0, 9, 0, 3), extent(i*10, i*10+9, 0, 3),
					catetest.Encode(binary.LittleEndian, vals))
			}
			c := authenticatedClient(srv, cate.WithConcurrency(3))
			arr, err := c.GetData(ctx, query)
			Expect(err).ToNot(HaveOccurred())
			Expect(arr.Shape()).To(Equal([2]int{80, 4}))
			got, err := arr.Values()
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(all))
			Expect(srv.Hits("get_data")).To(Equal(8))
		})

		It("Should abort the whole assembly when one segment fails", func() {
			for i := 0; i < 4; i++ {
				srv.AddSegment("<f4", extent(0, 0, 0, 0), extent(i, i, 0, 0), make([]byte, 4))
			}
			srv.AddSegment("<f4", extent(0, 0, 0, 0), extent(4, 4, 0, 0), make([]byte, 3))
			c := authenticatedClient(srv, cate.WithConcurrency(2))
			arr, err := c.GetData(ctx, query)
			Expect(err).To(MatchError(cate.ErrSegmentDecode))
			Expect(arr).To(BeNil())
		})
	})
})
