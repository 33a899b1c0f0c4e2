package cate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	cate "github.com/qri-io/cate-go"
	"github.com/qri-io/cate-go/catetest"
)

var _ = Describe("Client", func() {
	var srv *catetest.Server
	BeforeEach(func() {
		srv = catetest.NewServer(username, password)
	})
	AfterEach(func() {
		srv.Close()
	})

	Describe("Config", func() {
		It("Should reject incomplete configuration", func() {
			_, err := cate.NewClient(cate.Config{Port: 8000, Username: username})
			Expect(err).To(HaveOccurred())
			_, err = cate.NewClient(cate.Config{Server: "localhost", Username: username})
			Expect(err).To(HaveOccurred())
			_, err = cate.NewClient(cate.Config{Server: "localhost", Port: 8000})
			Expect(err).To(HaveOccurred())
			_, err = cate.NewClient(cate.Config{Server: "localhost", Port: 8000, Username: username, Scheme: "ftp"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Authenticate", func() {
		It("Should store the access token for the session", func() {
			c := newClient(srv)
			tk, err := c.Authenticate(ctx, password)
			Expect(err).ToNot(HaveOccurred())
			Expect(tk).ToNot(BeEmpty())

			stored, err := c.Sessions().Get(c.Session())
			Expect(err).ToNot(HaveOccurred())
			Expect(stored).To(Equal(tk))
			Expect(srv.Hits("token")).To(Equal(1))
		})

		It("Should fail with an authentication error carrying the server message", func() {
			c := newClient(srv)
			_, err := c.Authenticate(ctx, "wrong")
			Expect(err).To(HaveOccurred())
			Expect(cate.IsType(err, cate.ErrAuthentication)).To(BeTrue())
			Expect(err).To(MatchError(cate.ErrAuthentication))
			Expect(err.Error()).To(ContainSubstring("Incorrect username or password"))

			_, err = c.Sessions().Get(c.Session())
			Expect(cate.IsType(err, cate.ErrAuthentication)).To(BeTrue())
		})

		It("Should overwrite the token when re-authenticating", func() {
			srv.Close()
			srv = catetest.NewServer(username, password, catetest.WithTokenRevocation())
			c := newClient(srv)
			first, err := c.Authenticate(ctx, password)
			Expect(err).ToNot(HaveOccurred())
			second, err := c.Authenticate(ctx, password)
			Expect(err).ToNot(HaveOccurred())
			Expect(second).ToNot(Equal(first))

			stored, err := c.Sessions().Get(c.Session())
			Expect(err).ToNot(HaveOccurred())
			Expect(stored).To(Equal(second))

			_, err = c.DatabaseInfo(ctx, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(srv.LastToken()).To(Equal(second))
		})

		It("Should share tokens between clients using the same session store", func() {
			a := authenticatedClient(srv)
			b := newClient(srv, cate.WithSessionStore(a.Sessions()))
			_, err := b.DatabaseInfo(ctx, false)
			Expect(err).ToNot(HaveOccurred())
		})

		It("Should keep sessions for different users apart", func() {
			store := cate.NewSessionStore()
			store.Put(cate.SessionKey{Server: "a", Port: 1, Username: "x"}, "t1")
			store.Put(cate.SessionKey{Server: "a", Port: 1, Username: "y"}, "t2")
			tk, err := store.Get(cate.SessionKey{Server: "a", Port: 1, Username: "x"})
			Expect(err).ToNot(HaveOccurred())
			Expect(tk).To(Equal("t1"))
			_, err = store.Get(cate.SessionKey{Server: "a", Port: 2, Username: "x"})
			Expect(err).To(MatchError(cate.ErrAuthentication))
		})
	})

	Describe("DatabaseInfo", func() {
		It("Should require authentication before making a request", func() {
			c := newClient(srv)
			_, err := c.DatabaseInfo(ctx, false)
			Expect(cate.IsType(err, cate.ErrAuthentication)).To(BeTrue())
			Expect(srv.Hits("archive_db_info")).To(Equal(0))
		})

		It("Should return the server's info object unmodified", func() {
			srv.SetInfo(cate.Attributes{
				"name":     "fibre-1",
				"segments": []interface{}{map[string]interface{}{"start": "2022-09-07T08:00:00+00:00"}},
			})
			c := authenticatedClient(srv)
			info, err := c.DatabaseInfo(ctx, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(info["name"]).To(Equal("fibre-1"))
			Expect(info.Segments()).To(HaveLen(1))
			Expect(srv.LastQuery("archive_db_info").Get("detail")).To(Equal("true"))
		})

		It("Should reject an info response that is not a JSON object", func() {
			srv.SetInfo([]interface{}{"fibre-1", "fibre-2"})
			c := authenticatedClient(srv)
			_, err := c.DatabaseInfo(ctx, false)
			Expect(err).To(MatchError(cate.ErrUpstream))
			Expect(err.Error()).To(ContainSubstring("decoding /archive_db_info response"))
		})

		It("Should surface the response body of a failed request", func() {
			srv.Fail("archive_db_info", http.StatusInternalServerError, "database offline")
			c := authenticatedClient(srv)
			_, err := c.DatabaseInfo(ctx, false)
			Expect(err).To(MatchError(cate.ErrUpstream))
			Expect(err.Error()).To(ContainSubstring("database offline"))

			var cerr cate.Error
			Expect(err).To(BeAssignableToTypeOf(cerr))
			cerr = err.(cate.Error)
			Expect(cerr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(cerr.Endpoint).To(Equal("archive_db_info"))
		})
	})

	Describe("DatabaseCoverage", func() {
		It("Should send the query and decode row series", func() {
			srv.SetCoverage(map[string]interface{}{
				"query": []interface{}{
					map[string]interface{}{
						"file": "a.h5",
						"row_series_info": []interface{}{
							map[string]interface{}{
								"min_time": "2022-09-07T08:30:00+00:00", "max_time": "2022-09-07T09:00:00+00:00",
								"min_channel": 0, "max_channel": 4000, "data_url": "x",
							},
						},
					},
				},
			})
			c := authenticatedClient(srv)
			cov, err := c.DatabaseCoverage(ctx, query, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(cov.Query).To(HaveLen(1))
			Expect(cov.Query[0].Fields["file"]).To(Equal("a.h5"))
			Expect(cov.Query[0].RowSeries[0].MaxChannel).To(Equal(4000))

			p := srv.LastQuery("query_data_segments")
			Expect(p.Get("tmin")).To(Equal("2022-09-07T08:30:00+00:00"))
			Expect(p.Get("tmax")).To(Equal("2022-09-07T09:30:00+00:00"))
			Expect(p.Get("cmin")).To(Equal("0"))
			Expect(p.Get("cmax")).To(Equal("4000"))
			Expect(p.Get("detail")).To(Equal("false"))
		})

		It("Should reject an invalid query without a request", func() {
			c := authenticatedClient(srv)
			q := query
			q.ChannelStop = -1
			_, err := c.DatabaseCoverage(ctx, q, false)
			Expect(err).To(MatchError(cate.ErrInvalidQuery))
			Expect(srv.Hits("query_data_segments")).To(Equal(0))
		})
	})

	Describe("HTTP/2", func() {
		It("Should talk to an h2c server", func() {
			srv.Close()
			srv = catetest.NewServer(username, password, catetest.WithH2C())
			srv.SetInfo(cate.Attributes{"name": "h2"})
			c, err := cate.NewClient(cate.Config{
				Server:   srv.Host(),
				Port:     srv.Port(),
				Username: username,
				HTTP2:    true,
			})
			Expect(err).ToNot(HaveOccurred())
			_, err = c.Authenticate(ctx, password)
			Expect(err).ToNot(HaveOccurred())
			info, err := c.DatabaseInfo(ctx, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(info["name"]).To(Equal("h2"))
		})
	})
})
