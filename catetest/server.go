// Package catetest runs an in-process CATE server for tests. It issues
// tokens, serves configured segment lists and payloads, and counts requests
// per endpoint.
package catetest

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	cate "github.com/qri-io/cate-go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Segment is a served segment: its descriptor and raw payload.
type Segment struct {
	cate.SegmentDescriptor
	Payload []byte
}

type failure struct {
	status int
	body   string
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Server is a fake CATE archive server.
type Server struct {
	*httptest.Server
	Username string
	Password string

	mu        sync.Mutex
	tokens    map[string]struct{}
	lastToken string
	segments  []Segment
	info      interface{}
	coverage  interface{}
	hits      map[string]int
	queries   map[string]url.Values
	failures  map[string]failure
	gzip      bool
	h2c       bool
	revoke    bool
}

type ServerOption func(*Server)

// WithGzip serves payloads gzip encoded when the client accepts it.
func WithGzip() ServerOption {
	return func(s *Server) { s.gzip = true }
}

// WithH2C serves HTTP/2 over cleartext in addition to HTTP/1.1.
func WithH2C() ServerOption {
	return func(s *Server) { s.h2c = true }
}

// WithTokenRevocation invalidates earlier tokens on every login.
func WithTokenRevocation() ServerOption {
	return func(s *Server) { s.revoke = true }
}

// NewServer starts a server accepting one username/password pair. Close it
// when done.
func NewServer(username, password string, opts ...ServerOption) *Server {
	s := &Server{
		Username: username,
		Password: password,
		tokens:   map[string]struct{}{},
		info:     cate.Attributes{},
		coverage: map[string]interface{}{"query": []interface{}{}},
		hits:     map[string]int{},
		queries:  map[string]url.Values{},
		failures: map[string]failure{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc("/token", s.token).Methods(http.MethodPost)
	api := r.NewRoute().Subrouter()
	api.Use(s.authorize)
	api.HandleFunc("/archive_db_info", s.databaseInfo).Methods(http.MethodGet)
	api.HandleFunc("/query_data_segments", s.querySegments).Methods(http.MethodGet)
	api.HandleFunc("/get_data_segments", s.dataSegments).Methods(http.MethodGet)
	api.HandleFunc("/get_data", s.data).Methods(http.MethodGet)

	var h http.Handler = r
	if s.h2c {
		h = h2c.NewHandler(r, &http2.Server{})
	}
	s.Server = httptest.NewServer(h)
	return s
}

// Host is the server address without the port.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Listener.Addr().String())
	return host
}

// Port is the port the server listens on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// AddSegment serves payload under a new data key and appends the segment to
// the list returned by /get_data_segments. The data key is returned.
func (s *Server) AddSegment(dtype string, input, output cate.Extent, payload []byte) string {
	key := uuid.NewString()
	s.AddSegmentWithKey(cate.SegmentDescriptor{
		DataKey: key,
		Dtype:   dtype,
		Input:   input,
		Output:  output,
	}, payload)
	return key
}

// AddSegmentWithKey serves a segment with a caller chosen descriptor.
func (s *Server) AddSegmentWithKey(d cate.SegmentDescriptor, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, Segment{SegmentDescriptor: d, Payload: payload})
}

// SetInfo sets the /archive_db_info response. Any JSON value is served,
// usually a cate.Attributes.
func (s *Server) SetInfo(info interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// SetCoverage sets the /query_data_segments response.
func (s *Server) SetCoverage(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coverage = v
}

// Fail makes endpoint (eg. "get_data") answer every request with status
// and a plain text body.
func (s *Server) Fail(endpoint string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures["/"+strings.TrimPrefix(endpoint, "/")] = failure{status: status, body: body}
}

// Hits counts requests made to endpoint.
func (s *Server) Hits(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits["/"+strings.TrimPrefix(endpoint, "/")]
}

// LastQuery returns the query parameters of the latest request to endpoint.
func (s *Server) LastQuery(endpoint string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries["/"+strings.TrimPrefix(endpoint, "/")]
}

// LastToken is the bearer token of the latest authorized request.
func (s *Server) LastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastToken
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.queries[r.URL.Path] = r.URL.Query()
		f, failing := s.failures[r.URL.Path]
		s.mu.Unlock()

		if failing {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(f.status)
			w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		if ok {
			s.lastToken = token
		}
		s.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}
	if r.PostForm.Get("username") != s.Username || r.PostForm.Get("password") != s.Password {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Incorrect username or password"})
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	if s.revoke {
		s.tokens = map[string]struct{}{}
	}
	s.tokens[token] = struct{}{}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) databaseInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) querySegments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cov := s.coverage
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, cov)
}

func (s *Server) dataSegments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	descs := make([]cate.SegmentDescriptor, len(s.segments))
	for i, seg := range s.segments {
		descs[i] = seg.SegmentDescriptor
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, descs)
}

func (s *Server) data(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("data_key")
	var payload []byte
	found := false
	s.mu.Lock()
	for _, seg := range s.segments {
		if seg.DataKey == key {
			payload, found = seg.Payload, true
			break
		}
	}
	gz := s.gzip
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "unknown data key " + key})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if gz && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		buf := &bytes.Buffer{}
		zw := gzip.NewWriter(buf)
		zw.Write(payload)
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		payload = buf.Bytes()
	}
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Encode returns the raw bytes of values (a slice of fixed size numbers) in
// the given byte order, the way the server encodes payloads.
func Encode(order binary.ByteOrder, values interface{}) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, order, values); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
