package cate

import (
	"net/http"

	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	logger      *zap.Logger
	http        *http.Client
	sessions    *SessionStore
	segments    SegmentStore
	cache       SegmentStore
	concurrency int
	strictPlan  bool
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	mergeDefaultOptions(o)
	return o
}

func mergeDefaultOptions(o *options) {
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sessions == nil {
		o.sessions = NewSessionStore()
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
}

// WithLogger sets the logger used for request and assembly tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client built from Config.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.http = c
	}
}

// WithSessionStore shares a token store between clients.
func WithSessionStore(s *SessionStore) Option {
	return func(o *options) {
		o.sessions = s
	}
}

// WithSegmentStore reads segment payloads from s instead of the server's
// /get_data endpoint.
func WithSegmentStore(s SegmentStore) Option {
	return func(o *options) {
		o.segments = s
	}
}

// WithSegmentCache keeps downloaded payloads in cache and reads them from
// there on later requests for the same data key.
func WithSegmentCache(cache SegmentStore) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithConcurrency fetches up to n segments at once. The default of 1 fetches
// segments one after another in server order.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithStrictPlan fails GetData when the segment plan has mixed dtypes,
// overlapping segments or uncovered cells, instead of logging a warning.
func WithStrictPlan() Option {
	return func(o *options) {
		o.strictPlan = true
	}
}
