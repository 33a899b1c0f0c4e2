// Package cate is a client for CATE archive servers. It authenticates a
// session, queries database coverage and downloads channel data, assembling
// the server's independently addressed segments into one dense 2D Array.
//
//	c, err := cate.NewClient(cate.Config{Server: "10.0.0.4", Port: 8000, Username: "me"})
//	if err != nil { ... }
//	if _, err := c.Authenticate(ctx, password); err != nil { ... }
//	arr, err := c.GetData(ctx, cate.Query{Start: t0, Stop: t1, ChannelStart: 0, ChannelStop: 4000})
package cate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	endpointToken         = "token"
	endpointDatabaseInfo  = "archive_db_info"
	endpointQuerySegments = "query_data_segments"
	endpointDataSegments  = "get_data_segments"
	endpointData          = "get_data"
)

// Config locates a CATE server and the user a client acts as.
type Config struct {
	Server   string
	Port     int
	Username string
	// "http" (default) or "https"
	Scheme string
	// Overall timeout per request. Zero means no timeout.
	Timeout time.Duration
	// Speak HTTP/2 to the server, over h2c for plain http
	HTTP2 bool
	// TLS settings for https servers
	TLS *tls.Config
}

// Validate checks the required fields are present.
func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("Server required")
	}
	if c.Port <= 0 {
		return errors.New("Port required (must be > 0)")
	}
	if c.Username == "" {
		return errors.New("Username required")
	}
	if s := c.scheme(); s != "http" && s != "https" {
		return errors.Newf("unsupported scheme %q", c.Scheme)
	}
	return nil
}

func (c Config) scheme() string {
	if c.Scheme == "" {
		return "http"
	}
	return strings.ToLower(c.Scheme)
}

// Client talks to one CATE server as one user. Tokens live in the client's
// SessionStore, so a client must Authenticate (or share a store with a
// client that has) before any other call.
type Client struct {
	config      Config
	key         SessionKey
	base        string
	http        *http.Client
	sessions    *SessionStore
	segments    SegmentStore
	logger      *zap.Logger
	concurrency int
	strictPlan  bool
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	o := newOptions(opts...)
	key := SessionKey{Server: cfg.Server, Port: cfg.Port, Username: cfg.Username}

	c := &Client{
		config:      cfg,
		key:         key,
		base:        fmt.Sprintf("%s://%s", cfg.scheme(), net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))),
		http:        o.http,
		sessions:    o.sessions,
		logger:      o.logger.Named("cate").With(zap.Stringer("session", key)),
		concurrency: o.concurrency,
		strictPlan:  o.strictPlan,
	}
	if c.http == nil {
		c.http = buildHTTPClient(cfg)
	}

	c.segments = o.segments
	if c.segments == nil {
		c.segments = &remoteStore{c: c}
	}
	if o.cache != nil {
		c.segments = NewCachedStore(o.cache, c.segments)
	}
	return c, nil
}

// Session returns the key this client's token is stored under.
func (c *Client) Session() SessionKey { return c.key }

// Sessions returns the client's token store.
func (c *Client) Sessions() *SessionStore { return c.sessions }

// Authenticate logs in with password and stores the returned access token
// for this client's session, replacing any earlier token.
func (c *Client) Authenticate(ctx context.Context, password string) (string, error) {
	form := url.Values{
		"username": {c.config.Username},
		"password": {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpointToken, nil), strings.NewReader(form.Encode()))
	if err != nil {
		return "", newDerivedError(ErrAuthentication, "building login request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, endpointToken, ErrAuthentication, "login failed")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newDerivedError(ErrAuthentication, "reading login response", err)
	}
	tr := tokenResponse{}
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", newStatusError(ErrAuthentication, "login response has no access token",
			endpointToken, resp.StatusCode, string(body))
	}

	c.sessions.Put(c.key, tr.AccessToken)
	c.logger.Debug("authenticated")
	return tr.AccessToken, nil
}

// DatabaseInfo returns the server's description of the archive. With detail
// set every data chunk is listed, otherwise only the main (typically hourly)
// chunks. The response must be a JSON object; any other JSON value fails with
// ErrUpstream.
func (c *Client) DatabaseInfo(ctx context.Context, detail bool) (Attributes, error) {
	info := Attributes{}
	params := url.Values{"detail": {strconv.FormatBool(detail)}}
	if err := c.getJSON(ctx, endpointDatabaseInfo, params, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// DatabaseCoverage describes the archive files covering q.
func (c *Client) DatabaseCoverage(ctx context.Context, q Query, detail bool) (*Coverage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	params := q.Params()
	params.Set("detail", strconv.FormatBool(detail))

	cov := &Coverage{}
	if err := c.getJSON(ctx, endpointQuerySegments, params, cov); err != nil {
		return nil, err
	}
	return cov, nil
}

// DataSegments lists the segments the server will serve for q.
func (c *Client) DataSegments(ctx context.Context, q Query) ([]SegmentDescriptor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var segs []SegmentDescriptor
	if err := c.getJSON(ctx, endpointDataSegments, q.Params(), &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

func (c *Client) url(endpoint string, params url.Values) string {
	u := c.base + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, v interface{}) error {
	resp, err := c.get(ctx, endpoint, params, ErrUpstream, "request failed")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newDerivedError(ErrUpstream, "reading /"+endpoint+" response", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return newDerivedError(ErrUpstream, "decoding /"+endpoint+" response", err)
	}
	return nil
}

// get issues an authenticated GET. Failures are classified as t.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, t ErrorType, msg string) (*http.Response, error) {
	token, err := c.sessions.Get(c.key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(endpoint, params), nil)
	if err != nil {
		return nil, newDerivedError(t, "building /"+endpoint+" request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if endpoint == endpointData {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return c.do(req, endpoint, t, msg)
}

// do sends req. Any status outside 2xx is returned as an Error of type t
// carrying the response body text.
func (c *Client) do(req *http.Request, endpoint string, t ErrorType, msg string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newDerivedError(t, msg, errors.Wrapf(err, "%s /%s", req.Method, endpoint))
	}
	c.logger.Debug("request",
		zap.String("method", req.Method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, newStatusError(t, msg, endpoint, resp.StatusCode, string(body))
	}
	return resp, nil
}
