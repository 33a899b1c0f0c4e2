package cate

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"golang.org/x/net/http2"
)

// buildHTTPClient creates the client used for every request. With HTTP2 set
// plain http servers are spoken to over h2c (prior knowledge), https servers
// over TLS with ALPN.
func buildHTTPClient(cfg Config) *http.Client {
	if !cfg.HTTP2 {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS != nil {
			t.TLSClientConfig = cfg.TLS
		}
		return &http.Client{Transport: t, Timeout: cfg.Timeout}
	}

	t := &http2.Transport{TLSClientConfig: cfg.TLS}
	if cfg.scheme() == "http" {
		t.AllowHTTP = true
		t.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}
	return &http.Client{Transport: t, Timeout: cfg.Timeout}
}
