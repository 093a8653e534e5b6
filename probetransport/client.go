// Package probetransport is the HTTP probe client (C2): proxy-free
// streaming requests against storage-provider and IPFS-gateway
// endpoints, instrumented for time-to-first-byte and throughput, with
// separate timeout budgets for HTTP/1.1 and HTTP/2 connections. It
// replaces the teacher's multi-scheme transport manager (HTTP/SSH/Ziti)
// with the one scheme this domain ever dials: http:// and https://
// storage-provider endpoints, never a tunnel or overlay network.
package probetransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Config holds the dual-timeout discipline and connection-pooling knobs
// spec.md §6 names.
type Config struct {
	ConnectTimeout       time.Duration
	HTTPRequestTimeout   time.Duration
	HTTP2RequestTimeout  time.Duration
	MaxIdleConns         int
	MaxIdleConnsPerHost  int
	IdleConnTimeout      time.Duration
}

// DefaultConfig mirrors the teacher's transport.DefaultConfig defaults,
// adapted to the two timeout fields this domain distinguishes.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      5 * time.Second,
		HTTPRequestTimeout:  15 * time.Second,
		HTTP2RequestTimeout: 30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client issues proxy-free probe requests, picking an HTTP/1.1-only or
// HTTP/2-capable transport per call so each protocol gets its own
// request-timeout budget.
type Client struct {
	http1 *http.Client
	http2 *http.Client
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	http1Transport := &http.Transport{
		Proxy:               nil, // proxy-free: storage providers are dialed directly
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        map[string]func(authority string, c *tls.Conn) http.RoundTripper{},
	}

	http2Transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		http1: &http.Client{Transport: http1Transport, Timeout: cfg.HTTPRequestTimeout},
		http2: &http.Client{Transport: http2Transport, Timeout: cfg.HTTP2RequestTimeout},
	}
}

// StreamResult is a probe response with timing instrumentation attached.
// Body is open for the caller to stream from (and must be closed by the
// caller) unless the request failed, in which case it is already closed
// and ResponsePreview holds a sanitized snippet of whatever was read.
type StreamResult struct {
	StatusCode      int
	Header          http.Header
	Body            io.ReadCloser
	TTFB            time.Duration
	ResponsePreview string
}

// previewLimit bounds the sanitized diagnostic snippet captured on
// failure, per spec.md §4.4 ("a short response preview (sanitised, ≤ 200
// chars)").
const previewLimit = 200

// Get issues a streaming GET against url with headers, preferring
// HTTP/2 when useHTTP2 is true. Status codes outside [200,300) are
// treated as failures: the body is drained up to previewLimit bytes,
// sanitized, and closed before returning.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, useHTTP2 bool) (*StreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("probetransport: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := c.http1
	if useHTTP2 {
		client = c.http2
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probetransport: request %s: %w", url, err)
	}
	ttfb := time.Since(start)

	result := &StreamResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		TTFB:       ttfb,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := make([]byte, previewLimit)
		n, _ := io.ReadFull(resp.Body, preview)
		resp.Body.Close()
		result.Body = nil
		result.ResponsePreview = sanitizePreview(preview[:n])
		return result, fmt.Errorf("probetransport: non-2xx status %d for %s", resp.StatusCode, url)
	}

	return result, nil
}

// sanitizePreview strips non-printable bytes from a response snippet so
// it is safe to embed in a log line or error message.
func sanitizePreview(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// CloseIdleConnections releases pooled connections on both transports.
func (c *Client) CloseIdleConnections() {
	c.http1.CloseIdleConnections()
	c.http2.CloseIdleConnections()
}
