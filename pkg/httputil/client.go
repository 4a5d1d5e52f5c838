// Package httputil provides the pooled HTTP client and safe response
// handling used by outbound delivery paths, currently alert webhooks.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize caps how much of a response body is ever read. Webhook
// receivers have no business sending large replies.
const MaxResponseSize = 1 * 1024 * 1024 // 1MB

// Shared transport with connection pooling, safe for concurrent use.
// Reusing TCP connections matters when alerts fire in bursts.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:   true,
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 5,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

var (
	deliveryClient *http.Client
	clientOnce     sync.Once
)

// DeliveryClient returns the shared client for webhook deliveries. The 15s
// timeout bounds a whole delivery including connect and body read.
func DeliveryClient() *http.Client {
	clientOnce.Do(func() {
		deliveryClient = &http.Client{
			Timeout:   15 * time.Second,
			Transport: sharedTransport,
		}
	})
	return deliveryClient
}

// ReadResponseBody reads at most maxSize bytes of a response body. A maxSize
// of zero or less falls back to MaxResponseSize.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
