package nettask

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Request is the transport-agnostic request the core hands to a
// Transport. It is always fully composed by the time Transport sees it:
// URL, body and headers are final.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response is the transport-agnostic result.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport is the out-of-scope external collaborator per spec.md §1: the
// core never speaks HTTP directly, it calls Transport.RoundTrip. This
// keeps the library's caching/coalescing/scheduling core testable without
// a real network, and lets a consumer swap in their own HTTP stack.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is a default Transport backed by net/http.Client, provided
// purely as usable wiring (spec.md's Non-goals exclude HTTP transport
// implementation itself; this is glue, not a core component).
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns an HTTPTransport over a zero-value http.Client,
// which sets no client-level timeout; timeouts come from Request.Timeout,
// applied through the context in RoundTrip.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{}}
}

// RoundTrip issues req over HTTP, honoring ctx for cancellation/timeout.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
