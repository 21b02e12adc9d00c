// Package testsupport provides fakes used across the module's package
// tests: a fake Transport and a manually-advanced clock, in the same
// Mock*-struct-with-an-internal-mutex style as the teacher's
// MockOriginFetcher (warming/service_test.go).
package testsupport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/networkcore/networkcore/nettask"
)

// FakeTransport is a scriptable nettask.Transport: each call returns the
// error scripted for its URL if there is one, else the scripted response,
// else a 404 response with no body. It counts calls per URL so tests can
// assert coalescing collapsed N callers into one request.
type FakeTransport struct {
	mu        sync.Mutex
	responses map[string]*nettask.Response
	errs      map[string]error
	calls     map[string]int64
	totalCalls atomic.Int64
}

// NewFakeTransport returns an empty FakeTransport; configure it with
// SetResponse/SetError before use.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		responses: make(map[string]*nettask.Response),
		errs:      make(map[string]error),
		calls:     make(map[string]int64),
	}
}

// SetResponse scripts the response RoundTrip returns for url.
func (f *FakeTransport) SetResponse(url string, resp *nettask.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = resp
}

// SetError scripts the error RoundTrip returns for url.
func (f *FakeTransport) SetError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// RoundTrip implements nettask.Transport.
func (f *FakeTransport) RoundTrip(ctx context.Context, req *nettask.Request) (*nettask.Response, error) {
	f.totalCalls.Add(1)

	f.mu.Lock()
	f.calls[req.URL]++
	err, hasErr := f.errs[req.URL]
	resp, hasResp := f.responses[req.URL]
	f.mu.Unlock()

	if hasErr {
		return nil, err
	}
	if hasResp {
		return resp, nil
	}
	return &nettask.Response{StatusCode: 404, Body: nil}, nil
}

// CallCount returns how many times RoundTrip was invoked for url.
func (f *FakeTransport) CallCount(url string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// TotalCalls returns the total number of RoundTrip invocations across all
// URLs.
func (f *FakeTransport) TotalCalls() int64 {
	return f.totalCalls.Load()
}
