package nettask

import (
	"context"

	"github.com/networkcore/networkcore/coalesce"
	"github.com/networkcore/networkcore/fingerprint"
)

// SingleFlightTransport wraps a Transport with the defense-in-depth layer
// described in spec.md §4.10(b): even if two admitted Network Tasks for the
// same request both reach RoundTrip concurrently (a Merger bug, or two
// Named Queues racing), only one call actually reaches inner, and every
// caller observes its result. Keyed by method+URL rather than the request's
// fingerprint, since a Transport has no notion of params beyond what's
// already baked into the composed Request.
type SingleFlightTransport struct {
	inner Transport
	group *coalesce.SingleFlight
}

// NewSingleFlightTransport wraps inner with group.
func NewSingleFlightTransport(inner Transport, group *coalesce.SingleFlight) *SingleFlightTransport {
	return &SingleFlightTransport{inner: inner, group: group}
}

// RoundTrip implements Transport.
func (s *SingleFlightTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	key := fingerprint.FP(req.Method + " " + req.URL)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.inner.RoundTrip(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}
