package telemetry

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Upstream fetch outcomes.
const (
	FetchSuccess      = "success"
	FetchUnauthorized = "unauthorized"
	FetchThrottled    = "throttled"
	Fetch4xx          = "4xx"
	Fetch5xx          = "5xx"
	FetchError        = "error"
	FetchCanceled     = "canceled"
)

// EndpointFunc names the upstream endpoint a request hits. The result is a
// metric label, so it must come from a small fixed set.
type EndpointFunc func(req *http.Request) string

// InstrumentedTransport records one upstream fetch per request. The fetch is
// recorded when the response body is closed so the byte count is complete.
type InstrumentedTransport struct {
	base     http.RoundTripper
	upstream string
	endpoint EndpointFunc
}

// TransportOption configures an InstrumentedTransport.
type TransportOption func(*InstrumentedTransport)

// WithEndpoint labels each fetch with fn(req).
func WithEndpoint(fn EndpointFunc) TransportOption {
	return func(t *InstrumentedTransport) {
		t.endpoint = fn
	}
}

// NewInstrumentedTransport wraps base for the named upstream.
// A nil base uses http.DefaultTransport.
func NewInstrumentedTransport(base http.RoundTripper, upstream string, opts ...TransportOption) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &InstrumentedTransport{base: base, upstream: upstream}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fetch := upstreamFetch{
		ctx:      req.Context(),
		upstream: t.upstream,
		endpoint: "other",
		start:    time.Now(),
	}
	if t.endpoint != nil {
		fetch.endpoint = t.endpoint(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		fetch.outcome = FetchError
		if req.Context().Err() != nil {
			fetch.outcome = FetchCanceled
		}
		fetch.record()
		return nil, err
	}

	fetch.outcome = FetchOutcome(resp.StatusCode)
	resp.Body = &instrumentedBody{ReadCloser: resp.Body, fetch: fetch}
	return resp, nil
}

// FetchOutcome classifies an upstream status code. 401 and 403 mean the
// caller's access token was rejected, which is worth telling apart from
// other client errors.
func FetchOutcome(status int) string {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return FetchUnauthorized
	case status == http.StatusTooManyRequests:
		return FetchThrottled
	case status >= 500:
		return Fetch5xx
	case status >= 400:
		return Fetch4xx
	default:
		return FetchSuccess
	}
}

type upstreamFetch struct {
	ctx      context.Context
	upstream string
	endpoint string
	outcome  string
	start    time.Time
	bytes    int64
}

func (f *upstreamFetch) record() {
	RecordUpstreamFetch(f.ctx, f.upstream, f.endpoint, time.Since(f.start), f.bytes, f.outcome)
}

// instrumentedBody counts bytes read and records the fetch on first Close.
type instrumentedBody struct {
	io.ReadCloser
	fetch    upstreamFetch
	recorded bool
}

func (b *instrumentedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.fetch.bytes += int64(n)
	return n, err
}

func (b *instrumentedBody) Close() error {
	if !b.recorded {
		b.recorded = true
		b.fetch.record()
	}
	return b.ReadCloser.Close()
}
