package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byPath(req *http.Request) string {
	if strings.HasPrefix(req.URL.Path, "/dialog/") {
		return "dialog"
	}
	return "post"
}

func fetchAndClose(t *testing.T, client *http.Client, url string) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
}

func TestInstrumentedTransport_RecordsOnClose(t *testing.T) {
	reader := setupTestMetrics(t)

	body := `{"data":[{"type":"ok_video"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "boosty", WithEndpoint(byPath))}

	resp, err := client.Get(srv.URL + "/blog/someone/post/1")
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	assert.Empty(t, findCounter(collectMetrics(t, reader), "companion_upstream_fetch_total"), "nothing recorded before close")
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "companion_upstream_fetch_total")
	require.Len(t, dps, 1)
	assert.EqualValues(t, 1, dps[0].Value)
	assert.True(t, hasAttr(dps[0].Attributes, "upstream", "boosty"))
	assert.True(t, hasAttr(dps[0].Attributes, "endpoint", "post"))
	assert.True(t, hasAttr(dps[0].Attributes, "outcome", FetchSuccess))

	bytesDps := findCounter(rm, "companion_upstream_fetch_bytes_total")
	require.Len(t, bytesDps, 1)
	assert.Equal(t, int64(len(body)), bytesDps[0].Value)

	hist := findHistogram(rm, "companion_upstream_fetch_duration_seconds")
	require.Len(t, hist, 1)
	assert.Equal(t, uint64(1), hist[0].Count)
}

func TestInstrumentedTransport_StatusOutcomes(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, FetchSuccess},
		{http.StatusUnauthorized, FetchUnauthorized},
		{http.StatusForbidden, FetchUnauthorized},
		{http.StatusNotFound, Fetch4xx},
		{http.StatusTooManyRequests, FetchThrottled},
		{http.StatusBadGateway, Fetch5xx},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			reader := setupTestMetrics(t)

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := &http.Client{Transport: NewInstrumentedTransport(nil, "boosty", WithEndpoint(byPath))}
			fetchAndClose(t, client, srv.URL+"/dialog/7/message/")

			dps := findCounter(collectMetrics(t, reader), "companion_upstream_fetch_total")
			require.Len(t, dps, 1)
			assert.True(t, hasAttr(dps[0].Attributes, "outcome", tt.want))
			assert.True(t, hasAttr(dps[0].Attributes, "endpoint", "dialog"))
		})
	}
}

func TestInstrumentedTransport_ConnectionError(t *testing.T) {
	reader := setupTestMetrics(t)

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "boosty"), Timeout: 100 * time.Millisecond}
	_, err := client.Get("http://127.0.0.1:1")
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "companion_upstream_fetch_total")
	require.Len(t, dps, 1)
	assert.True(t, hasAttr(dps[0].Attributes, "outcome", FetchError))
	assert.True(t, hasAttr(dps[0].Attributes, "endpoint", "other"), "no endpoint func labels fetches as other")
}

func TestInstrumentedTransport_Canceled(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "boosty")}
	_, err = client.Do(req)
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "companion_upstream_fetch_total")
	require.Len(t, dps, 1)
	assert.True(t, hasAttr(dps[0].Attributes, "outcome", FetchCanceled))
}

func TestInstrumentedTransport_DoubleCloseRecordsOnce(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "boosty")}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, resp.Body.Close())

	dps := findCounter(collectMetrics(t, reader), "companion_upstream_fetch_total")
	require.Len(t, dps, 1)
	assert.EqualValues(t, 1, dps[0].Value)
}

func TestInstrumentedTransport_EmptyBodyRecordsNoBytes(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	fetchAndClose(t, &http.Client{Transport: NewInstrumentedTransport(nil, "boosty")}, srv.URL)

	rm := collectMetrics(t, reader)
	require.Len(t, findCounter(rm, "companion_upstream_fetch_total"), 1)
	assert.Empty(t, findCounter(rm, "companion_upstream_fetch_bytes_total"))
}

func TestInstrumentedTransport_WithoutMetrics(t *testing.T) {
	globalMetrics = nil

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	fetchAndClose(t, &http.Client{Transport: NewInstrumentedTransport(nil, "boosty")}, srv.URL)
}

func TestNewInstrumentedTransport_Base(t *testing.T) {
	assert.Equal(t, http.DefaultTransport, NewInstrumentedTransport(nil, "boosty").base)

	custom := &http.Transport{}
	assert.Equal(t, custom, NewInstrumentedTransport(custom, "boosty").base)
}

var _ http.RoundTripper = (*InstrumentedTransport)(nil)
