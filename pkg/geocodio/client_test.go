package geocodio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srvURL string) Client {
	return NewClient("test-key",
		WithHTTPClient(newRewriteClient(srvURL, defaultBaseURL)),
		WithRateLimit(1000),
		WithRetry(fastRetry()),
	)
}

func TestGeocode_Match(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/geocode", r.URL.Path)
		assert.Equal(t, "123 MAIN ST SEATTLE WA", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		_, _ = io.WriteString(w, `{
			"input": {},
			"results": [
				{"address_components": {"zip": "98101"}, "formatted_address": "123 Main St, Seattle, WA 98101",
				 "location": {"lat": 47.6097, "lng": -122.3331}, "accuracy": 1, "accuracy_type": "rooftop"},
				{"address_components": {"zip": "98104"}, "formatted_address": "Other",
				 "location": {"lat": 1, "lng": 2}, "accuracy": 0.5, "accuracy_type": "place"}
			]}`)
	}))
	defer srv.Close()

	r, err := newTestClient(srv.URL).Geocode(context.Background(), "123 MAIN ST SEATTLE WA")
	require.NoError(t, err)
	assert.True(t, r.Matched)
	assert.InDelta(t, 47.6097, r.Latitude, 0.0001)
	assert.InDelta(t, -122.3331, r.Longitude, 0.0001)
	assert.Equal(t, "98101", r.Zipcode)
	assert.Equal(t, "123 Main St, Seattle, WA 98101", r.FormattedAddress)
	assert.Equal(t, "rooftop", r.AccuracyType)
}

func TestGeocode_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results": []}`)
	}))
	defer srv.Close()

	r, err := newTestClient(srv.URL).Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.False(t, r.Matched)
	assert.Equal(t, "nowhere", r.Query)
}

func TestBatchGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var addrs []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&addrs))
		assert.Equal(t, []string{"1 A ST", "2 B ST"}, addrs)

		_, _ = io.WriteString(w, `{"results": [
			{"query": "1 A ST", "response": {"results": [
				{"address_components": {"zip": "99201"}, "formatted_address": "1 A St, Spokane, WA 99201",
				 "location": {"lat": 47.65, "lng": -117.42}, "accuracy": 0.9, "accuracy_type": "range_interpolation"}
			]}},
			{"query": "2 B ST", "response": {"results": []}}
		]}`)
	}))
	defer srv.Close()

	results, err := newTestClient(srv.URL).BatchGeocode(context.Background(), []string{"1 A ST", "2 B ST"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Matched)
	assert.Equal(t, "99201", results[0].Zipcode)
	assert.Equal(t, "1 A ST", results[0].Query)
	assert.False(t, results[1].Matched)
	assert.Equal(t, "2 B ST", results[1].Query)
}

func TestBatchGeocode_Empty(t *testing.T) {
	results, err := NewClient("k").BatchGeocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestBatchGeocode_TooLarge(t *testing.T) {
	_, err := NewClient("k").BatchGeocode(context.Background(), make([]string, MaxBatchSize+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestBatchGeocode_ResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results": []}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).BatchGeocode(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 0 results for 1 addresses")
}

func TestGeocode_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error": "slow down"}`)
			return
		}
		_, _ = io.WriteString(w, `{"results": []}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeocode_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error": "Invalid API key"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403: Invalid API key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocode_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestWithBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.9/geocode", r.URL.Path)
		_, _ = io.WriteString(w, `{"results": []}`)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL+"/v1.9"), WithRetry(fastRetry()))
	_, err := c.Geocode(context.Background(), "x")
	require.NoError(t, err)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text")))
}
