package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/woozymasta/geoannotator/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(url string) *Client {
	return New(config.Geocoder{
		URL:       url,
		UserAgent: "geoannotator-test",
		Limit:     5,
		Timeout:   2 * time.Second,
	})
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "San Francisco", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "geoannotator-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"display_name":"San Francisco, California, United States","lat":"37.7792588","lon":"-122.4193286","importance":0.9},
			{"display_name":"San Francisco, Córdoba, Argentina","lat":"-31.4288","lon":"-62.0827"},
			{"display_name":"Broken","lat":"n/a","lon":"1"}
		]`))
	}))
	defer server.Close()

	results := newClient(server.URL).Search(context.Background(), "San Francisco")
	require.Len(t, results, 2)

	assert.Equal(t, "San Francisco, California, United States", results[0].DisplayName)
	assert.InDelta(t, 37.7792588, results[0].Lat, 1e-9)
	assert.InDelta(t, -122.4193286, results[0].Lon, 1e-9)
	assert.InDelta(t, -31.4288, results[1].Lat, 1e-9)
}

func TestSearchFailuresReturnEmpty(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not":"an array"`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			results := newClient(server.URL).Search(context.Background(), "anywhere")
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestSearchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.Empty(t, newClient(url).Search(context.Background(), "anywhere"))
}

func TestSearchBlankQuery(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	assert.Empty(t, newClient(server.URL).Search(context.Background(), "   "))
	assert.Zero(t, calls.Load())
}
