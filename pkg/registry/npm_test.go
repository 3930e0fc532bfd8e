package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRegistry serves raw package documents keyed by the unescaped package name.
func mockRegistry(t *testing.T, docs map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		doc, ok := docs[name]
		if !ok {
			t.Logf("Mock registry received request for unexpected package: %s", name)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":"Not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, doc)
	}))
}

func TestNpmClient_FetchMetadata(t *testing.T) {
	server := mockRegistry(t, map[string]string{
		"leftpad": `{
			"name": "leftpad",
			"dist-tags": {"latest": "1.3.0", "next": "2.0.0-rc.1"},
			"time": {
				"created": "2015-01-01T00:00:00.000Z",
				"1.3.0": "2016-03-01T00:00:00.000Z",
				"modified": "2016-03-02T00:00:00.000Z",
				"1.0.0": "2015-01-01T00:00:00.000Z",
				"2.0.0-rc.1": "2016-04-01T00:00:00.000Z"
			}
		}`,
	})
	defer server.Close()

	client := NewNpmClient(WithBaseURL(server.URL+"/"), WithHTTPClient(server.Client()))
	assert.Equal(t, server.URL, client.BaseURL())

	meta, err := client.FetchMetadata(context.Background(), "leftpad")
	require.NoError(t, err)

	assert.Equal(t, "leftpad", meta.Name)
	assert.Equal(t, "1.3.0", meta.Latest)
	assert.Equal(t, []PublishTime{
		{Version: "1.3.0", Published: "2016-03-01T00:00:00.000Z"},
		{Version: "1.0.0", Published: "2015-01-01T00:00:00.000Z"},
		{Version: "2.0.0-rc.1", Published: "2016-04-01T00:00:00.000Z"},
	}, meta.Times, "bookkeeping keys are dropped and registry order is kept")

	published, ok := meta.PublishedAt("1.0.0")
	assert.True(t, ok)
	assert.Equal(t, "2015-01-01T00:00:00.000Z", published)

	_, ok = meta.PublishedAt("created")
	assert.False(t, ok)
}

func TestNpmClient_ScopedPackageURL(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		fmt.Fprint(w, `{"dist-tags":{"latest":"1.0.0"},"time":{"1.0.0":"2020-01-01T00:00:00.000Z"}}`)
	}))
	defer server.Close()

	client := NewNpmClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	assert.Equal(t, server.URL+"/@types%2Fnode", client.PackageURL("@types/node"))

	_, err := client.FetchMetadata(context.Background(), "@types/node")
	require.NoError(t, err)
	assert.Equal(t, "/@types%2Fnode", gotPath)
}

func TestNpmClient_FetchMetadata_Errors(t *testing.T) {
	server := mockRegistry(t, map[string]string{
		"garbage":   `<html>not json</html>`,
		"no-tags":   `{"time": {"1.0.0": "2020-01-01T00:00:00.000Z"}}`,
		"no-times":  `{"dist-tags": {"latest": "1.0.0"}}`,
		"null-time": `{"dist-tags": {"latest": "1.0.0"}, "time": null}`,
	})
	defer server.Close()

	client := NewNpmClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx := context.Background()

	_, err := client.FetchMetadata(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "Failed to fetch package info: Not Found", err.Error())

	for _, name := range []string{"garbage", "no-tags", "no-times", "null-time"} {
		_, err := client.FetchMetadata(ctx, name)
		assert.ErrorIs(t, err, ErrMalformedResponse, name)
	}
}

func TestNpmClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewNpmClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := client.FetchMetadata(context.Background(), "anything")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "Failed to fetch package info: Internal Server Error", err.Error())
}

func TestNpmClient_SingleAttempt(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewNpmClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := client.FetchMetadata(context.Background(), "flaky")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNpmClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewNpmClient(
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithTimeout(50*time.Millisecond),
	)

	start := time.Now()
	_, err := client.FetchMetadata(context.Background(), "hangs")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNpmClient_CircuitBreaker(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewNpmClient(
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithCircuitBreaker(2),
	)
	ctx := context.Background()

	// Not-found answers do not count towards tripping.
	for i := 0; i < 3; i++ {
		_, err := client.FetchMetadata(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.False(t, client.BreakerOpen())

	_, err := client.FetchMetadata(ctx, "a")
	assert.Error(t, err)
	_, err = client.FetchMetadata(ctx, "b")
	assert.Error(t, err)
	assert.True(t, client.BreakerOpen())

	_, err = client.FetchMetadata(ctx, "c")
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits), "open breaker must not reach the registry")
}

func TestNpmClient_RateLimit(t *testing.T) {
	server := mockRegistry(t, map[string]string{
		"a": `{"dist-tags":{"latest":"1.0.0"},"time":{"1.0.0":"2020-01-01T00:00:00.000Z"}}`,
	})
	defer server.Close()

	client := NewNpmClient(
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateLimit(20),
	)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.FetchMetadata(context.Background(), "a")
		require.NoError(t, err)
	}
	// burst of one: the second and third requests each wait ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(ctx context.Context, name string) (*Metadata, error) {
		return &Metadata{Name: name}, nil
	})
	meta, err := c.FetchMetadata(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", meta.Name)
}
