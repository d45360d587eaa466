package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchd/internal/cache"
	"searchd/internal/engine"
	"searchd/internal/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	c, err := cache.Open(filepath.Join(t.TempDir(), "locations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	reg := registry.New(c, slog.Default())
	t.Cleanup(func() { _ = reg.Close() })

	ts := httptest.NewServer(New(reg, slog.Default()).Router())
	t.Cleanup(ts.Close)
	return ts, reg
}

// buildIndex creates a Bleve index on disk and closes it so the
// registry can open it through the HTTP API.
func buildIndex(t *testing.T, contents map[string]string) string {
	t.Helper()

	location := filepath.Join(t.TempDir(), "idx")
	idx, err := engine.Create("build", location)
	require.NoError(t, err)

	docs := make([]engine.Document, 0, len(contents))
	for id, content := range contents {
		docs = append(docs, engine.Document{
			ID:     id,
			Fields: map[string]interface{}{"content": content},
		})
	}
	require.NoError(t, idx.Index(context.Background(), docs))
	require.NoError(t, idx.Close())
	return location
}

func doRequest(t *testing.T, method, rawURL string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, rawURL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func putIndex(t *testing.T, ts *httptest.Server, name, location string) *http.Response {
	t.Helper()
	return doRequest(t, http.MethodPut,
		ts.URL+"/"+name+"?path="+url.QueryEscape(location))
}

func TestPut_CreatesIndex(t *testing.T) {
	ts, reg := newTestServer(t)
	location := buildIndex(t, map[string]string{"1": "hello"})

	resp := putIndex(t, ts, "idx1", location)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, reg.Has("idx1"))
}

func TestPut_MissingPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPut, ts.URL+"/idx1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPut_InvalidLocation(t *testing.T) {
	ts, reg := newTestServer(t)

	resp := doRequest(t, http.MethodPut,
		ts.URL+"/idx1?path="+url.QueryEscape(filepath.Join(t.TempDir(), "missing")))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, reg.Has("idx1"))
}

func TestPut_ReservedName(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPut, ts.URL+"/_all?path=/x")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}

func TestGet_OpenIndex(t *testing.T) {
	ts, _ := newTestServer(t)
	location := buildIndex(t, map[string]string{"1": "hello", "2": "world"})
	putIndex(t, ts, "idx1", location)

	resp := doRequest(t, http.MethodGet, ts.URL+"/idx1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info registry.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "idx1", info.Name)
	assert.Equal(t, location, info.Location)
	assert.Equal(t, uint64(2), info.Docs)
}

func TestGet_NotOpen(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/idx1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGet_MetaName(t *testing.T) {
	ts, _ := newTestServer(t)
	location := buildIndex(t, map[string]string{"1": "x"})
	putIndex(t, ts, "idx1", location)

	resp := doRequest(t, http.MethodGet, ts.URL+"/_all")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Name    string   `json:"name"`
		Indices []string `json:"indices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "_all", body.Name)
	assert.Equal(t, []string{"idx1"}, body.Indices)
}

func TestDelete_RemovesIndex(t *testing.T) {
	ts, reg := newTestServer(t)
	location := buildIndex(t, map[string]string{"1": "x"})
	putIndex(t, ts, "idx1", location)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/idx1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, reg.Has("idx1"))
}

func TestDelete_NotOpen(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/idx1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete_ReservedName(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/_all")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}

func TestQuery_SingleIndex(t *testing.T) {
	ts, _ := newTestServer(t)
	location := buildIndex(t, map[string]string{
		"1": "storm warning",
		"2": "clear skies",
	})
	putIndex(t, ts, "idx1", location)

	resp := doRequest(t, http.MethodGet, ts.URL+"/idx1/query?q=storm&limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var results []registry.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "idx1", results[0].Index)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestQuery_MissingLimit(t *testing.T) {
	ts, _ := newTestServer(t)
	location := buildIndex(t, map[string]string{"1": "x"})
	putIndex(t, ts, "idx1", location)

	// Missing limit is 400 whether or not the index is open.
	resp := doRequest(t, http.MethodGet, ts.URL+"/idx1/query?q=x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/unknown/query?q=x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuery_BadLimit(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/idx1/query?q=x&limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuery_NotOpen(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/idx1/query?q=x&limit=5")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuery_MetaScope(t *testing.T) {
	ts, _ := newTestServer(t)
	locA := buildIndex(t, map[string]string{"a1": "storm over the bay"})
	locB := buildIndex(t, map[string]string{"b1": "storm warning issued"})
	putIndex(t, ts, "a", locA)
	putIndex(t, ts, "b", locB)

	resp := doRequest(t, http.MethodGet, ts.URL+"/_all/query?q=storm&limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []registry.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 2)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestQuery_MetaScopeEmptyRegistry(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/_all/query?q=x&limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []registry.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestPut_CacheFailureStillCreates(t *testing.T) {
	// Given: a server whose location cache can no longer accept writes
	c, err := cache.Open(filepath.Join(t.TempDir(), "locations.db"))
	require.NoError(t, err)
	reg := registry.New(c, slog.Default())
	t.Cleanup(func() { _ = reg.Close() })

	srv := New(reg, slog.Default())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	location := buildIndex(t, map[string]string{"1": "still here"})
	require.NoError(t, c.Close())

	// When: creating an index
	resp := putIndex(t, ts, "idx1", location)

	// Then: the storage failure surfaces as 500
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// And: the index was created anyway and is queryable
	assert.True(t, reg.Has("idx1"))
	qresp := doRequest(t, http.MethodGet, ts.URL+"/idx1/query?q=here&limit=5")
	assert.Equal(t, http.StatusOK, qresp.StatusCode)

	// And: the open-indices gauge reflects the registry, not the
	// request outcome
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.IndicesOpen))
}

func TestWriteError_StatusMapping(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "locations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	reg := registry.New(c, slog.Default())
	t.Cleanup(func() { _ = reg.Close() })
	srv := New(reg, slog.Default())

	cases := []struct {
		kind   registry.Kind
		status int
	}{
		{registry.KindNotFound, http.StatusNotFound},
		{registry.KindInvalidLocation, http.StatusForbidden},
		{registry.KindReservedName, http.StatusMethodNotAllowed},
		{registry.KindEngineFailure, http.StatusInternalServerError},
		{registry.KindStorage, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.writeError(rec, &registry.Error{Kind: tc.kind, Name: "idx1"})
		assert.Equal(t, tc.status, rec.Code, tc.kind.String())
	}

	// Non-registry errors fall back to 500.
	rec := httptest.NewRecorder()
	srv.writeError(rec, context.Canceled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
