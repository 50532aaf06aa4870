package streamproxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Verifies spec §8 property 6: a Range request produces a 206 with
// Content-Range whenever upstream supports ranges.
func TestProxy_RangeRequestPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-99", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 100))
	}))
	defer upstream.Close()

	p := New(upstream.Client(), zap.NewNop())

	reqURL := "/api/stream-proxy?" + (url.Values{"url": {upstream.URL + "/segment.ts"}, "source": {"vidsrc"}}).Encode()
	req := httptest.NewRequest(http.MethodGet, reqURL, nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-99/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProxy_RejectsInvalidURL(t *testing.T) {
	p := New(http.DefaultClient, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/stream-proxy?url=not-a-url&source=vidsrc", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxy_ForwardsUpstream4xxAsIs(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	}))
	defer upstream.Close()

	p := New(upstream.Client(), zap.NewNop())
	reqURL := "/api/stream-proxy?" + (url.Values{"url": {upstream.URL + "/missing.ts"}, "source": {"vidsrc"}}).Encode()
	req := httptest.NewRequest(http.MethodGet, reqURL, nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy_Upstream5xxBecomes502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	p := New(upstream.Client(), zap.NewNop())
	reqURL := "/api/stream-proxy?" + (url.Values{"url": {upstream.URL + "/x.ts"}, "source": {"vidsrc"}}).Encode()
	req := httptest.NewRequest(http.MethodGet, reqURL, nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upstream_status":500`)
}

func TestProxy_InjectsSourceHeaderPolicy(t *testing.T) {
	var gotOrigin, gotReferer, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.Header.Get("Origin")
		gotReferer = r.Header.Get("Referer")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(upstream.Client(), zap.NewNop())
	reqURL := "/api/stream-proxy?" + (url.Values{"url": {upstream.URL + "/x.ts"}, "source": {"shadowlands"}}).Encode()
	req := httptest.NewRequest(http.MethodGet, reqURL, nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cloudnestra.com", gotOrigin)
	assert.Equal(t, "https://cloudnestra.com/", gotReferer)
	assert.Equal(t, StealthUserAgent, gotUA)
}
