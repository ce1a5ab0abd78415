package compression

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = strings.Repeat(`{"seq":1,"decision":"blocked"}`, 100)

func serve(t *testing.T, acceptEncoding string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(Config{}).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	}))
	r := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	if acceptEncoding != "" {
		r.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestNegotiate(t *testing.T) {
	assert.Equal(t, "br", Negotiate("gzip, deflate, br"))
	assert.Equal(t, "gzip", Negotiate("gzip;q=0.8, deflate"))
	assert.Equal(t, "gzip", Negotiate("br;q=0, gzip"))
	assert.Equal(t, "", Negotiate("identity"))
	assert.Equal(t, "", Negotiate(""))
}

func TestBrotli(t *testing.T) {
	rec := serve(t, "br")

	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	data, err := io.ReadAll(brotli.NewReader(rec.Body))
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestGzip(t *testing.T) {
	rec := serve(t, "gzip")

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestIdentity(t *testing.T) {
	rec := serve(t, "")

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, payload, rec.Body.String())
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))
}

func TestNegotiateZeroQuality(t *testing.T) {
	assert.Equal(t, "", Negotiate("br;q=0.0, gzip;q=0"))
}
