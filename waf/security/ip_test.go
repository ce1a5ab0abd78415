package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, trusted ...string) *Resolver {
	t.Helper()
	r, err := NewResolver(Config{TrustedProxies: trusted})
	require.NoError(t, err)
	return r
}

func TestResolveUntrustedPeerIgnoresForwardedHeaders(t *testing.T) {
	r := newTestResolver(t, "10.0.0.0/8")

	h := http.Header{}
	h.Set("X-Forwarded-For", "1.2.3.4")
	h.Set("X-Real-IP", "5.6.7.8")

	assert.Equal(t, "203.0.113.9", r.Resolve("203.0.113.9:51234", h))
}

func TestResolveTrustedProxyUsesFirstForwardedValue(t *testing.T) {
	r := newTestResolver(t, "10.0.0.0/8", "192.168.1.10")

	h := http.Header{}
	h.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.2")
	assert.Equal(t, "198.51.100.7", r.Resolve("10.1.2.3:443", h))

	h = http.Header{}
	h.Set("X-Real-IP", "198.51.100.8")
	assert.Equal(t, "198.51.100.8", r.Resolve("192.168.1.10:80", h))
}

func TestResolveTrustedProxyWithGarbageHeaderFallsBackToPeer(t *testing.T) {
	r := newTestResolver(t, "127.0.0.1")

	h := http.Header{}
	h.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "127.0.0.1", r.Resolve("127.0.0.1:9000", h))
}

func TestResolveUnknown(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		peer string
	}{
		{"empty", ""},
		{"garbage", "definitely not an address"},
		{"port only", ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("X-Forwarded-For", "1.2.3.4")
			assert.Equal(t, Unknown, r.Resolve(tt.peer, h))
		})
	}

	assert.Equal(t, Unknown, r.ResolveRequest(nil))
}

func TestResolveNormalizesAddresses(t *testing.T) {
	r := newTestResolver(t)

	assert.Equal(t, "192.0.2.1", r.Resolve("[::ffff:192.0.2.1]:80", nil))
	assert.Equal(t, "2001:db8::1", r.Resolve("[2001:db8:0:0::1]:443", nil))
	assert.Equal(t, "198.51.100.1", r.Resolve("198.51.100.1", nil))
	assert.Equal(t, "fe80::1", r.Resolve("[fe80::1%eth0]:80", nil))
}

func TestResolveRequest(t *testing.T) {
	r := newTestResolver(t, "192.0.2.0/24")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")

	assert.Equal(t, "203.0.113.50", r.ResolveRequest(req))
}

func TestCustomForwardedHeaders(t *testing.T) {
	r, err := NewResolver(Config{
		TrustedProxies:   []string{"10.0.0.1"},
		ForwardedHeaders: []string{"cf-connecting-ip"},
	})
	require.NoError(t, err)

	h := http.Header{}
	h.Set("X-Forwarded-For", "1.1.1.1")
	h.Set("CF-Connecting-IP", "2.2.2.2")
	assert.Equal(t, "2.2.2.2", r.Resolve("10.0.0.1:1", h))
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := NewResolver(Config{TrustedProxies: []string{"10.0.0.0/33"}})
	assert.Error(t, err)

	_, err = NewResolver(Config{TrustedProxies: []string{"proxy.internal"}})
	assert.Error(t, err)
}

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "2001:db8::1", NormalizeIP("2001:0db8::0001"))
	assert.Equal(t, "192.0.2.1", NormalizeIP("::ffff:192.0.2.1"))
	assert.Equal(t, "192.0.2.1", NormalizeIP(" 192.0.2.1 "))
	assert.Equal(t, "garbage", NormalizeIP("garbage"))
}
