package benchmarks

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rhinoguard/handlers"
	"rhinoguard/waf"
	"rhinoguard/waf/audit"
	"rhinoguard/waf/clock"
	"rhinoguard/waf/config"
)

func benchGuard(b *testing.B, window time.Duration, limit int, opts ...waf.Option) *waf.Guard {
	b.Helper()
	cfg := config.Default()
	cfg.Rate.Window = window
	cfg.Rate.MaxRequests = limit
	cfg.Rate.UnknownMaxRequests = limit

	opts = append([]waf.Option{waf.WithLogger(zerolog.Nop())}, opts...)
	g, err := waf.NewGuard(cfg, opts...)
	if err != nil {
		b.Fatalf("NewGuard: %v", err)
	}
	return g
}

// Benchmark basic handler without any protection
func BenchmarkHandlerNoGuard(b *testing.B) {
	req := httptest.NewRequest("GET", "/", nil)
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handlers.Home(w, req)
	}
}

// Benchmark handler behind the full guard. The manual clock keeps the
// sliding window at a steady size.
func BenchmarkHandlerWithGuard(b *testing.B) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	g := benchGuard(b, 10*time.Second, 100, waf.WithClock(clk))
	handler := g.Protect(http.HandlerFunc(handlers.Home))
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.1:1234"
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		clk.Advance(200 * time.Millisecond)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

// Benchmark a banned client, which is rejected before rate or signature work
func BenchmarkBannedClient(b *testing.B) {
	g := benchGuard(b, time.Minute, 1)
	handler := g.Protect(http.HandlerFunc(handlers.Home))
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.2:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

// Benchmark a signature block on every request from rotating clients
func BenchmarkSignatureBlock(b *testing.B) {
	g := benchGuard(b, time.Second, 1_000_000)
	handler := g.Protect(http.HandlerFunc(handlers.Home))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest("GET", "/?id=1'+OR+'1'='1", nil)
		req.RemoteAddr = fmt.Sprintf("10.%d.%d.%d:1234", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

// Benchmark concurrent requests with one client per goroutine
func BenchmarkGuardParallel(b *testing.B) {
	g := benchGuard(b, 100*time.Millisecond, 1_000_000)
	handler := g.Protect(http.HandlerFunc(handlers.Home))
	var next atomic.Uint32
	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		n := next.Add(1)
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = fmt.Sprintf("10.1.%d.%d:1234", (n>>8)&0xff, n&0xff)
		for pb.Next() {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
		}
	})
}

// Benchmark large query strings
func BenchmarkLargeQuery(b *testing.B) {
	g := benchGuard(b, 100*time.Millisecond, 1_000_000)
	handler := g.Protect(http.HandlerFunc(handlers.Home))
	var params []string
	for i := 0; i < 100; i++ {
		params = append(params, fmt.Sprintf("param%d=value%d", i, i))
	}
	req := httptest.NewRequest("GET", "/?"+strings.Join(params, "&"), nil)
	req.RemoteAddr = "192.168.1.3:1234"
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

// Benchmark a streamed body under the size cap
func BenchmarkRequestBody(b *testing.B) {
	g := benchGuard(b, 100*time.Millisecond, 1_000_000)
	handler := g.Protect(http.HandlerFunc(handlers.Echo))
	payload := bytes.Repeat([]byte("a"), 64<<10)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest("POST", "/echo", bytes.NewReader(payload))
		req.RemoteAddr = "192.168.1.4:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

// Benchmark audit ring appends
func BenchmarkAuditAppend(b *testing.B) {
	ring := audit.NewRing(10_000)
	rec := audit.Record{Client: "192.168.1.5", Decision: audit.DecisionAllowed, Method: "GET", Path: "/", Status: 200}
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ring.Append(rec)
	}
}
