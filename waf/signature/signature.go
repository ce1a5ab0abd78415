// Package signature matches requests against known probe and attack
// patterns: dotfile scans, CMS probes, traversal, injection strings,
// scanner user agents and malformed headers.
package signature

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

type Kind string

const (
	ExactPath          Kind = "exact_path"
	PathPrefix         Kind = "path_prefix"
	Contains           Kind = "contains"
	Regex              Kind = "regex"
	HeaderContains     Kind = "header_contains"
	HeaderRegex        Kind = "header_regex"
	HeaderTooLong      Kind = "header_too_long"
	HeaderControlChars Kind = "header_control_chars"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Signature is one configured pattern. Header is only used by the header
// kinds; MaxLen only by header_too_long.
type Signature struct {
	Name    string `koanf:"name" json:"name"`
	Kind    Kind   `koanf:"kind" json:"kind"`
	Pattern string `koanf:"pattern" json:"pattern,omitempty"`
	Header  string `koanf:"header" json:"header,omitempty"`
	MaxLen  int    `koanf:"max_len" json:"max_len,omitempty"`
}

// Match names the signature that fired
type Match struct {
	Name string
	Kind Kind
}

type compiled struct {
	sig    Signature
	header string
	lower  string
	re     *regexp.Regexp
	match  func(c *compiled, s *subject) bool
}

// Matcher is immutable once built and safe for concurrent use
type Matcher struct {
	sigs []compiled
}

// subject is the per-request view every signature is checked against
type subject struct {
	path    string
	targets []string // path?query, raw and decoded
	lowered []string
	header  http.Header
}

func New(signatures []Signature) (*Matcher, error) {
	m := &Matcher{sigs: make([]compiled, 0, len(signatures))}

	for i, sig := range signatures {
		c, err := compile(sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d (%s): %w", i, sig.Name, err)
		}
		m.sigs = append(m.sigs, c)
	}

	return m, nil
}

// MustNew is New that panics, for package-level defaults and tests
func MustNew(signatures []Signature) *Matcher {
	m, err := New(signatures)
	if err != nil {
		panic(err)
	}
	return m
}

func compile(sig Signature) (compiled, error) {
	c := compiled{sig: sig, lower: strings.ToLower(sig.Pattern)}

	if strings.TrimSpace(sig.Name) == "" {
		return c, fmt.Errorf("%w: name is required", ErrInvalidSignature)
	}
	if sig.Header != "" {
		c.header = http.CanonicalHeaderKey(sig.Header)
	}

	switch sig.Kind {
	case ExactPath:
		c.match = matchExactPath
	case PathPrefix:
		c.match = matchPathPrefix
	case Contains:
		c.match = matchContains
	case Regex:
		c.match = matchRegex
	case HeaderContains:
		c.match = matchHeaderContains
	case HeaderRegex:
		c.match = matchHeaderRegex
	case HeaderTooLong:
		if sig.MaxLen <= 0 {
			return c, fmt.Errorf("%w: max_len must be positive", ErrInvalidSignature)
		}
		c.match = matchHeaderTooLong
		return c, nil
	case HeaderControlChars:
		c.match = matchHeaderControlChars
		return c, nil
	default:
		return c, fmt.Errorf("%w: unknown kind %q", ErrInvalidSignature, sig.Kind)
	}

	if sig.Pattern == "" {
		return c, fmt.Errorf("%w: pattern is required", ErrInvalidSignature)
	}
	if (sig.Kind == HeaderContains || sig.Kind == HeaderRegex) && c.header == "" {
		return c, fmt.Errorf("%w: header is required for %s", ErrInvalidSignature, sig.Kind)
	}
	if sig.Kind == Regex || sig.Kind == HeaderRegex {
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			return c, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		c.re = re
	}

	return c, nil
}

// Match checks the request line and headers against every signature in
// order and returns the first hit.
func (m *Matcher) Match(path, query string, h http.Header) (Match, bool) {
	if m == nil || len(m.sigs) == 0 {
		return Match{}, false
	}

	s := newSubject(path, query, h)
	for i := range m.sigs {
		c := &m.sigs[i]
		if c.match(c, s) {
			return Match{Name: c.sig.Name, Kind: c.sig.Kind}, true
		}
	}
	return Match{}, false
}

// MatchRequest is Match over r's URL and headers
func (m *Matcher) MatchRequest(r *http.Request) (Match, bool) {
	if r == nil || r.URL == nil {
		return Match{}, false
	}
	return m.Match(r.URL.Path, r.URL.RawQuery, r.Header)
}

// Len returns the number of compiled signatures
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sigs)
}

func newSubject(path, query string, h http.Header) *subject {
	raw := path
	if query != "" {
		raw = path + "?" + query
	}
	s := &subject{path: path, header: h, targets: []string{raw}}

	// encoded payloads like %3Cscript%3E need the decoded form too
	if decoded, err := url.QueryUnescape(raw); err == nil && decoded != raw {
		s.targets = append(s.targets, decoded)
	} else if dp, err := url.PathUnescape(path); err == nil && dp != path {
		s.targets = append(s.targets, dp)
	}

	s.lowered = make([]string, len(s.targets))
	for i, t := range s.targets {
		s.lowered[i] = strings.ToLower(t)
	}
	return s
}

func matchExactPath(c *compiled, s *subject) bool {
	return strings.EqualFold(s.path, c.sig.Pattern)
}

func matchPathPrefix(c *compiled, s *subject) bool {
	return len(s.path) >= len(c.lower) && strings.EqualFold(s.path[:len(c.lower)], c.lower)
}

func matchContains(c *compiled, s *subject) bool {
	for _, t := range s.lowered {
		if strings.Contains(t, c.lower) {
			return true
		}
	}
	return false
}

func matchRegex(c *compiled, s *subject) bool {
	for _, t := range s.targets {
		if c.re.MatchString(t) {
			return true
		}
	}
	return false
}

func matchHeaderContains(c *compiled, s *subject) bool {
	for _, v := range s.header.Values(c.header) {
		if strings.Contains(strings.ToLower(v), c.lower) {
			return true
		}
	}
	return false
}

func matchHeaderRegex(c *compiled, s *subject) bool {
	for _, v := range s.header.Values(c.header) {
		if c.re.MatchString(v) {
			return true
		}
	}
	return false
}

func matchHeaderTooLong(c *compiled, s *subject) bool {
	return anyHeaderValue(c.header, s.header, func(v string) bool {
		return len(v) > c.sig.MaxLen
	})
}

func matchHeaderControlChars(c *compiled, s *subject) bool {
	return anyHeaderValue(c.header, s.header, func(v string) bool {
		return strings.ContainsAny(v, "\x00\r\n")
	})
}

// anyHeaderValue runs fn over the named header, or all headers when name is empty
func anyHeaderValue(name string, h http.Header, fn func(string) bool) bool {
	if name != "" {
		for _, v := range h.Values(name) {
			if fn(v) {
				return true
			}
		}
		return false
	}
	for _, vals := range h {
		for _, v := range vals {
			if fn(v) {
				return true
			}
		}
	}
	return false
}
