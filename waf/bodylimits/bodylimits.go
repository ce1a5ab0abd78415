// Package bodylimits enforces request body ceilings, both on the declared
// Content-Length and on bytes actually read.
package bodylimits

import (
	"fmt"
	"io"
	"path"
	"sort"
	"sync/atomic"

	"rhinoguard/waf/verdict"
)

const DefaultMaxBytes = 10 * 1024 * 1024 // 10MB

var ErrPayloadTooLarge = verdict.ErrPayloadTooLarge

type Config struct {
	MaxBytes   int64
	PathLimits map[string]int64 // path.Match globs, override MaxBytes
}

type pathLimit struct {
	pattern string
	limit   int64
}

type Limiter struct {
	maxBytes int64
	paths    []pathLimit
}

func NewLimiter(config Config) *Limiter {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}

	l := &Limiter{maxBytes: config.MaxBytes}
	for pattern, limit := range config.PathLimits {
		if limit <= 0 {
			continue
		}
		l.paths = append(l.paths, pathLimit{pattern: pattern, limit: limit})
	}
	// longest pattern first so /api/upload/* beats /api/*
	sort.Slice(l.paths, func(i, j int) bool {
		if len(l.paths[i].pattern) != len(l.paths[j].pattern) {
			return len(l.paths[i].pattern) > len(l.paths[j].pattern)
		}
		return l.paths[i].pattern < l.paths[j].pattern
	})

	return l
}

// Limit returns the ceiling that applies to p
func (l *Limiter) Limit(p string) int64 {
	for _, pl := range l.paths {
		if matched, _ := path.Match(pl.pattern, p); matched {
			return pl.limit
		}
	}
	return l.maxBytes
}

// CheckDeclared rejects a declared length over the ceiling without touching
// the body. Unknown lengths (-1) pass and are caught by Wrap instead.
func (l *Limiter) CheckDeclared(p string, contentLength int64) error {
	limit := l.Limit(p)
	if contentLength > limit {
		return fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, contentLength, limit)
	}
	return nil
}

// Wrap returns a reader that fails once more than the ceiling has been read
func (l *Limiter) Wrap(p string, body io.ReadCloser) *Reader {
	return NewReader(body, l.Limit(p))
}

// Reader counts bytes as they stream through. It never reads more than
// limit+1 bytes from the underlying body and buffers nothing.
type Reader struct {
	rc        io.ReadCloser
	limit     int64
	remaining int64
	read      atomic.Int64
	tripped   atomic.Bool
}

func NewReader(rc io.ReadCloser, limit int64) *Reader {
	return &Reader{rc: rc, limit: limit, remaining: limit}
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.tripped.Load() {
		return 0, r.err()
	}
	if len(p) == 0 {
		return 0, nil
	}
	// one byte past the limit is enough to know it was exceeded
	if int64(len(p))-1 > r.remaining {
		p = p[:r.remaining+1]
	}

	n, err := r.rc.Read(p)
	if int64(n) <= r.remaining {
		r.remaining -= int64(n)
		r.read.Add(int64(n))
		return n, err
	}

	n = int(r.remaining)
	r.read.Add(int64(n))
	r.remaining = 0
	r.tripped.Store(true)
	return n, r.err()
}

func (r *Reader) err() error {
	return fmt.Errorf("%w: body exceeds %d bytes", ErrPayloadTooLarge, r.limit)
}

func (r *Reader) Close() error {
	return r.rc.Close()
}

// Tripped reports whether the body went over the limit
func (r *Reader) Tripped() bool {
	return r.tripped.Load()
}

// BytesRead returns how many body bytes were handed to the caller
func (r *Reader) BytesRead() int64 {
	return r.read.Load()
}

func (r *Reader) Limit() int64 {
	return r.limit
}
