// Package headers injects protective response headers without clobbering
// whatever the application already set.
package headers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
)

type Header struct {
	Name  string `koanf:"name" json:"name"`
	Value string `koanf:"value" json:"value"`
}

type Config struct {
	Headers []Header // nil means DefaultHeaders()
	Strip   []string // removed from every response, e.g. X-Powered-By
}

// DefaultHeaders is the baseline set every response should carry
func DefaultHeaders() []Header {
	return []Header{
		{Name: "X-Content-Type-Options", Value: "nosniff"},
		{Name: "X-Frame-Options", Value: "DENY"},
		{Name: "Referrer-Policy", Value: "no-referrer"},
		{Name: "Content-Security-Policy", Value: "default-src 'none'; frame-ancestors 'none'"},
		{Name: "Strict-Transport-Security", Value: "max-age=63072000; includeSubDomains"},
		{Name: "Permissions-Policy", Value: "geolocation=(), microphone=(), camera=()"},
		{Name: "Cross-Origin-Opener-Policy", Value: "same-origin"},
	}
}

// DefaultStrip lists headers that leak server details
func DefaultStrip() []string {
	return []string{"X-Powered-By", "Server", "X-AspNet-Version"}
}

type Injector struct {
	headers []Header
	strip   []string
}

func NewInjector(config Config) *Injector {
	hs := config.Headers
	if hs == nil {
		hs = DefaultHeaders()
	}

	inj := &Injector{}
	for _, h := range hs {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			continue
		}
		inj.headers = append(inj.headers, Header{Name: http.CanonicalHeaderKey(name), Value: h.Value})
	}
	for _, s := range config.Strip {
		if s = strings.TrimSpace(s); s != "" {
			inj.strip = append(inj.strip, http.CanonicalHeaderKey(s))
		}
	}
	return inj
}

// Headers returns the configured set in canonical form
func (inj *Injector) Headers() []Header {
	return append([]Header(nil), inj.headers...)
}

// Apply fills in every configured header h lacks and drops stripped ones.
// Values already present are left alone.
func (inj *Injector) Apply(h http.Header) {
	for _, name := range inj.strip {
		h.Del(name)
	}
	for _, hdr := range inj.headers {
		if len(h.Values(hdr.Name)) == 0 {
			h.Set(hdr.Name, hdr.Value)
		}
	}
}

// Wrap returns a ResponseWriter that applies the headers right before the
// status line goes out.
func (inj *Injector) Wrap(w http.ResponseWriter) *Writer {
	return &Writer{ResponseWriter: w, inj: inj}
}

// Writer tracks what was sent downstream
type Writer struct {
	http.ResponseWriter
	inj         *Injector
	applied     bool
	wroteHeader bool
	status      int
	written     int64
}

func (w *Writer) apply() {
	if w.applied {
		return
	}
	w.applied = true
	w.inj.Apply(w.ResponseWriter.Header())
}

// Commit applies the headers if nothing has been written yet. Call it after
// a handler returns so an implicit 200 still carries them.
func (w *Writer) Commit() {
	w.apply()
}

func (w *Writer) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	// informational responses may precede the real one
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.apply()
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *Writer) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Status is the committed status code, 0 if none yet
func (w *Writer) Status() int {
	return w.status
}

// WroteHeader reports whether the status line was committed
func (w *Writer) WroteHeader() bool {
	return w.wroteHeader
}

// Written is the number of body bytes written
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *Writer) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *Writer) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("headers: underlying ResponseWriter does not support hijacking")
	}
	w.apply()
	w.wroteHeader = true
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
