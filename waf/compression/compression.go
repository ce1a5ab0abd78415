package compression

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

type Config struct {
	Level int
}

type responseWriter struct {
	http.ResponseWriter
	writer io.Writer
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	return rw.writer.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type Handler struct {
	config Config
}

func NewHandler(config Config) *Handler {
	if config.Level == 0 {
		config.Level = 6
	}
	return &Handler{config: config}
}

// Negotiate picks br over gzip from an Accept-Encoding value, "" for neither
func Negotiate(acceptEncoding string) string {
	var gz bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(enc)) {
		case "br":
			return "br"
		case "gzip":
			gz = true
		}
	}
	if gz {
		return "gzip"
	}
	return ""
}

func (h *Handler) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		var writer io.WriteCloser
		encoding := Negotiate(r.Header.Get("Accept-Encoding"))
		switch encoding {
		case "br":
			writer = brotli.NewWriterLevel(w, h.config.Level)
		case "gzip":
			level := min(h.config.Level, gzip.BestCompression)
			writer, _ = gzip.NewWriterLevel(w, level)
		default:
			next.ServeHTTP(w, r)
			return
		}

		defer writer.Close()
		w.Header().Set("Content-Encoding", encoding)
		w.Header().Del("Content-Length")
		next.ServeHTTP(&responseWriter{ResponseWriter: w, writer: writer}, r)
	})
}
