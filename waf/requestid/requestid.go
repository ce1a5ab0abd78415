package requestid

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rhinoguard/waf/logging"
)

type contextKey string

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = contextKey("requestID")

	maxUpstreamLen = 128
)

// Middleware adds a unique request ID to each request and a logger
// carrying it to the request context
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// keep an upstream proxy's ID if it looks sane
		reqID := sanitize(r.Header.Get(RequestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, reqID)

		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		l := logging.Logger().With().Str("request_id", reqID).Logger()
		ctx = l.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext retrieves request ID from context
func FromContext(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// FromRequest retrieves request ID from request context
func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}

// Logger returns the request-scoped logger, or the global one when the
// middleware did not run
func Logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != zerolog.DefaultContextLogger && l.GetLevel() != zerolog.Disabled {
		return l
	}
	l := logging.Logger()
	return &l
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxUpstreamLen {
		return ""
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return id
}
