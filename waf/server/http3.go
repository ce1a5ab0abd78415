package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"rhinoguard/waf/config"
)

const altSvcMaxAge = 2592000 // 30 days

// h3Server adapts *http3.Server to Listener. Close drops open streams,
// which is what the old listener did on stop as well.
type h3Server struct {
	*http3.Server
}

func (s h3Server) Shutdown(context.Context) error {
	return s.Close()
}

// NewHTTP3Service loads the TLS key pair and returns a QUIC listener for
// handler
func NewHTTP3Service(cfg config.HTTP3Config, handler http.Handler, shutdownTimeout time.Duration) (*HTTPService, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("http3: load key pair: %w", err)
	}

	srv := &http3.Server{
		Addr:    cfg.Addr,
		Handler: handler,
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
		}),
		QUICConfig: &quic.Config{
			MaxIncomingStreams:    100,
			MaxIncomingUniStreams: 10,
			MaxIdleTimeout:        30 * time.Second,
			KeepAlivePeriod:       15 * time.Second,
		},
	}
	return NewHTTPService("http3", h3Server{srv}, shutdownTimeout), nil
}

func isQUICClosed(err error) bool {
	return errors.Is(err, quic.ErrServerClosed)
}

// AltSvc advertises the HTTP/3 listener on responses served over TCP
func AltSvc(addr string) func(http.Handler) http.Handler {
	value := altSvcValue(addr)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if value != "" && r.ProtoMajor < 3 {
				w.Header().Set("Alt-Svc", value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func altSvcValue(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return ""
	}
	return fmt.Sprintf(`h3=":%s"; ma=%d`, port, altSvcMaxAge)
}
