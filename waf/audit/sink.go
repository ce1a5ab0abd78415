package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"rhinoguard/waf/logging"
)

// Sink receives batches of audit records. Write must not retain recs.
type Sink interface {
	Write(ctx context.Context, recs []Record) error
}

// named is implemented by sinks that want a stable metrics label
type named interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// FileSink appends JSON lines to a rotated file
type FileSink struct {
	mu  sync.Mutex
	out io.WriteCloser
}

func NewFileSink(config logging.RotationConfig) (*FileSink, error) {
	config.Enabled = true
	lj := logging.NewRotatingWriter(config)
	if lj == nil {
		return nil, errors.New("audit: file sink needs a filename")
	}
	return &FileSink{out: lj}, nil
}

// NewWriterSink writes JSON lines to any writer
func NewWriterSink(w io.WriteCloser) *FileSink {
	return &FileSink{out: w}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bw := bufio.NewWriter(s.out)
	enc := json.NewEncoder(bw)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			return fmt.Errorf("audit: encode record %d: %w", recs[i].Seq, err)
		}
	}
	return bw.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

// LogSink writes each record as a structured log line
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(l zerolog.Logger) *LogSink {
	return &LogSink{log: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, recs []Record) error {
	for _, r := range recs {
		ev := s.log.Info()
		if r.Decision != DecisionAllowed {
			ev = s.log.Warn()
		}
		ev.Uint64("seq", r.Seq).
			Str("audit_id", r.ID).
			Time("at", r.Time).
			Str("client", r.Client).
			Str("decision", string(r.Decision)).
			Str("reason", string(r.Reason)).
			Str("detail", r.Detail).
			Strs("flags", r.Flags).
			Str("method", r.Method).
			Str("path", r.Path).
			Int("status", r.Status).
			Dur("latency", r.Latency).
			Str("request_id", r.RequestID).
			Msg("audit")
	}
	return nil
}

type WebhookConfig struct {
	URL          string
	Timeout      time.Duration // per attempt
	MaxRetries   int
	RetryBackoff time.Duration

	// breaker opens after this many consecutive failed batches
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// WebhookSink POSTs batches as JSON. A circuit breaker skips a dead
// endpoint until OpenTimeout has passed.
type WebhookSink struct {
	config  WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

type webhookPayload struct {
	Source  string   `json:"source"`
	Records []Record `json:"records"`
}

func NewWebhookSink(config WebhookConfig) *WebhookSink {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	switch {
	case config.MaxRetries < 0: // negative disables retries
		config.MaxRetries = 0
	case config.MaxRetries == 0:
		config.MaxRetries = 2
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}

	l := logging.With("audit-webhook")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-webhook",
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Audit webhook circuit breaker changed state")
		},
	})

	return &WebhookSink{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: breaker,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// State exposes the breaker state for health output
func (s *WebhookSink) State() string {
	return s.breaker.State().String()
}

func (s *WebhookSink) Write(ctx context.Context, recs []Record) error {
	body, err := json.Marshal(webhookPayload{Source: "rhinoguard", Records: recs})
	if err != nil {
		return fmt.Errorf("audit: marshal webhook payload: %w", err)
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.config.RetryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("audit: build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "rhinoguard-audit")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("audit: webhook returned %d", resp.StatusCode)
	}

	return fmt.Errorf("audit: webhook failed after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

// MultiSink fans a batch out to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Write(ctx context.Context, recs []Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, recs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sinkName(s), err))
		}
	}
	return errors.Join(errs...)
}
