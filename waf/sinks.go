package waf

import (
	"errors"
	"io"

	"rhinoguard/waf/audit"
	"rhinoguard/waf/config"
	"rhinoguard/waf/logging"
)

// BuildAuditSink assembles the sinks enabled in cfg. The returned closer
// releases file handles and must be called after the flusher stopped.
func BuildAuditSink(cfg config.AuditConfig) (audit.MultiSink, io.Closer, error) {
	var (
		sinks   audit.MultiSink
		closers closers
	)

	if cfg.File.Enabled {
		fs, err := audit.NewFileSink(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, fs)
	}
	if cfg.Log {
		sinks = append(sinks, audit.NewLogSink(logging.With("audit")))
	}
	if cfg.Webhook.Enabled {
		sinks = append(sinks, audit.NewWebhookSink(audit.WebhookConfig{
			URL:              cfg.Webhook.URL,
			Timeout:          cfg.Webhook.Timeout,
			MaxRetries:       cfg.Webhook.MaxRetries,
			FailureThreshold: cfg.Webhook.FailureThreshold,
			OpenTimeout:      cfg.Webhook.OpenTimeout,
		}))
	}

	return sinks, closers, nil
}

// NewAuditFlusher drains g's ring into sink using the flush settings of
// the guard's configuration
func NewAuditFlusher(g *Guard, sink audit.Sink) *audit.Flusher {
	cfg := g.Config().Audit
	return audit.NewFlusher(g.Ring(), sink, audit.FlusherConfig{
		FlushInterval: cfg.FlushInterval,
		BatchSize:     cfg.BatchSize,
		Timeout:       cfg.FlushTimeout,
	})
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
