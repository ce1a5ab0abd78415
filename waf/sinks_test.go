package waf

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhinoguard/waf/audit"
)

func TestBuildAuditSinkDefaultsToNothing(t *testing.T) {
	sinks, closer, err := BuildAuditSink(exampleConfig().Audit)
	require.NoError(t, err)
	assert.Empty(t, sinks)
	assert.NoError(t, closer.Close())
}

func TestBuildAuditSinkFileAndLog(t *testing.T) {
	cfg := exampleConfig().Audit
	cfg.File.Enabled = true
	cfg.File.Filename = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.File.Compress = false
	cfg.Log = true
	cfg.Webhook.Enabled = true
	cfg.Webhook.URL = "http://127.0.0.1:1/audit"

	sinks, closer, err := BuildAuditSink(cfg)
	require.NoError(t, err)
	require.Len(t, sinks, 3)
	assert.IsType(t, &audit.FileSink{}, sinks[0])
	assert.IsType(t, &audit.LogSink{}, sinks[1])
	assert.IsType(t, &audit.WebhookSink{}, sinks[2])

	require.NoError(t, sinks[0].Write(context.Background(), []audit.Record{{Seq: 1, Client: "192.0.2.1"}}))
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(cfg.File.Filename)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"client":"192.0.2.1"`))
}

func TestAuditFlusherDrainsGuardRing(t *testing.T) {
	g, _ := newTestGuard(t, exampleConfig())
	h := g.Protect(okHandler)
	for i := 0; i < 3; i++ {
		serve(h, request(http.MethodGet, "/", "192.0.2.100:1"))
	}

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	sink := audit.NewWriterSink(f)

	fl := NewAuditFlusher(g, sink)
	n, err := fl.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, sink.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(b), "\n"))
}
