// Package server runs the guard's long-lived pieces under a suture
// supervisor: the HTTP listeners, the audit flusher, the sweeper and the
// config watcher.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64 // seconds
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers so a crashing background worker never takes the
// listeners down with it:
//   - core: audit flusher, sweeper, config watcher
//   - edge: HTTP/1.1 and HTTP/3 listeners
type Tree struct {
	root *suture.Supervisor
	core *suture.Supervisor
	edge *suture.Supervisor
}

func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := spec
	if logger != nil {
		rootSpec.EventHook = (&sutureslog.Handler{Logger: logger}).MustHook()
	}

	t := &Tree{
		root: suture.New("rhinoguard", rootSpec),
		core: suture.New("core", spec),
		edge: suture.New("edge", spec),
	}
	t.root.Add(t.core)
	t.root.Add(t.edge)
	return t
}

func (t *Tree) AddCore(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

func (t *Tree) AddListener(svc suture.Service) suture.ServiceToken {
	return t.edge.Add(svc)
}

// Serve blocks until ctx is canceled
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
