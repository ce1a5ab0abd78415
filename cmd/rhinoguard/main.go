package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rhinoguard/handlers"
	"rhinoguard/waf"
	"rhinoguard/waf/admin"
	"rhinoguard/waf/audit"
	"rhinoguard/waf/config"
	"rhinoguard/waf/health"
	"rhinoguard/waf/logging"
	"rhinoguard/waf/reload"
	"rhinoguard/waf/requestid"
	"rhinoguard/waf/server"
)

const version = "1.0.0"

// applier pushes a reloaded config into the guard and the log level
type applier struct {
	guard *waf.Guard
}

func (a applier) Apply(cfg *config.Config) error {
	if err := a.guard.Apply(cfg); err != nil {
		return err
	}
	logging.SetLevel(cfg.Logging.Level)
	return nil
}

func newRouter(cfg *config.Config, guard *waf.Guard, reloader admin.Reloader, flusher *audit.Flusher, app http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)

	// health and metrics skip the checks so probes are never banned, but
	// still get the protective headers
	r.Method(http.MethodGet, "/health", guard.Harden(health.Handler(version, func() any { return guard.Stats() })))
	if cfg.Server.Metrics {
		r.Handle("/metrics", guard.Harden(promhttp.Handler()))
	}
	if cfg.Server.Admin {
		r.Mount("/admin", guard.Harden(waf.LocalhostOnly(admin.New(guard, reloader, flusher).Routes())))
	}

	r.Handle("/*", guard.Protect(app))
	return r
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (default: $"+config.ConfigPathEnvVar+" or ./rhinoguard.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "rhinoguard: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Init(cfg.Logging)
	log := logging.With("main")

	guard, err := waf.NewGuard(cfg)
	if err != nil {
		return fmt.Errorf("failed to build guard: %w", err)
	}

	sink, closer, err := waf.BuildAuditSink(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit sinks: %w", err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close audit sinks")
		}
	}()
	flusher := waf.NewAuditFlusher(guard, sink)

	// hot-reload so limits and signatures change without a restart
	reloader := reload.NewManager(reload.Config{
		Path:  configPath,
		Watch: configPath != "",
	}, applier{guard: guard})

	app := http.NewServeMux()
	handlers.Routes(app)

	router := newRouter(cfg, guard, reloader, flusher, app)

	tree := server.NewTree(logging.NewSlogLogger(), server.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	var root http.Handler = router
	if cfg.Server.HTTP3.Enabled {
		h3, err := server.NewHTTP3Service(cfg.Server.HTTP3, router, cfg.Server.ShutdownTimeout)
		if err != nil {
			return err
		}
		tree.AddListener(h3)
		root = server.AltSvc(cfg.Server.HTTP3.Addr)(router)
	}
	tree.AddListener(server.NewHTTPService("http", server.NewHTTPServer(cfg.Server, root), cfg.Server.ShutdownTimeout))

	tree.AddCore(flusher)
	tree.AddCore(waf.NewSweeper(guard))
	tree.AddCore(reloader)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP for a manual reload
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info().Msg("Received SIGHUP, reloading configuration")
				if configPath == "" {
					log.Warn().Msg("No configuration file to reload")
					continue
				}
				_ = reloader.Reload()
			}
		}
	}()

	log.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr).
		Bool("http3", cfg.Server.HTTP3.Enabled).
		Str("config", configPath).
		Int("signatures", guard.Signatures()).
		Int("max_requests", cfg.Rate.MaxRequests).
		Dur("window", cfg.Rate.Window).
		Msg("RhinoGuard is ready and protecting your application")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn().Int("services", len(report)).Msg("Some services did not stop in time")
	}
	log.Info().Msg("Shut down")
	return nil
}
