// entryprocd is the entry-processor daemon: it loads configuration, opens
// the catalog, builds the Lustre/HSM pipeline stage table, starts the
// changelog/scan producers and the GC scheduler, and serves the
// observability HTTP/WS API until it receives SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cea-hpc/entryproc/internal/alert"
	"github.com/cea-hpc/entryproc/internal/catalog"
	"github.com/cea-hpc/entryproc/internal/changelog"
	"github.com/cea-hpc/entryproc/internal/config"
	"github.com/cea-hpc/entryproc/internal/fsprobe"
	"github.com/cea-hpc/entryproc/internal/gc"
	"github.com/cea-hpc/entryproc/internal/observatory"
	"github.com/cea-hpc/entryproc/internal/pipeline"
	"github.com/cea-hpc/entryproc/internal/policy"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	replayFile := flag.String("replay", "", "Replay a captured changelog file instead of connecting a live source")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	catalogCfg, err := catalog.ParseDSN(cfg.Catalog.DSN)
	if err != nil {
		slog.Error("invalid catalog dsn", "error", err)
		os.Exit(1)
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Catalog.ConnectTimeout)
	store, err := catalog.New(connectCtx, catalogCfg)
	cancel()
	if err != nil {
		slog.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("catalog ready", "database", catalogCfg.Database)

	probe := fsprobe.NewOSProbe(cfg.Scan.RootPath)

	engine := policy.NewExprEngine()
	if cfg.Policy.RulesFile != "" {
		if err := policy.LoadRulesFile(engine, cfg.Policy.RulesFile); err != nil {
			slog.Error("failed to load policy rules", "error", err)
			os.Exit(1)
		}
	}

	var alertRules []pipeline.AlertRule
	for _, a := range cfg.Policy.Alerts {
		alertRules = append(alertRules, pipeline.AlertRule{Name: a.Name, Expr: a.Expr})
	}
	// TokenEnv names the environment variable holding the Slack incoming
	// webhook URL (the field predates the SlackSink's webhook-vs-SDK
	// decision; see DESIGN.md, internal/alert).
	sink := alert.NewSlackSink(alert.Config{
		WebhookURL: os.Getenv(cfg.Alert.TokenEnv),
		Channel:    cfg.Alert.Channel,
	})

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: engine, Alerts: sink}
	handlerCfg := pipeline.HandlerConfig{
		MatchClasses:     cfg.Policy.MatchClasses,
		DetectFakeMtime:  cfg.Policy.DetectFakeMtime,
		AlertRules:       alertRules,
		MDUpdatePeriod:   cfg.Policy.MDUpdatePeriod,
		HSMRemoveEnabled: cfg.HSM.RemoveEnabled,
		DeferredDelay:    cfg.HSM.DeferredDelay,
	}
	stages := pipeline.BuildHSMStages(deps, handlerCfg)

	pipe, err := pipeline.New(pipeline.Options{
		Stages:     stages,
		NumWorkers: cfg.Pipeline.NbThread,
		MaxPending: cfg.Pipeline.MaxPendingOperations,
	})
	if err != nil {
		slog.Error("failed to construct pipeline", "error", err)
		os.Exit(1)
	}
	pipe.Start()
	slog.Info("pipeline started", "workers", cfg.Pipeline.NbThread, "max_pending", cfg.Pipeline.MaxPendingOperations)

	mode := cfg.Changelog.Mode
	sourceFile := cfg.Changelog.ReplayFile
	follow := mode == "live"
	if *replayFile != "" {
		sourceFile = *replayFile
		follow = false
	}

	var producer *changelog.Producer
	if sourceFile != "" {
		reader, err := changelog.NewFileReader(sourceFile, follow)
		if err != nil {
			slog.Error("failed to open changelog source", "error", err)
			os.Exit(1)
		}
		defer reader.Close()
		producer = changelog.NewProducer(pipe, reader)
		producer.Start(ctx)
		slog.Info("changelog producer started", "file", sourceFile, "follow", follow)
	} else {
		producer = changelog.NewProducer(pipe, changelog.NewMemoryReader(nil))
		slog.Warn("no changelog source configured; only scan-driven ops will be admitted")
	}

	var scheduler *gc.Scheduler
	if cfg.Scan.Enabled && cfg.Scan.RootPath != "" {
		scanner := gc.NewScanner(probe, producer)
		scheduler = gc.NewScheduler(gc.Config{
			Roots:        []string{cfg.Scan.RootPath},
			PathPrefix:   cfg.Scan.PathPrefix,
			Interval:     cfg.Scan.Interval,
			SweepTimeout: 10 * time.Minute,
		}, scanner, producer)
		scheduler.Start(ctx)
		slog.Info("gc scheduler started", "root", cfg.Scan.RootPath, "interval", cfg.Scan.Interval)
	}

	hub := observatory.NewHub(pipe, cfg.Observatory.SnapshotInterval, 5*time.Second)
	hub.Start()
	server := observatory.NewServer(cfg.Observatory.ListenAddr, pipe, hub)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	slog.Info("observatory listening", "addr", cfg.Observatory.ListenAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("observatory server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		slog.Error("observatory shutdown error", "error", err)
	}
	hub.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}
	producer.Stop()

	slog.Info("draining pipeline")
	pipe.Terminate(true)
	slog.Info("entryprocd stopped")
}
