// Package bootstrap wires the argus components together and manages the
// application lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/notify"
	"argus/storage"

	"go.uber.org/zap"
)

// App holds all running components of the argus service.
type App struct {
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
	Config *config.Config

	SQLite     *storage.SQLite
	AlertStore *storage.AlertStore

	Hub      *api.Hub
	Notifier *notify.WebhookNotifier
	Windows  *detect.WindowStore
	Rules    []core.Rule
	Dedup    *detect.Deduplicator
	Engine   *detect.Engine
	Server   *api.Server

	serverErrCh chan error
}

// NewApp creates the application and initializes every component, wired in
// dependency order.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{serverErrCh: make(chan error, 1)}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus correlation engine starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	sqlite, err := storage.NewSQLite(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	app.SQLite = sqlite
	app.AlertStore = storage.NewAlertStore(sqlite, sugar)

	app.Hub = api.NewHub(ctx, sugar)
	app.Notifier = notify.NewWebhookNotifier(
		cfg.Notify.WebhookURL,
		core.Severity(cfg.Notify.MinSeverity),
		sugar,
	)

	app.Windows = detect.NewWindowStore(ctx, cfg.Windows.MaxKeysPerRule, cfg.Windows.SweepInterval, sugar)
	app.Rules = detect.BuiltinRules(
		cfg.Rules.BruteForce.Window,
		cfg.Rules.BruteForce.Threshold,
		cfg.Rules.PortScan.Window,
		cfg.Rules.PortScan.Threshold,
		cfg.Rules.PatternCooldown,
	)
	app.Dedup = detect.NewDeduplicator(
		cfg.Dedup.MaxEntries,
		dedupRetention(cfg),
		sugar,
	)

	app.Engine = detect.NewEngine(ctx, detect.Options{
		Workers:           cfg.Engine.WorkerCount,
		QueueSize:         cfg.Engine.ChannelBufferSize,
		DispatchQueueSize: cfg.Engine.DispatchQueueSize,
	}, app.Rules, app.Windows, app.Dedup, app.AlertStore, app.Hub, app.Notifier, sugar)

	app.Server = api.NewServer(app.Engine, app.AlertStore, app.Hub, cfg, sugar)

	return app, nil
}

// dedupRetention derives how long an idle dedup entry survives: the longest
// rule cool-down times the configured multiplier.
func dedupRetention(cfg *config.Config) time.Duration {
	longest := cfg.Rules.PatternCooldown
	if cfg.Rules.BruteForce.Window > longest {
		longest = cfg.Rules.BruteForce.Window
	}
	if cfg.Rules.PortScan.Window > longest {
		longest = cfg.Rules.PortScan.Window
	}
	return longest * time.Duration(cfg.Dedup.CooldownMultiplier)
}

// Start brings up the hub, the engine, and the API server.
func (a *App) Start() error {
	a.Hub.Start()
	a.Engine.Start()

	go func() {
		if err := a.Server.Start(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("API server failed", "error", err)
			a.serverErrCh <- err
		}
	}()

	a.Sugar.Infow("Argus started",
		"rules", len(a.Rules),
		"addr", fmt.Sprintf("%s:%d", a.Config.API.Host, a.Config.API.Port))
	return nil
}

// WaitForShutdown blocks until a shutdown signal or a server failure.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
	case <-a.serverErrCh:
	}
}

// Shutdown stops components in reverse dependency order: ingress first so
// no new events arrive, then the pipeline, then persistence.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.Server.Stop(ctx); err != nil {
		a.Sugar.Errorw("API server shutdown error", "error", err)
	}
	cancel()

	a.Sugar.Info("Phase 2: Draining correlation engine...")
	a.Engine.Stop()

	a.Sugar.Info("Phase 3: Stopping window store...")
	a.Windows.Stop()

	a.Sugar.Info("Phase 4: Stopping broadcast hub...")
	a.Hub.Stop()

	a.Sugar.Info("Phase 5: Closing storage...")
	a.SQLite.Close()

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
