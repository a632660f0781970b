// Package app assembles the catalog service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jagard11/Launcher/internal/config"
	"github.com/Jagard11/Launcher/internal/dirty"
	"github.com/Jagard11/Launcher/internal/discovery"
	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/enrich"
	"github.com/Jagard11/Launcher/internal/envdetect"
	"github.com/Jagard11/Launcher/internal/fingerprint"
	"github.com/Jagard11/Launcher/internal/inference"
	"github.com/Jagard11/Launcher/internal/launch"
	"github.com/Jagard11/Launcher/internal/mcp"
	"github.com/Jagard11/Launcher/internal/scheduler"
	"github.com/Jagard11/Launcher/internal/sqlite"
	"github.com/Jagard11/Launcher/internal/transport"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const deltaBuffer = 256

// Options adjust how the app is assembled. The zero value builds everything
// from configuration.
type Options struct {
	// Live wires scan deltas to the dirty tracker. Set it when Run will be
	// called; one-shot commands leave it off so scans never wait on a reader.
	Live bool
	// Analyzer replaces the configured inference backend.
	Analyzer inference.Analyzer
	// Spawner replaces process spawning for launches.
	Spawner launch.Spawner
	// Clock replaces the scheduler clock.
	Clock scheduler.Clock
	// Version is reported by the MCP server.
	Version string
}

// App holds every component of a running catalog.
type App struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	DB        *sqlite.DB
	Projects  *sqlite.ProjectRepository
	Catalog   *project.Service
	Sessions  *session.Service
	Activity  *activity.Service
	Scanner   *discovery.Scanner
	Tracker   *dirty.Tracker
	Scripts   *enrich.ScriptWriter
	Pipeline  *enrich.Pipeline
	Scheduler *scheduler.Scheduler
	Launcher  *launch.Launcher

	deltas chan discovery.Delta
}

// New opens the catalog and builds the components. Close releases the database.
func New(cfg config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer, err = inference.New(inference.Config{
			Provider:  cfg.Inference.Provider,
			BaseURL:   cfg.Inference.BaseURL,
			Model:     cfg.Inference.Model,
			APIKey:    cfg.Inference.APIKey,
			MaxTokens: cfg.Inference.MaxTokens,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring inference: %w", err)
		}
	}

	a := &App{cfg: cfg, opts: opts, logger: logger, DB: db}
	a.Projects = sqlite.NewProjectRepository(db)
	a.Catalog = project.NewService(a.Projects, logger)
	a.Sessions = session.NewService(sqlite.NewSessionRepository(db), logger)
	a.Activity = activity.NewService(sqlite.NewActivityRepository(db), logger)

	if opts.Live {
		a.deltas = make(chan discovery.Delta, deltaBuffer)
	}
	a.Scanner = discovery.NewScanner(discovery.Deps{
		Projects: a.Projects,
		Sessions: a.Sessions,
		Activity: a.Activity,
		Fingerprinter: fingerprint.New(fingerprint.Options{
			MaxDepth:   cfg.Scan.FingerprintDepth,
			MaxEntries: cfg.Scan.FingerprintMaxEntries,
			Ignore:     cfg.Scan.Ignore,
		}, logger),
		Resolver: envdetect.NewResolver(logger),
		Deltas:   a.deltas,
		Logger:   logger.With("component", "discovery"),
	}, discovery.Options{
		Roots:    cfg.Scan.Roots,
		MaxDepth: cfg.Scan.MaxDepth,
		Ignore:   cfg.Scan.Ignore,
	})

	a.Tracker = dirty.NewTracker(a.Projects, a.Activity, logger.With("component", "dirty"))
	a.Scripts = enrich.NewScriptWriter(cfg.Enrich.ScriptsDir, a.Projects, a.Activity, logger.With("component", "scripts"))

	guard := enrich.DefaultGuardConfig()
	guard.Timeout = cfg.Enrich.Timeout
	guard.MaxRetries = cfg.Enrich.MaxRetries
	guard.RatePerSecond = cfg.Enrich.RatePerSecond
	a.Pipeline = enrich.NewPipeline(enrich.Deps{
		Projects: a.Projects,
		Activity: a.Activity,
		Analyzer: analyzer,
		Scripts:  a.Scripts,
		Logger:   logger.With("component", "enrich"),
	}, enrich.Options{Workers: cfg.Enrich.Workers, Guard: guard})

	a.Scheduler = scheduler.New(scheduler.Deps{
		Scanner:  a.Scanner,
		Enricher: a.Pipeline,
		Marker:   a.Tracker,
		Janitor: scheduler.Retention{
			Sessions:     a.Sessions,
			Projects:     a.Projects,
			SessionAge:   cfg.Retention.SessionAge(),
			TombstoneAge: cfg.Retention.TombstoneAge(),
			Logger:       logger,
		},
		Clock:  opts.Clock,
		Logger: logger.With("component", "scheduler"),
	}, scheduler.Config{
		QuickInterval:  cfg.Schedule.QuickInterval,
		FullInterval:   cfg.Schedule.FullInterval,
		EnrichInterval: cfg.Schedule.EnrichInterval,
		Resolution:     cfg.Schedule.Resolution,
		ScanOnStart:    cfg.Schedule.ScanOnStart,
	})

	a.Launcher = launch.NewLauncher(launch.Deps{
		Projects: a.Projects,
		Activity: a.Activity,
		Spawner:  opts.Spawner,
		Scripts:  a.Scripts,
		Fallback: enrich.HeuristicCommand,
		Logger:   logger.With("component", "launch"),
	}, cfg.Enrich.MinLaunchConfidence)

	return a, nil
}

// Services exposes the components to the MCP and HTTP surfaces.
func (a *App) Services() mcp.Services {
	return mcp.Services{
		Catalog:   a.Catalog,
		Sessions:  a.Sessions,
		Activity:  a.Activity,
		Scheduler: a.Scheduler,
		Tracker:   a.Tracker,
		Scripts:   a.Scripts,
		Launcher:  a.Launcher,
	}
}

// MCPServer builds the MCP server over the app's services.
func (a *App) MCPServer() *sdkmcp.Server {
	return mcp.NewServer(mcp.Config{
		Services:      a.Services(),
		Verifier:      transport.StaticToken(a.cfg.Auth.Token),
		AuthEnabled:   a.cfg.Auth.Enabled,
		TransportMode: a.cfg.Transport.Mode,
		Version:       a.opts.Version,
		Logger:        a.logger.With("component", "mcp"),
	})
}

// HTTPHandler builds the REST API. A non-nil mcpServer is also served over
// streamable HTTP at /mcp.
func (a *App) HTTPHandler(mcpServer *sdkmcp.Server) http.Handler {
	cfg := transport.Config{
		Services: a.Services(),
		Logger:   a.logger.With("component", "http"),
	}
	if a.cfg.Auth.Enabled {
		cfg.Auth = transport.AuthMiddleware(transport.StaticToken(a.cfg.Auth.Token))
	}
	if mcpServer != nil {
		cfg.MCP = sdkmcp.NewStreamableHTTPHandler(
			func(*http.Request) *sdkmcp.Server { return mcpServer },
			&sdkmcp.StreamableHTTPOptions{SessionTimeout: 30 * time.Minute},
		)
	}
	return transport.NewServer(cfg)
}

// Run starts the background machinery: the delta consumer, the enrichment
// pipeline, the scheduler and, when enabled, the filesystem watcher. It
// returns once ctx ends and everything has stopped.
func (a *App) Run(ctx context.Context) error {
	if !a.opts.Live {
		return errors.New("app was built without Live")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Tracker.Consume(ctx, a.deltas)
		return nil
	})
	g.Go(func() error {
		return a.Pipeline.Run(ctx, a.Tracker.Wake())
	})
	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})
	if a.cfg.Scan.Watch {
		w, err := discovery.NewWatcher(a.Scanner, discovery.DefaultDebounce, a.Scheduler.Nudge, a.logger.With("component", "watcher"))
		if err != nil {
			a.logger.Warn("filesystem watcher disabled", "error", err)
		} else {
			g.Go(func() error {
				return w.Run(ctx)
			})
		}
	}
	return g.Wait()
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
