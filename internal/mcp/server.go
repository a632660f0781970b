package mcp

import (
	"context"
	"log/slog"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/launch"
	"github.com/Jagard11/Launcher/internal/scheduler"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// CatalogService defines catalog reads and flag writes needed by MCP.
type CatalogService interface {
	Get(ctx context.Context, idOrPath string) (*project.Project, error)
	List(ctx context.Context, opts project.ListOptions) ([]project.ProjectRef, error)
	Search(ctx context.Context, query string, limit int) ([]project.SearchResult, error)
	SetFavorite(ctx context.Context, id string, favorite bool) error
	SetHidden(ctx context.Context, id string, hidden bool) error
	Stats(ctx context.Context) (*project.Stats, error)
}

// SessionService defines scan history operations needed by MCP.
type SessionService interface {
	History(ctx context.Context, limit int) ([]session.Session, error)
}

// ActivityService defines activity operations needed by MCP.
type ActivityService interface {
	GetRecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

// Scheduler accepts manual triggers.
type Scheduler interface {
	Trigger(ctx context.Context, kind scheduler.Kind, trigger scheduler.Trigger) (scheduler.Ticket, error)
	MarkDirty(ctx context.Context, id string) (*project.Project, scheduler.Ticket, error)
	Status(ctx context.Context) (scheduler.Status, error)
}

// DirtyTracker marks the whole catalog for re-enrichment.
type DirtyTracker interface {
	MarkAll(ctx context.Context) (int, error)
}

// ScriptService resets the user-modified state of launcher scripts.
type ScriptService interface {
	Reset(ctx context.Context, id string) error
}

// Launcher resolves and starts project launches.
type Launcher interface {
	Plan(ctx context.Context, id string) (*project.Project, *launch.Spec, error)
	Launch(ctx context.Context, id string) (*launch.Handle, error)
}

// Services contains everything the tools call into. Launcher and Scripts may
// be nil, in which case their tools report the feature as unavailable.
type Services struct {
	Catalog   CatalogService
	Sessions  SessionService
	Activity  ActivityService
	Scheduler Scheduler
	Tracker   DirtyTracker
	Scripts   ScriptService
	Launcher  Launcher
}

// Config contains server configuration.
type Config struct {
	Services      Services
	Verifier      TokenVerifier
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "launcher",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio is local only; HTTP checks the bearer token when auth is on.
	if cfg.TransportMode == "http" && cfg.AuthEnabled {
		server.AddReceivingMiddleware(authMiddleware(cfg.Verifier))
	}
	server.AddReceivingMiddleware(sessionMiddleware(), countingMiddleware())
	server.AddReceivingMiddleware(trafficMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services, cfg.Logger)

	return server
}
