package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/scheduler"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type listProjectsInput struct {
	Status        string `json:"status,omitempty" jsonschema:"filter by status: discovered, enriching, ready, stale, error or removed"`
	Dirty         *bool  `json:"dirty,omitempty" jsonschema:"true for projects waiting for enrichment, false for clean ones"`
	FavoritesOnly bool   `json:"favorites_only,omitempty" jsonschema:"only favorites"`
	IncludeHidden bool   `json:"include_hidden,omitempty" jsonschema:"include projects marked hidden"`
	Root          string `json:"root,omitempty" jsonschema:"only projects under this scan root"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum number of projects"`
	Offset        int    `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

type projectIDInput struct {
	ID string `json:"id" jsonschema:"project ID or absolute project path"`
}

type searchInput struct {
	Query string `json:"query" jsonschema:"words to match against names, tooltips and descriptions"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

type forceRescanInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"quick (default) or full"`
	Wait bool   `json:"wait,omitempty" jsonschema:"block until the scan finishes and return its counts"`
}

type forceEnrichInput struct {
	Wait bool `json:"wait,omitempty" jsonschema:"block until the sweep finishes and return its stats"`
}

type markDirtyInput struct {
	ID  string `json:"id,omitempty" jsonschema:"project ID or absolute path"`
	All bool   `json:"all,omitempty" jsonschema:"mark every project instead of one"`
}

type historyInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of scan sessions (default 20)"`
}

type emptyInput struct{}

type recentActivityInput struct {
	ProjectID string   `json:"project_id,omitempty" jsonschema:"only events for this project"`
	Types     []string `json:"types,omitempty" jsonschema:"only these event types"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of events (default 50)"`
}

type setFavoriteInput struct {
	ID       string `json:"id" jsonschema:"project ID or absolute path"`
	Favorite bool   `json:"favorite" jsonschema:"new favorite flag"`
}

type setHiddenInput struct {
	ID     string `json:"id" jsonschema:"project ID or absolute path"`
	Hidden bool   `json:"hidden" jsonschema:"new hidden flag"`
}

type launchInput struct {
	ID     string `json:"id" jsonschema:"project ID or absolute path"`
	DryRun bool   `json:"dry_run,omitempty" jsonschema:"resolve the command without starting it"`
}

type ticketOutput struct {
	Kind      scheduler.Kind       `json:"kind"`
	Started   bool                 `json:"started"`
	Coalesced bool                 `json:"coalesced"`
	Result    *scheduler.JobResult `json:"result,omitempty"`
}

type tools struct {
	svc    Services
	logger *slog.Logger
}

// handler adapts a plain function into a typed tool handler. Errors become
// tool-level results carrying an APIError.
func handler[In any](fn func(ctx context.Context, in In) (any, error)) sdkmcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
		out, err := fn(ctx, in)
		if err != nil {
			return toolError(err), nil, nil
		}
		return nil, out, nil
	}
}

func registerTools(server *sdkmcp.Server, svc Services, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &tools{svc: svc, logger: logger}

	// Catalog
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_projects",
		Description: "List catalogued projects, favorites first then by name, with optional filters and pagination",
	}, handler(t.listProjects))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_project",
		Description: "Get the full record for one project, including its launch command and enrichment state",
	}, handler(t.getProject))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "search_projects",
		Description: "Full-text search over project names, tooltips and descriptions",
	}, handler(t.searchProjects))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "set_favorite",
		Description: "Mark or unmark a project as a favorite",
	}, handler(t.setFavorite))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "set_hidden",
		Description: "Hide a project from default listings, or show it again",
	}, handler(t.setHidden))

	// Scheduling
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "force_rescan",
		Description: "Start a quick or full discovery scan now; joins a scan of the same kind that is already running",
	}, handler(t.forceRescan))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "force_enrich",
		Description: "Start an enrichment sweep now, including projects parked in error",
	}, handler(t.forceEnrich))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "mark_dirty",
		Description: "Queue one project (by id) or every project (all=true) for re-enrichment",
	}, handler(t.markDirty))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_scheduler_status",
		Description: "Show next due times, running jobs, last results and coalesced trigger counts",
	}, handler(t.schedulerStatus))

	// History
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_scan_history",
		Description: "List recent scan sessions with their counts",
	}, handler(t.scanHistory))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_catalog_stats",
		Description: "Catalog totals by status plus the most recent scan",
	}, handler(t.catalogStats))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_recent_activity",
		Description: "Recent catalog events: discoveries, changes, claims, commits, failures and launches",
	}, handler(t.recentActivity))

	// Launching
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "reset_script",
		Description: "Forget that a launcher script was edited by hand so the next enrichment regenerates it",
	}, handler(t.resetScript))
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "launch_project",
		Description: "Start a project with its resolved launch command, or preview the command with dry_run",
	}, handler(t.launchProject))
}

func (t *tools) listProjects(ctx context.Context, in listProjectsInput) (any, error) {
	opts := project.ListOptions{
		Root:          in.Root,
		Dirty:         in.Dirty,
		FavoritesOnly: in.FavoritesOnly,
		IncludeHidden: in.IncludeHidden,
		Limit:         in.Limit,
		Offset:        in.Offset,
	}
	if in.Status != "" {
		st, err := project.ParseStatus(in.Status)
		if err != nil {
			return nil, err
		}
		opts.Statuses = []project.Status{st}
		opts.IncludeRemoved = st == project.StatusRemoved
	}
	refs, err := t.svc.Catalog.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"projects": refs, "count": len(refs)}, nil
}

func (t *tools) getProject(ctx context.Context, in projectIDInput) (any, error) {
	return t.svc.Catalog.Get(ctx, in.ID)
}

func (t *tools) searchProjects(ctx context.Context, in searchInput) (any, error) {
	results, err := t.svc.Catalog.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results, "count": len(results)}, nil
}

func (t *tools) setFavorite(ctx context.Context, in setFavoriteInput) (any, error) {
	p, err := t.svc.Catalog.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if err := t.svc.Catalog.SetFavorite(ctx, p.ID, in.Favorite); err != nil {
		return nil, err
	}
	return map[string]any{"id": p.ID, "is_favorite": in.Favorite}, nil
}

func (t *tools) setHidden(ctx context.Context, in setHiddenInput) (any, error) {
	p, err := t.svc.Catalog.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if err := t.svc.Catalog.SetHidden(ctx, p.ID, in.Hidden); err != nil {
		return nil, err
	}
	return map[string]any{"id": p.ID, "is_hidden": in.Hidden}, nil
}

func (t *tools) forceRescan(ctx context.Context, in forceRescanInput) (any, error) {
	if t.svc.Scheduler == nil {
		return nil, ErrUnavailable
	}
	kind := scheduler.KindQuick
	if in.Kind != "" {
		k, err := scheduler.ParseKind(in.Kind)
		if err != nil {
			return nil, err
		}
		if k == scheduler.KindEnrich {
			return nil, fmt.Errorf("%w: use force_enrich", scheduler.ErrUnknownKind)
		}
		kind = k
	}
	t.logger.Info("manual scan requested", "kind", kind, "session_id", getSessionID(ctx))
	ticket, err := t.svc.Scheduler.Trigger(ctx, kind, scheduler.TriggerManual)
	if err != nil {
		return nil, err
	}
	return waitTicket(ctx, ticket, in.Wait)
}

func (t *tools) forceEnrich(ctx context.Context, in forceEnrichInput) (any, error) {
	if t.svc.Scheduler == nil {
		return nil, ErrUnavailable
	}
	t.logger.Info("manual enrichment requested", "session_id", getSessionID(ctx))
	ticket, err := t.svc.Scheduler.Trigger(ctx, scheduler.KindEnrich, scheduler.TriggerManual)
	if err != nil {
		return nil, err
	}
	return waitTicket(ctx, ticket, in.Wait)
}

func (t *tools) markDirty(ctx context.Context, in markDirtyInput) (any, error) {
	if t.svc.Scheduler == nil {
		return nil, ErrUnavailable
	}
	switch {
	case in.All:
		if t.svc.Tracker == nil {
			return nil, ErrUnavailable
		}
		n, err := t.svc.Tracker.MarkAll(ctx)
		if err != nil {
			return nil, err
		}
		t.logger.Info("all projects marked dirty", "count", n, "session_id", getSessionID(ctx))
		ticket, err := t.svc.Scheduler.Trigger(ctx, scheduler.KindEnrich, scheduler.TriggerMarkDirty)
		if err != nil {
			return nil, err
		}
		return map[string]any{"marked": n, "sweep": ticketView(ticket)}, nil
	case strings.TrimSpace(in.ID) != "":
		id, err := t.resolveID(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		p, ticket, err := t.svc.Scheduler.MarkDirty(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"project": p.Ref(), "sweep": ticketView(ticket)}, nil
	default:
		return nil, fmt.Errorf("%w: id or all is required", project.ErrInvalidInput)
	}
}

func (t *tools) schedulerStatus(ctx context.Context, _ emptyInput) (any, error) {
	if t.svc.Scheduler == nil {
		return nil, ErrUnavailable
	}
	return t.svc.Scheduler.Status(ctx)
}

func (t *tools) scanHistory(ctx context.Context, in historyInput) (any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	sessions, err := t.svc.Sessions.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": sessions, "count": len(sessions)}, nil
}

func (t *tools) catalogStats(ctx context.Context, _ emptyInput) (any, error) {
	stats, err := t.svc.Catalog.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"catalog": stats}
	if t.svc.Sessions != nil {
		recent, err := t.svc.Sessions.History(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			out["last_scan"] = recent[0]
		}
	}
	return out, nil
}

func (t *tools) recentActivity(ctx context.Context, in recentActivityInput) (any, error) {
	opts := activity.ListActivityOptions{ProjectID: in.ProjectID, Limit: in.Limit}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	for _, typ := range in.Types {
		opts.ActivityTypes = append(opts.ActivityTypes, activity.ActivityType(typ))
	}
	entries, err := t.svc.Activity.GetRecentActivity(ctx, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"activity": entries, "count": len(entries)}, nil
}

func (t *tools) resetScript(ctx context.Context, in projectIDInput) (any, error) {
	if t.svc.Scripts == nil || t.svc.Scheduler == nil {
		return nil, ErrUnavailable
	}
	id, err := t.resolveID(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if err := t.svc.Scripts.Reset(ctx, id); err != nil {
		return nil, err
	}
	p, ticket, err := t.svc.Scheduler.MarkDirty(ctx, id)
	if err != nil {
		return nil, err
	}
	t.logger.Info("launcher script reset", "project_id", id, "session_id", getSessionID(ctx))
	return map[string]any{"project": p.Ref(), "sweep": ticketView(ticket)}, nil
}

func (t *tools) launchProject(ctx context.Context, in launchInput) (any, error) {
	if t.svc.Launcher == nil {
		return nil, ErrUnavailable
	}
	id, err := t.resolveID(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if in.DryRun {
		p, spec, err := t.svc.Launcher.Plan(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"project_id": p.ID,
			"command":    spec.Line,
			"dir":        spec.Dir,
			"method":     spec.Method,
			"dry_run":    true,
		}, nil
	}
	h, err := t.svc.Launcher.Launch(ctx, id)
	if err != nil {
		return nil, err
	}
	t.logger.Info("project launched", "project_id", id, "pid", h.PID, "session_id", getSessionID(ctx))
	return h, nil
}

// resolveID accepts either an ID or an absolute path.
func (t *tools) resolveID(ctx context.Context, idOrPath string) (string, error) {
	if !strings.HasPrefix(idOrPath, "/") {
		return idOrPath, nil
	}
	p, err := t.svc.Catalog.Get(ctx, idOrPath)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func ticketView(t scheduler.Ticket) ticketOutput {
	return ticketOutput{Kind: t.Kind, Started: t.Started, Coalesced: t.Coalesced}
}

func waitTicket(ctx context.Context, t scheduler.Ticket, wait bool) (any, error) {
	out := ticketView(t)
	if !wait {
		return out, nil
	}
	res, err := t.Wait(ctx)
	if err != nil {
		return nil, err
	}
	out.Result = &res
	return out, nil
}
