package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/mcp"
	"github.com/Jagard11/Launcher/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config wires the HTTP surface.
type Config struct {
	Services mcp.Services
	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
	// Auth guards /api and /mcp. Health and metrics stay open.
	Auth   func(http.Handler) http.Handler
	Logger *slog.Logger
}

// Server holds the REST handlers.
type Server struct {
	svc    mcp.Services
	logger *slog.Logger
}

// NewServer creates the HTTP router: REST read API, trigger endpoints,
// metrics, health and the optional MCP endpoint.
func NewServer(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := &Server{svc: cfg.Services, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/health", srv.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/projects", srv.handleListProjects)
			r.Get("/projects/search", srv.handleSearch)
			r.Post("/projects/dirty", srv.handleMarkAll)
			r.Get("/projects/{id}", srv.handleGetProject)
			r.Post("/projects/{id}/dirty", srv.handleMarkDirty)
			r.Post("/projects/{id}/launch", srv.handleLaunch)
			r.Post("/scan", srv.handleScan)
			r.Post("/enrich", srv.handleEnrich)
			r.Get("/scheduler", srv.handleSchedulerStatus)
			r.Get("/sessions", srv.handleSessions)
			r.Get("/stats", srv.handleStats)
			r.Get("/activity", srv.handleActivity)
		})

		if cfg.MCP != nil {
			r.Handle("/mcp", cfg.MCP)
			r.Handle("/mcp/*", cfg.MCP)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := project.ListOptions{
		Root:          q.Get("root"),
		FavoritesOnly: q.Get("favorites") == "true",
		IncludeHidden: q.Get("hidden") == "true",
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		WriteError(w, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		WriteError(w, err)
		return
	}
	if v := q.Get("dirty"); v != "" {
		dirty, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, fmt.Errorf("%w: dirty must be true or false", project.ErrInvalidInput))
			return
		}
		opts.Dirty = &dirty
	}
	if v := q.Get("status"); v != "" {
		st, err := project.ParseStatus(v)
		if err != nil {
			WriteError(w, err)
			return
		}
		opts.Statuses = []project.Status{st}
		opts.IncludeRemoved = st == project.StatusRemoved
	}

	refs, err := s.svc.Catalog.List(r.Context(), opts)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, map[string]any{"projects": refs, "count": len(refs)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		WriteError(w, err)
		return
	}
	results, err := s.svc.Catalog.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, p)
}

func (s *Server) handleMarkDirty(w http.ResponseWriter, r *http.Request) {
	if s.svc.Scheduler == nil {
		WriteError(w, fmt.Errorf("%w: scheduler", mcp.ErrUnavailable))
		return
	}
	p, ticket, err := s.svc.Scheduler.MarkDirty(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, map[string]any{"project": p.Ref(), "sweep": ticket})
}

func (s *Server) handleMarkAll(w http.ResponseWriter, r *http.Request) {
	if s.svc.Scheduler == nil || s.svc.Tracker == nil {
		WriteError(w, fmt.Errorf("%w: scheduler", mcp.ErrUnavailable))
		return
	}
	n, err := s.svc.Tracker.MarkAll(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	ticket, err := s.svc.Scheduler.Trigger(r.Context(), scheduler.KindEnrich, scheduler.TriggerMarkDirty)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, map[string]any{"marked": n, "sweep": ticket})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	kind := scheduler.KindQuick
	if v := r.URL.Query().Get("kind"); v != "" {
		k, err := scheduler.ParseKind(v)
		if err != nil || k == scheduler.KindEnrich {
			WriteError(w, fmt.Errorf("%w: kind must be quick or full", project.ErrInvalidInput))
			return
		}
		kind = k
	}
	s.trigger(w, r, kind)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, scheduler.KindEnrich)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, kind scheduler.Kind) {
	if s.svc.Scheduler == nil {
		WriteError(w, fmt.Errorf("%w: scheduler", mcp.ErrUnavailable))
		return
	}
	ticket, err := s.svc.Scheduler.Trigger(r.Context(), kind, scheduler.TriggerManual)
	if err != nil {
		WriteError(w, err)
		return
	}
	out := map[string]any{"kind": ticket.Kind, "started": ticket.Started, "coalesced": ticket.Coalesced}
	if r.URL.Query().Get("wait") == "true" {
		res, err := ticket.Wait(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		out["result"] = res
	}
	WriteResult(w, out)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.svc.Scheduler == nil {
		WriteError(w, fmt.Errorf("%w: scheduler", mcp.ErrUnavailable))
		return
	}
	st, err := s.svc.Scheduler.Status(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, st)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if limit <= 0 {
		limit = 20
	}
	sessions, err := s.svc.Sessions.History(r.Context(), limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Catalog.Stats(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, stats)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if limit <= 0 {
		limit = 50
	}
	opts := activity.ListActivityOptions{ProjectID: q.Get("project_id"), Limit: limit}
	for _, typ := range q["type"] {
		opts.ActivityTypes = append(opts.ActivityTypes, activity.ActivityType(typ))
	}
	entries, err := s.svc.Activity.GetRecentActivity(r.Context(), opts)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteResult(w, map[string]any{"activity": entries, "count": len(entries)})
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.svc.Launcher == nil {
		WriteError(w, fmt.Errorf("%w: launcher", mcp.ErrUnavailable))
		return
	}
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("dry_run") == "true" {
		p, spec, err := s.svc.Launcher.Plan(r.Context(), id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteResult(w, map[string]any{
			"project_id": p.ID,
			"command":    spec.Line,
			"dir":        spec.Dir,
			"method":     spec.Method,
			"dry_run":    true,
		})
		return
	}
	h, err := s.svc.Launcher.Launch(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	s.logger.Info("project launched over http", "project_id", h.ProjectID, "pid", h.PID)
	WriteResult(w, h)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", project.ErrInvalidInput, v)
	}
	return n, nil
}
