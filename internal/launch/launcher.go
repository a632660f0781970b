// Package launch turns a catalog record into a running process.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/metrics"
	"github.com/Jagard11/Launcher/internal/repository"
)

// DefaultMinConfidence is the launch confidence below which the stored command
// is not trusted and the heuristic is asked instead.
const DefaultMinConfidence = 0.3

var (
	// ErrNoCommand means neither a stored command, a script nor the fallback
	// produced anything to run.
	ErrNoCommand = errors.New("no launch command available")
)

// Spec is a resolved launch.
type Spec struct {
	Dir    string
	Line   string
	Method project.LaunchMethod
}

// Handle identifies a spawned process.
type Handle struct {
	ProjectID string               `json:"project_id"`
	PID       int                  `json:"pid"`
	Line      string               `json:"command"`
	Method    project.LaunchMethod `json:"method"`
	StartedAt time.Time            `json:"started_at"`
}

// Spawner starts a process for a resolved launch.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (int, error)
}

// ScriptLocator knows where a project's launcher script lives.
type ScriptLocator interface {
	Path(p *project.Project) string
}

// FallbackFunc proposes a command when the stored one is missing or weak.
type FallbackFunc func(p *project.Project) (string, bool)

// Deps are the launcher's collaborators. Scripts, Fallback and Activity are optional.
type Deps struct {
	Projects project.Repository
	Activity *activity.Service
	Spawner  Spawner
	Scripts  ScriptLocator
	Fallback FallbackFunc
	Logger   *slog.Logger
}

// Launcher resolves and starts project launches.
type Launcher struct {
	projects      project.Repository
	activity      *activity.Service
	spawner       Spawner
	scripts       ScriptLocator
	fallback      FallbackFunc
	minConfidence float64
	logger        *slog.Logger
}

// NewLauncher creates a Launcher. A non-positive minConfidence uses DefaultMinConfidence.
func NewLauncher(deps Deps, minConfidence float64) *Launcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	spawner := deps.Spawner
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Launcher{
		projects:      deps.Projects,
		activity:      deps.Activity,
		spawner:       spawner,
		scripts:       deps.Scripts,
		fallback:      deps.Fallback,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Plan resolves what Launch would run without starting anything.
func (l *Launcher) Plan(ctx context.Context, id string) (*project.Project, *Spec, error) {
	p, err := l.projects.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, project.ErrProjectNotFound
		}
		return nil, nil, fmt.Errorf("getting project: %w", err)
	}
	if p.Removed() {
		return nil, nil, project.ErrProjectRemoved
	}

	if l.scripts != nil {
		path := l.scripts.Path(p)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return p, &Spec{Dir: p.Path, Line: "bash " + Quote(path), Method: project.MethodCustomScript}, nil
		}
	}

	dir := p.Path
	if p.LaunchWorkingDir != nil && *p.LaunchWorkingDir != "" {
		dir = *p.LaunchWorkingDir
	}

	if p.LaunchCommand != nil && *p.LaunchCommand != "" {
		trusted := p.LaunchConfidence != nil && *p.LaunchConfidence >= l.minConfidence
		if trusted || p.LaunchMethod == project.MethodCustomScript {
			return p, &Spec{Dir: dir, Line: Command(p.Environment, dir, *p.LaunchCommand), Method: p.LaunchMethod}, nil
		}
	}

	if l.fallback != nil {
		if cmd, ok := l.fallback(p); ok {
			return p, &Spec{Dir: p.Path, Line: Command(p.Environment, p.Path, cmd), Method: project.MethodHeuristic}, nil
		}
	}

	// A weak stored command still beats nothing.
	if p.LaunchCommand != nil && *p.LaunchCommand != "" {
		return p, &Spec{Dir: dir, Line: Command(p.Environment, dir, *p.LaunchCommand), Method: p.LaunchMethod}, nil
	}
	return p, nil, ErrNoCommand
}

// Launch starts the project and records the launch.
func (l *Launcher) Launch(ctx context.Context, id string) (*Handle, error) {
	p, spec, err := l.Plan(ctx, id)
	if err != nil {
		if p != nil {
			metrics.Launches.WithLabelValues("none", "failed").Inc()
		}
		return nil, err
	}

	logger := l.logger.With("project_id", p.ID, "path", p.Path, "method", spec.Method)
	pid, err := l.spawner.Spawn(ctx, *spec)
	if err != nil {
		metrics.Launches.WithLabelValues(string(spec.Method), "failed").Inc()
		logger.Error("launch failed", "error", err)
		return nil, fmt.Errorf("spawning launch: %w", err)
	}
	metrics.Launches.WithLabelValues(string(spec.Method), "started").Inc()
	logger.Info("project launched", "pid", pid)

	h := &Handle{
		ProjectID: p.ID,
		PID:       pid,
		Line:      spec.Line,
		Method:    spec.Method,
		StartedAt: time.Now().UTC(),
	}
	if l.activity != nil {
		l.activity.Record(ctx, activity.ActivityEntry{
			ProjectID:    p.ID,
			ActivityType: activity.TypeLaunched,
			Summary:      fmt.Sprintf("launched with %s", spec.Method),
		}, h)
	}
	return h, nil
}

// ExecSpawner runs the launch line with bash. The child outlives the request
// that started it; a goroutine reaps it.
type ExecSpawner struct {
	Logger *slog.Logger
}

// Spawn starts the process.
func (s ExecSpawner) Spawn(_ context.Context, spec Spec) (int, error) {
	cmd := exec.Command("bash", "-c", spec.Line)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		if s.Logger != nil {
			s.Logger.Debug("launched process exited", "pid", pid, "error", err)
		}
	}()
	return pid, nil
}
