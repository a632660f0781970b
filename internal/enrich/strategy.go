package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/inference"
	"github.com/Jagard11/Launcher/internal/launch"
)

// Outcome is a strategy's proposal. Every strategy returns the same shape.
type Outcome struct {
	Method      project.LaunchMethod `json:"method"`
	Command     string               `json:"command,omitempty"`
	WorkingDir  string               `json:"working_dir,omitempty"`
	MainScript  string               `json:"main_script,omitempty"`
	Confidence  *float64             `json:"confidence,omitempty"`
	Notes       string               `json:"notes,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Input is shared by the strategies of one chain run.
type Input struct {
	Project *project.Project
	Context inference.ProjectContext

	primaryErr error
}

// aiDown reports whether the primary call showed the backend to be unreachable
// or too slow, in which case further inference calls for this project are skipped.
func (in *Input) aiDown() bool {
	return inference.IsTransient(in.primaryErr)
}

// Strategy proposes a launch command. It returns ErrNoStrategy, wrapped, when it
// has nothing to offer, or the error that stopped it.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, in *Input) (*Outcome, error)
}

// Attempt is one strategy's result within a chain run.
type Attempt struct {
	Strategy string `json:"strategy"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Chain tries strategies in order and returns the first outcome.
type Chain []Strategy

// Resolve runs the chain. It only returns an error when ctx ends.
func (c Chain) Resolve(ctx context.Context, in *Input) (*Outcome, []Attempt, error) {
	attempts := make([]Attempt, 0, len(c))
	for _, s := range c {
		out, err := s.Resolve(ctx, in)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		if err == nil {
			attempts = append(attempts, Attempt{Strategy: s.Name()})
			return out, attempts, nil
		}
		attempts = append(attempts, Attempt{Strategy: s.Name(), Kind: failureKind(err), Error: err.Error()})
	}
	return nil, attempts, fmt.Errorf("%w: chain exhausted", ErrNoStrategy)
}

// CustomScript returns the user's own launcher script when one exists.
type CustomScript struct {
	Scripts *ScriptWriter
}

func (CustomScript) Name() string { return string(project.MethodCustomScript) }

func (s CustomScript) Resolve(_ context.Context, in *Input) (*Outcome, error) {
	if s.Scripts == nil {
		return nil, fmt.Errorf("%w: no scripts directory", ErrNoStrategy)
	}
	modified, err := s.Scripts.UserModified(in.Project)
	if err != nil {
		return nil, err
	}
	if !modified {
		return nil, fmt.Errorf("%w: no user-edited script", ErrNoStrategy)
	}
	conf := 1.0
	path := s.Scripts.Path(in.Project)
	return &Outcome{
		Method:     project.MethodCustomScript,
		Command:    "bash " + launch.Quote(path),
		WorkingDir: in.Project.Path,
		Confidence: &conf,
		Notes:      "user-edited launcher script " + path,
	}, nil
}

// AIPrimary asks the model for a launch command.
type AIPrimary struct {
	Analyzer inference.Analyzer
}

func (AIPrimary) Name() string { return string(project.MethodAIPrimary) }

func (s AIPrimary) Resolve(ctx context.Context, in *Input) (*Outcome, error) {
	res, err := analyzeLaunch(ctx, s.Analyzer, inference.KindLaunch, in.Context)
	in.primaryErr = err
	if err != nil {
		return nil, err
	}
	return launchOutcome(project.MethodAIPrimary, in.Project.Path, res), nil
}

// AIAlternative asks a narrower question when the primary answer could not be
// used. It does not run when the backend itself is failing.
type AIAlternative struct {
	Analyzer inference.Analyzer
}

func (AIAlternative) Name() string { return string(project.MethodAIAlternative) }

func (s AIAlternative) Resolve(ctx context.Context, in *Input) (*Outcome, error) {
	if !errors.Is(in.primaryErr, inference.ErrMalformed) {
		return nil, fmt.Errorf("%w: primary answer was not malformed", ErrNoStrategy)
	}
	res, err := analyzeLaunch(ctx, s.Analyzer, inference.KindAlternative, in.Context)
	if err != nil {
		return nil, err
	}
	return launchOutcome(project.MethodAIAlternative, in.Project.Path, res), nil
}

// Heuristic reads the project layout.
type Heuristic struct{}

func (Heuristic) Name() string { return string(project.MethodHeuristic) }

func (Heuristic) Resolve(_ context.Context, in *Input) (*Outcome, error) {
	g, ok := HeuristicGuess(in.Context)
	if !ok {
		return nil, fmt.Errorf("%w: no recognizable entry point", ErrNoStrategy)
	}
	conf := g.Confidence
	return &Outcome{
		Method:     project.MethodHeuristic,
		Command:    g.Command,
		WorkingDir: in.Project.Path,
		MainScript: g.MainScript,
		Confidence: &conf,
		Notes:      "derived from project layout (" + g.LaunchType + ")",
	}, nil
}

// Unresolved always answers, with no command.
type Unresolved struct{}

func (Unresolved) Name() string { return string(project.MethodUnresolved) }

func (Unresolved) Resolve(context.Context, *Input) (*Outcome, error) {
	return &Outcome{Method: project.MethodUnresolved}, nil
}

// DefaultChain builds the standard fallback order. A nil analyzer leaves the AI
// strategies out.
func DefaultChain(analyzer inference.Analyzer, scripts *ScriptWriter) Chain {
	chain := Chain{CustomScript{Scripts: scripts}}
	if analyzer != nil {
		chain = append(chain, AIPrimary{Analyzer: analyzer}, AIAlternative{Analyzer: analyzer})
	}
	return append(chain, Heuristic{}, Unresolved{})
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, inference.ErrTimeout):
		return "timeout"
	case errors.Is(err, inference.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, inference.ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrNoStrategy):
		return "not_applicable"
	default:
		return "error"
	}
}

func analyzeLaunch(ctx context.Context, a inference.Analyzer, kind inference.RequestKind, pc inference.ProjectContext) (*inference.LaunchResult, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no analyzer", ErrNoStrategy)
	}
	text, err := a.Analyze(ctx, inference.Request{Kind: kind, Context: pc})
	if err != nil {
		return nil, err
	}
	return inference.ParseLaunch(text)
}

func launchOutcome(method project.LaunchMethod, root string, res *inference.LaunchResult) *Outcome {
	notes := res.Notes
	if len(res.Alternatives) > 0 {
		alts := make([]string, 0, len(res.Alternatives))
		for _, a := range res.Alternatives {
			alts = append(alts, fmt.Sprintf("%s (%.2f)", a.Command, a.Confidence))
		}
		if notes != "" {
			notes += "; "
		}
		notes += "alternatives: " + strings.Join(alts, ", ")
	}
	main := res.MainScript
	if main == "unknown" {
		main = ""
	}
	return &Outcome{
		Method:      method,
		Command:     res.LaunchCommand,
		WorkingDir:  workingDir(root, res.WorkingDirectory),
		MainScript:  main,
		Confidence:  res.Confidence,
		Notes:       notes,
		Description: strings.TrimSpace(res.Description),
	}
}

// workingDir resolves a model-proposed directory against the project root. A
// directory outside the project is ignored.
func workingDir(root, dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" || dir == "." {
		return root
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return root
	}
	return dir
}
