package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/launch"
	"github.com/Jagard11/Launcher/internal/metrics"
	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/cespare/xxhash/v2"
)

// SafeName keeps ASCII letters, digits, '-' and '_' and replaces everything
// else with '_'.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}

func contentHash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// ScriptWriter materializes launcher scripts for committed projects. A script
// that a person has edited is never overwritten: an edit is detected by the
// file no longer matching the hash of the last generated version.
type ScriptWriter struct {
	dir      string
	projects project.Repository
	activity *activity.Service
	logger   *slog.Logger
}

// NewScriptWriter creates a ScriptWriter writing into dir.
func NewScriptWriter(dir string, projects project.Repository, act *activity.Service, logger *slog.Logger) *ScriptWriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ScriptWriter{dir: dir, projects: projects, activity: act, logger: logger}
}

// Dir returns the scripts directory.
func (w *ScriptWriter) Dir() string {
	return w.dir
}

// Path returns where the project's script lives.
func (w *ScriptWriter) Path(p *project.Project) string {
	id := strings.ReplaceAll(p.ID, "-", "")
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return filepath.Join(w.dir, SafeName(p.Name)+"-"+id+".sh")
}

// UserModified reports whether the project's script has been edited by hand,
// either as already recorded or as found on disk now.
func (w *ScriptWriter) UserModified(p *project.Project) (bool, error) {
	if p.ScriptUserModified {
		return true, nil
	}
	data, err := os.ReadFile(w.Path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading launcher script: %w", err)
	}
	return p.ScriptHash == nil || contentHash(data) != *p.ScriptHash, nil
}

// Materialize writes or refreshes the script for a committed project. It
// reports whether a file was written.
func (w *ScriptWriter) Materialize(ctx context.Context, p *project.Project) (bool, error) {
	if p.LaunchCommand == nil || *p.LaunchCommand == "" {
		return false, nil
	}

	path := w.Path(p)
	logger := w.logger.With("project_id", p.ID, "script", path)

	modified, err := w.UserModified(p)
	if err != nil {
		metrics.ScriptsWritten.WithLabelValues("error").Inc()
		return false, err
	}
	if modified {
		if !p.ScriptUserModified {
			if err := w.projects.SetScriptState(ctx, p.ID, p.ScriptHash, true); err != nil {
				return false, fmt.Errorf("marking script as user-modified: %w", err)
			}
			logger.Info("launcher script edited by hand; it will no longer be regenerated")
		}
		metrics.ScriptsWritten.WithLabelValues("skipped").Inc()
		w.record(ctx, p.ID, activity.TypeScriptSkipped, "kept user-edited launcher script", path)
		return false, nil
	}
	if p.LaunchMethod == project.MethodCustomScript || p.LaunchMethod == project.MethodUnresolved {
		return false, nil
	}

	dir := p.Path
	if p.LaunchWorkingDir != nil && *p.LaunchWorkingDir != "" {
		dir = *p.LaunchWorkingDir
	}
	content := []byte(launch.Script(launch.ScriptSpec{
		Name:        p.Name,
		Dir:         dir,
		Command:     *p.LaunchCommand,
		Environment: p.Environment,
		Method:      p.LaunchMethod,
		Confidence:  p.LaunchConfidence,
	}))
	hash := contentHash(content)
	if p.ScriptHash != nil && *p.ScriptHash == hash {
		metrics.ScriptsWritten.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	if err := writeFileAtomic(path, content, 0o755); err != nil {
		metrics.ScriptsWritten.WithLabelValues("error").Inc()
		return false, fmt.Errorf("writing launcher script: %w", err)
	}
	if err := w.projects.SetScriptState(ctx, p.ID, &hash, false); err != nil {
		if errors.Is(err, repository.ErrTombstoned) {
			_ = os.Remove(path)
		}
		return false, fmt.Errorf("recording script hash: %w", err)
	}

	metrics.ScriptsWritten.WithLabelValues("written").Inc()
	logger.Debug("launcher script written")
	w.record(ctx, p.ID, activity.TypeScriptWritten, "launcher script written", path)
	return true, nil
}

// Reset drops the user-modified marker. The file currently on disk becomes the
// baseline, so the next enrichment regenerates it.
func (w *ScriptWriter) Reset(ctx context.Context, id string) error {
	p, err := w.projects.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return project.ErrProjectNotFound
		}
		return fmt.Errorf("getting project: %w", err)
	}
	if p.Removed() {
		return project.ErrProjectRemoved
	}

	var hash *string
	data, err := os.ReadFile(w.Path(p))
	switch {
	case err == nil:
		h := contentHash(data)
		hash = &h
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading launcher script: %w", err)
	}

	if err := w.projects.SetScriptState(ctx, id, hash, false); err != nil {
		return fmt.Errorf("resetting script state: %w", err)
	}
	w.logger.Info("launcher script reset", "project_id", id)
	return nil
}

func (w *ScriptWriter) record(ctx context.Context, id string, typ activity.ActivityType, summary, path string) {
	if w.activity == nil {
		return
	}
	w.activity.Record(ctx, activity.ActivityEntry{ProjectID: id, ActivityType: typ, Summary: summary},
		map[string]string{"path": path})
}

func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".launcher-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
