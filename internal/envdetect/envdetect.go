// Package envdetect resolves which interpreter environment a project expects.
package envdetect

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment kinds
const (
	KindConda        = "conda"
	KindVenv         = "venv"
	KindPoetry       = "poetry"
	KindPipenv       = "pipenv"
	KindRequirements = "requirements"
	KindNone         = "none"
	KindUnknown      = "unknown"
)

var (
	condaFiles = []string{"environment.yml", "environment.yaml", "conda.yml", "conda.yaml"}
	venvDirs   = []string{"venv", ".venv", "env", ".env", "virtualenv"}
)

// detector returns ok=false when it does not apply; an error aborts resolution.
type detector func(dir string) (project.Environment, bool, error)

// Resolver tries each detector in preference order. Resolve never fails: a
// directory that cannot be inspected resolves to KindUnknown.
type Resolver struct {
	detectors []detector
	logger    *slog.Logger
}

// NewResolver creates a Resolver with the default detector order:
// conda, venv, poetry, pipenv, requirements.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		detectors: []detector{detectConda, detectVenv, detectPoetry, detectPipenv, detectRequirements},
		logger:    logger,
	}
}

// Resolve returns the environment descriptor for dir.
func (r *Resolver) Resolve(dir string) project.Environment {
	if _, err := os.Stat(dir); err != nil {
		r.logger.Warn("cannot inspect project environment", "path", dir, "error", err)
		return project.Environment{Kind: KindUnknown}
	}

	for _, detect := range r.detectors {
		env, ok, err := detect(dir)
		if err != nil {
			r.logger.Warn("environment detection failed", "path", dir, "error", err)
			return project.Environment{Kind: KindUnknown}
		}
		if ok {
			return env
		}
	}
	return project.Environment{Kind: KindNone}
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

type condaFile struct {
	Name string `yaml:"name"`
}

func detectConda(dir string) (project.Environment, bool, error) {
	for _, name := range condaFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return project.Environment{}, false, err
		}

		var cf condaFile
		if err := yaml.Unmarshal(data, &cf); err != nil || cf.Name == "" {
			// A conda file without a usable name cannot be activated by name.
			continue
		}
		return project.Environment{Kind: KindConda, Name: cf.Name, Activate: cf.Name}, true, nil
	}
	return project.Environment{}, false, nil
}

func detectVenv(dir string) (project.Environment, bool, error) {
	for _, name := range venvDirs {
		for _, activate := range []string{
			filepath.Join(dir, name, "bin", "activate"),
			filepath.Join(dir, name, "Scripts", "activate"),
		} {
			ok, err := exists(activate)
			if err != nil {
				return project.Environment{}, false, err
			}
			if ok {
				return project.Environment{Kind: KindVenv, Name: name, Activate: activate}, true, nil
			}
		}
	}
	return project.Environment{}, false, nil
}

type pyproject struct {
	Tool struct {
		Poetry *struct {
			Name string `toml:"name"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func detectPoetry(dir string) (project.Environment, bool, error) {
	path := filepath.Join(dir, "pyproject.toml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return project.Environment{}, false, nil
	}
	if err != nil {
		return project.Environment{}, false, err
	}

	var pp pyproject
	if err := toml.Unmarshal(data, &pp); err != nil || pp.Tool.Poetry == nil {
		return project.Environment{}, false, nil
	}
	name := pp.Tool.Poetry.Name
	if name == "" {
		name = "poetry-env"
	}
	return project.Environment{Kind: KindPoetry, Name: name, Activate: path}, true, nil
}

func detectPipenv(dir string) (project.Environment, bool, error) {
	path := filepath.Join(dir, "Pipfile")
	ok, err := exists(path)
	if err != nil || !ok {
		return project.Environment{}, false, err
	}
	return project.Environment{Kind: KindPipenv, Name: "pipenv-env", Activate: path}, true, nil
}

func detectRequirements(dir string) (project.Environment, bool, error) {
	path := filepath.Join(dir, "requirements.txt")
	ok, err := exists(path)
	if err != nil || !ok {
		return project.Environment{}, false, err
	}
	return project.Environment{Kind: KindRequirements, Name: "system-python"}, true, nil
}
