package envdetect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  func(dir string) project.Environment
	}{
		{
			name:  "conda by environment file name",
			files: map[string]string{"environment.yml": "name: sd-webui\ndependencies:\n  - python=3.10\n"},
			want: func(string) project.Environment {
				return project.Environment{Kind: KindConda, Name: "sd-webui", Activate: "sd-webui"}
			},
		},
		{
			name: "conda file without name falls through",
			files: map[string]string{
				"environment.yml":  "dependencies: []\n",
				"requirements.txt": "torch\n",
			},
			want: func(string) project.Environment {
				return project.Environment{Kind: KindRequirements, Name: "system-python"}
			},
		},
		{
			name:  "venv with activate script",
			files: map[string]string{"venv/bin/activate": "# activate"},
			want: func(dir string) project.Environment {
				return project.Environment{Kind: KindVenv, Name: "venv", Activate: filepath.Join(dir, "venv", "bin", "activate")}
			},
		},
		{
			name:  "venv directory without activate is ignored",
			files: map[string]string{"venv/lib/x": ""},
			want: func(string) project.Environment {
				return project.Environment{Kind: KindNone}
			},
		},
		{
			name:  "poetry",
			files: map[string]string{"pyproject.toml": "[tool.poetry]\nname = \"chatbot\"\nversion = \"0.1.0\"\n"},
			want: func(dir string) project.Environment {
				return project.Environment{Kind: KindPoetry, Name: "chatbot", Activate: filepath.Join(dir, "pyproject.toml")}
			},
		},
		{
			name: "pyproject without poetry section",
			files: map[string]string{
				"pyproject.toml": "[project]\nname = \"plain\"\n",
				"Pipfile":        "[packages]\n",
			},
			want: func(dir string) project.Environment {
				return project.Environment{Kind: KindPipenv, Name: "pipenv-env", Activate: filepath.Join(dir, "Pipfile")}
			},
		},
		{
			name: "conda wins over venv",
			files: map[string]string{
				"conda.yaml":         "name: base-env\n",
				".venv/bin/activate": "",
			},
			want: func(string) project.Environment {
				return project.Environment{Kind: KindConda, Name: "base-env", Activate: "base-env"}
			},
		},
		{
			name:  "nothing detected",
			files: map[string]string{"app.py": ""},
			want: func(string) project.Environment {
				return project.Environment{Kind: KindNone}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				write(t, filepath.Join(dir, name), content)
			}
			got := NewResolver(nil).Resolve(dir)
			require.Equal(t, tt.want(dir), got)
		})
	}
}

func TestResolve_FailsSoft(t *testing.T) {
	got := NewResolver(nil).Resolve(filepath.Join(t.TempDir(), "gone"))
	require.Equal(t, KindUnknown, got.Kind)
}
