package launch

import (
	"strings"
	"testing"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	require.Equal(t, "/srv/demo/app.py", Quote("/srv/demo/app.py"))
	require.Equal(t, "'/srv/my demo'", Quote("/srv/my demo"))
	require.Equal(t, `'it'\''s'`, Quote("it's"))
	require.Equal(t, "''", Quote(""))
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name string
		env  project.Environment
		cmd  string
		want string
	}{
		{
			name: "no environment",
			env:  project.Environment{Kind: "none"},
			cmd:  "python app.py",
			want: "cd /srv/demo && python app.py",
		},
		{
			name: "conda",
			env:  project.Environment{Kind: "conda", Name: "ml"},
			cmd:  "python app.py",
			want: `cd /srv/demo && eval "$(conda shell.bash hook)" && conda activate ml && python app.py`,
		},
		{
			name: "venv",
			env:  project.Environment{Kind: "venv", Activate: "/srv/demo/.venv/bin/activate"},
			cmd:  "streamlit run app.py",
			want: "cd /srv/demo && source /srv/demo/.venv/bin/activate && streamlit run app.py",
		},
		{
			name: "poetry wraps python",
			env:  project.Environment{Kind: "poetry"},
			cmd:  "python main.py",
			want: "cd /srv/demo && poetry run python main.py",
		},
		{
			name: "poetry leaves docker alone",
			env:  project.Environment{Kind: "poetry"},
			cmd:  "docker compose up",
			want: "cd /srv/demo && docker compose up",
		},
		{
			name: "pipenv not doubled",
			env:  project.Environment{Kind: "pipenv"},
			cmd:  "pipenv run python app.py",
			want: "cd /srv/demo && pipenv run python app.py",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Command(tt.env, "/srv/demo", tt.cmd))
		})
	}
}

func TestScript(t *testing.T) {
	conf := 0.8
	out := Script(ScriptSpec{
		Name:        "demo",
		Dir:         "/srv/demo",
		Command:     "streamlit run app.py",
		Environment: project.Environment{Kind: "conda", Name: "ml"},
		Method:      project.MethodHeuristic,
		Confidence:  &conf,
	})
	require.True(t, strings.HasPrefix(out, "#!/usr/bin/env bash\n"))
	require.Contains(t, out, "confidence 0.80")
	require.Contains(t, out, "cd /srv/demo || exit 1\n")
	require.Contains(t, out, "conda activate ml\n")
	require.True(t, strings.HasSuffix(out, "streamlit run app.py\n"))
}
