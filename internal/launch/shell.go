package launch

import (
	"fmt"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/project"
)

// pythonTools are the leading words that need the environment's run wrapper
// under poetry and pipenv.
var pythonTools = map[string]bool{
	"python":    true,
	"python3":   true,
	"pip":       true,
	"streamlit": true,
	"gradio":    true,
	"uvicorn":   true,
	"flask":     true,
	"jupyter":   true,
}

// Quote single-quotes s for bash.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// activation returns the lines that enter env, or nil when nothing is needed.
func activation(env project.Environment) []string {
	switch env.Kind {
	case "conda":
		if env.Name == "" {
			return nil
		}
		return []string{
			`eval "$(conda shell.bash hook)"`,
			"conda activate " + Quote(env.Name),
		}
	case "venv":
		if env.Activate == "" {
			return nil
		}
		return []string{"source " + Quote(env.Activate)}
	}
	return nil
}

// wrap prefixes python-ish commands with the environment's runner.
func wrap(env project.Environment, command string) string {
	var runner string
	switch env.Kind {
	case "poetry":
		runner = "poetry run "
	case "pipenv":
		runner = "pipenv run "
	default:
		return command
	}
	if strings.HasPrefix(command, runner) {
		return command
	}
	first, _, _ := strings.Cut(command, " ")
	if !pythonTools[first] {
		return command
	}
	return runner + command
}

// Command returns a single shell line that runs command inside env from dir.
func Command(env project.Environment, dir, command string) string {
	parts := make([]string, 0, 4)
	if dir != "" {
		parts = append(parts, "cd "+Quote(dir))
	}
	parts = append(parts, activation(env)...)
	parts = append(parts, wrap(env, command))
	return strings.Join(parts, " && ")
}

// ScriptSpec is everything rendered into a launcher script.
type ScriptSpec struct {
	Name        string
	Dir         string
	Command     string
	Environment project.Environment
	Method      project.LaunchMethod
	Confidence  *float64
}

// Script renders a bash launcher script.
func Script(spec ScriptSpec) string {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	fmt.Fprintf(&b, "# Launcher for %s\n", spec.Name)
	if spec.Confidence != nil {
		fmt.Fprintf(&b, "# Generated from the %s command (confidence %.2f).\n", spec.Method, *spec.Confidence)
	} else {
		fmt.Fprintf(&b, "# Generated from the %s command.\n", spec.Method)
	}
	b.WriteString("# Edit freely: a modified script is never regenerated.\n\n")
	fmt.Fprintf(&b, "cd %s || exit 1\n", Quote(spec.Dir))
	for _, line := range activation(spec.Environment) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(wrap(spec.Environment, spec.Command))
	b.WriteByte('\n')
	return b.String()
}
