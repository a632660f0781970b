package enrich

import (
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/inference"
)

// EntryScripts are the main script names tried in order.
var EntryScripts = []string{"app.py", "main.py", "run.py", "start.py", "launch.py", "webui.py", "server.py"}

// Guess is a heuristic launch proposal.
type Guess struct {
	MainScript string  `json:"main_script,omitempty"`
	Command    string  `json:"command"`
	LaunchType string  `json:"launch_type"`
	Confidence float64 `json:"confidence"`
}

// HeuristicGuess derives a launch command from the project layout alone. ok is false
// when nothing in the layout looks like an entry point.
func HeuristicGuess(pc inference.ProjectContext) (Guess, bool) {
	main := pickMainScript(pc.PythonFiles)

	launchType := "python_script"
	switch {
	case requires(pc.Requirements, "gradio"):
		launchType = "gradio_app"
	case requires(pc.Requirements, "streamlit"):
		launchType = "streamlit_app"
	case requires(pc.Requirements, "flask"):
		launchType = "flask_app"
	case requires(pc.Requirements, "fastapi"):
		launchType = "fastapi_app"
	case pc.Dockerfile || pc.Compose:
		launchType = "docker"
	case pc.Makefile:
		launchType = "makefile"
	case len(pc.Scripts) > 0:
		launchType = "shell_script"
	}

	switch launchType {
	case "docker":
		if pc.Compose {
			return Guess{MainScript: main, Command: "docker-compose up", LaunchType: launchType, Confidence: 0.7}, true
		}
		tag := SafeName(strings.ToLower(pc.Name))
		return Guess{
			MainScript: main,
			Command:    "docker build -t " + tag + " . && docker run --rm -p 8080:8080 " + tag,
			LaunchType: launchType,
			Confidence: 0.7,
		}, true
	case "makefile":
		return Guess{MainScript: main, Command: "make run", LaunchType: launchType, Confidence: 0.6}, true
	case "shell_script":
		script := pc.Scripts[0]
		return Guess{MainScript: script, Command: "bash " + script, LaunchType: launchType, Confidence: 0.6}, true
	}

	if main == "" {
		return Guess{}, false
	}
	if launchType == "streamlit_app" {
		return Guess{MainScript: main, Command: "streamlit run " + main, LaunchType: launchType, Confidence: 0.8}, true
	}
	return Guess{MainScript: main, Command: "python " + main, LaunchType: launchType, Confidence: 0.7}, true
}

// HeuristicCommand inspects the project directory and returns the heuristic
// command, for callers that hold a record but no inspection.
func HeuristicCommand(p *project.Project) (string, bool) {
	g, ok := HeuristicGuess(inspectProject(p))
	return g.Command, ok
}

func pickMainScript(files []string) string {
	top := make(map[string]bool, len(files))
	for _, f := range files {
		if !strings.Contains(f, "/") {
			top[f] = true
		}
	}
	for _, name := range EntryScripts {
		if top[name] {
			return name
		}
	}
	for _, f := range files {
		_, base, nested := strings.Cut(f, "/")
		if !nested {
			continue
		}
		for _, name := range EntryScripts {
			if base == name {
				return f
			}
		}
	}
	if len(files) > 0 {
		return files[0]
	}
	return ""
}

func requires(reqs []string, pkg string) bool {
	for _, r := range reqs {
		if strings.Contains(strings.ToLower(r), pkg) {
			return true
		}
	}
	return false
}
