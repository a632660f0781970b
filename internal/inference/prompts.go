package inference

import (
	"fmt"
	"strings"
)

const maxReadmeChars = 3000

// Prompt renders the text sent to the model for req.
func Prompt(req Request) string {
	switch req.Kind {
	case KindDescribe:
		return describePrompt(req.Context)
	case KindAlternative:
		return alternativePrompt(req.Context)
	default:
		return launchPrompt(req.Context)
	}
}

func structure(pc ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", pc.Name)
	fmt.Fprintf(&b, "Path: %s\n", pc.Path)
	fmt.Fprintf(&b, "Environment: %s\n", pc.Environment)
	fmt.Fprintf(&b, "Python files: %s\n", strings.Join(pc.PythonFiles, ", "))
	fmt.Fprintf(&b, "Config files: %s\n", strings.Join(pc.ConfigFiles, ", "))
	fmt.Fprintf(&b, "Requirements: %s\n", strings.Join(pc.Requirements, ", "))
	fmt.Fprintf(&b, "Scripts: %s\n", strings.Join(pc.Scripts, ", "))
	fmt.Fprintf(&b, "Directories: %s\n", strings.Join(pc.Directories, ", "))
	fmt.Fprintf(&b, "Has Dockerfile: %t\nHas Docker Compose: %t\nHas Makefile: %t\nHas package.json: %t\n",
		pc.Dockerfile, pc.Compose, pc.Makefile, pc.PackageJSON)
	return b.String()
}

func readme(pc ProjectContext) string {
	r := pc.Readme
	if len(r) > maxReadmeChars {
		r = r[:maxReadmeChars]
	}
	return r
}

func launchPrompt(pc ProjectContext) string {
	return fmt.Sprintf(`Determine how to launch this project.

%s
README:
%s

Respond with ONLY a JSON object:
{
  "main_script": "entry file",
  "launch_command": "exact command to run",
  "working_directory": ".",
  "launch_type": "python_script",
  "description": "brief description",
  "confidence": 0.8,
  "notes": "",
  "alternative_launches": [{"command": "other command", "confidence": 0.5}]
}`, structure(pc), readme(pc))
}

func alternativePrompt(pc ProjectContext) string {
	return fmt.Sprintf(`Suggest the single most likely command to start this project.

%s
Respond with ONLY a JSON object:
{"main_script": "entry file", "launch_command": "command", "working_directory": ".", "launch_type": "python_script", "confidence": 0.5}`,
		structure(pc))
}

func describePrompt(pc ProjectContext) string {
	return fmt.Sprintf(`Describe what this project does.

%s
README:
%s

Respond with ONLY a JSON object:
{"description": "two or three sentences", "tooltip": "one line under 80 characters"}`, structure(pc), readme(pc))
}
