// Package inference talks to the language model backends that describe
// projects and propose launch commands.
package inference

import "context"

// RequestKind selects the question asked about a project.
type RequestKind string

const (
	KindLaunch      RequestKind = "launch"
	KindAlternative RequestKind = "launch-alternative"
	KindDescribe    RequestKind = "describe"
)

// ProjectContext is the structural summary sent to the model.
type ProjectContext struct {
	Name         string
	Path         string
	Environment  string
	PythonFiles  []string
	ConfigFiles  []string
	Requirements []string
	Scripts      []string
	Directories  []string
	Readme       string
	Dockerfile   bool
	Compose      bool
	Makefile     bool
	PackageJSON  bool
}

// Request is one inference call.
type Request struct {
	Kind    RequestKind
	Context ProjectContext
}

// Analyzer answers a request with raw model text. Implementations never retry;
// failures are reported as ErrTimeout, ErrUnavailable or ErrMalformed where
// they can be told apart.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
	Name() string
}

// Alternative is a secondary launch option proposed alongside the primary one.
type Alternative struct {
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// LaunchResult is the parsed answer to a launch request.
type LaunchResult struct {
	MainScript       string        `json:"main_script"`
	LaunchCommand    string        `json:"launch_command"`
	WorkingDirectory string        `json:"working_directory"`
	LaunchType       string        `json:"launch_type"`
	Description      string        `json:"description"`
	Confidence       *float64      `json:"confidence"`
	Notes            string        `json:"notes"`
	Alternatives     []Alternative `json:"alternative_launches"`
}

// DescribeResult is the parsed answer to a describe request.
type DescribeResult struct {
	Description string `json:"description"`
	Tooltip     string `json:"tooltip"`
}
