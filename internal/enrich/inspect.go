package enrich

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/inference"
)

const (
	maxPythonFileSize  = 100 << 10
	maxRequirementSize = 10 << 10
	maxRequirements    = 20
	maxReadmeBytes     = 3000
	maxListed          = 40
)

var configNames = map[string]bool{
	"requirements.txt":    true,
	"pyproject.toml":      true,
	"setup.py":            true,
	"setup.cfg":           true,
	"environment.yml":     true,
	"environment.yaml":    true,
	"Pipfile":             true,
	"package.json":        true,
	"Dockerfile":          true,
	"docker-compose.yml":  true,
	"docker-compose.yaml": true,
	"Makefile":            true,
	"makefile":            true,
	"config.yaml":         true,
	"config.yml":          true,
	"config.json":         true,
	".env.example":        true,
}

// inspectProject summarizes a project directory for the strategies. Nothing is
// read beyond the first level of subdirectories.
func inspectProject(p *project.Project) inference.ProjectContext {
	pc := inference.ProjectContext{
		Name:        p.Name,
		Path:        p.Path,
		Environment: p.Environment.Kind,
	}

	entries, err := os.ReadDir(p.Path)
	if err != nil {
		return pc
	}

	var nested []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				continue
			}
			pc.Directories = append(pc.Directories, name)
			nested = append(nested, name)
			continue
		}

		switch {
		case strings.HasSuffix(name, ".py"):
			if info, err := e.Info(); err == nil && info.Size() < maxPythonFileSize {
				pc.PythonFiles = append(pc.PythonFiles, name)
			}
		case isScript(name):
			pc.Scripts = append(pc.Scripts, name)
		}

		if configNames[name] {
			pc.ConfigFiles = append(pc.ConfigFiles, name)
		}
		switch name {
		case "Dockerfile":
			pc.Dockerfile = true
		case "docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml":
			pc.Compose = true
		case "Makefile", "makefile":
			pc.Makefile = true
		case "package.json":
			pc.PackageJSON = true
		case "requirements.txt":
			pc.Requirements = readRequirements(filepath.Join(p.Path, name))
		}
		if pc.Readme == "" && strings.HasPrefix(strings.ToLower(name), "readme") {
			pc.Readme = readHead(filepath.Join(p.Path, name), maxReadmeBytes)
		}
	}

	for _, dir := range nested {
		if len(pc.PythonFiles) >= maxListed {
			break
		}
		sub, err := os.ReadDir(filepath.Join(p.Path, dir))
		if err != nil {
			continue
		}
		for _, e := range sub {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".py") {
				pc.PythonFiles = append(pc.PythonFiles, dir+"/"+e.Name())
			}
		}
	}

	sort.Strings(pc.PythonFiles)
	if len(pc.PythonFiles) > maxListed {
		pc.PythonFiles = pc.PythonFiles[:maxListed]
	}
	if len(pc.Directories) > maxListed {
		pc.Directories = pc.Directories[:maxListed]
	}
	return pc
}

var skipDirs = map[string]bool{
	"node_modules":  true,
	"__pycache__":   true,
	"venv":          true,
	"env":           true,
	"site-packages": true,
	"dist":          true,
	"build":         true,
	"target":        true,
}

func isScript(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".sh") || strings.HasSuffix(lower, ".bat") {
		return true
	}
	for _, prefix := range []string{"launch", "run", "start"} {
		if strings.HasPrefix(lower, prefix) && !strings.HasSuffix(lower, ".py") && !strings.HasSuffix(lower, ".md") {
			return true
		}
	}
	return false
}

func readRequirements(path string) []string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxRequirementSize {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var reqs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(reqs) < maxRequirements {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		reqs = append(reqs, line)
	}
	return reqs
}

func readHead(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, n))
	if err != nil {
		return ""
	}
	return string(data)
}

// readmeSummary returns the first prose paragraph of a README: headings,
// badges, HTML and code fences are skipped.
func readmeSummary(readme string) string {
	var para []string
	inFence := false
	for _, raw := range strings.Split(readme, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if line == "" {
			if len(para) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[![") || strings.HasPrefix(line, "![") ||
			strings.HasPrefix(line, "<") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "===") {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, line)
	}
	summary := strings.Join(para, " ")
	if len(summary) > 300 {
		cut := strings.LastIndex(summary[:300], " ")
		if cut < 200 {
			cut = 300
		}
		summary = strings.TrimRight(summary[:cut], " ,;:") + "..."
	}
	return summary
}

// tooltipFor shortens a description to its first sentence.
func tooltipFor(desc string) string {
	if i := strings.Index(desc, ". "); i > 0 {
		desc = desc[:i+1]
	}
	if len(desc) > 100 {
		cut := strings.LastIndex(desc[:100], " ")
		if cut < 60 {
			cut = 100
		}
		desc = strings.TrimRight(desc[:cut], " ,;:") + "..."
	}
	return desc
}
