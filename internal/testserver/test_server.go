// Package testserver builds a complete catalog over temporary directories for
// end-to-end tests.
package testserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Jagard11/Launcher/internal/app"
	"github.com/Jagard11/Launcher/internal/config"
	"github.com/Jagard11/Launcher/internal/inference"
	"github.com/Jagard11/Launcher/internal/launch"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// Token is the bearer token every TestServer accepts.
const Token = "test-token"

// Analyzer is a scripted inference backend. With no Fn it reports itself
// unavailable.
type Analyzer struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req inference.Request) (string, error)
	calls int
}

// Name identifies the backend in logs.
func (a *Analyzer) Name() string { return "scripted" }

// Analyze answers with the scripted function.
func (a *Analyzer) Analyze(ctx context.Context, req inference.Request) (string, error) {
	a.mu.Lock()
	a.calls++
	fn := a.fn
	a.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("%w: no script", inference.ErrUnavailable)
	}
	return fn(ctx, req)
}

// Script replaces the answering function.
func (a *Analyzer) Script(fn func(ctx context.Context, req inference.Request) (string, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fn = fn
}

// Calls reports how many requests were made.
func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Spawner records launches instead of starting processes.
type Spawner struct {
	mu    sync.Mutex
	specs []launch.Spec
}

// Spawn records spec and returns a fake PID.
func (s *Spawner) Spawn(_ context.Context, spec launch.Spec) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	return 1000 + len(s.specs), nil
}

// Specs returns the recorded launches.
func (s *Spawner) Specs() []launch.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]launch.Spec(nil), s.specs...)
}

// Option adjusts the configuration before the app is built.
type Option func(*config.Config)

// TestServer is a catalog over a temporary scan root, served over HTTP.
type TestServer struct {
	App        *app.App
	Server     *httptest.Server
	Root       string
	ScriptsDir string
	Analyzer   *Analyzer
	Spawner    *Spawner
}

// New builds the app and serves its HTTP surface. Background work does not
// run until Start is called.
func New(t *testing.T, opts ...Option) *TestServer {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "projects")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := config.Default()
	cfg.Transport.Mode = "http"
	cfg.Auth = config.AuthConfig{Enabled: true, Token: Token}
	cfg.DB.Path = filepath.Join(base, "launcher.db")
	cfg.Scan.Roots = []string{root}
	cfg.Scan.Watch = false
	cfg.Enrich.ScriptsDir = filepath.Join(base, "scripts")
	cfg.Enrich.Timeout = 2 * time.Second
	cfg.Enrich.MaxRetries = 0
	cfg.Schedule = config.ScheduleConfig{
		QuickInterval:  time.Hour,
		FullInterval:   24 * time.Hour,
		EnrichInterval: time.Hour,
		Resolution:     50 * time.Millisecond,
	}
	cfg.Inference.Provider = "none"
	for _, opt := range opts {
		opt(&cfg)
	}

	ts := &TestServer{
		Root:       root,
		ScriptsDir: cfg.Enrich.ScriptsDir,
		Analyzer:   &Analyzer{},
		Spawner:    &Spawner{},
	}
	a, err := app.New(cfg, app.Options{
		Live:     true,
		Analyzer: ts.Analyzer,
		Spawner:  ts.Spawner,
		Version:  "test",
	}, nil)
	require.NoError(t, err)
	ts.App = a

	ts.Server = httptest.NewServer(a.HTTPHandler(a.MCPServer()))
	t.Cleanup(func() {
		ts.Server.Close()
		_ = a.Close()
	})
	return ts
}

// Start runs the scheduler, pipeline and delta consumer until the test ends.
func (ts *TestServer) Start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.App.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

// Project creates a directory under the scan root holding files and returns its path.
func (ts *TestServer) Project(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(ts.Root, name)
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// Do sends an authenticated request to the HTTP API.
func (ts *TestServer) Do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.Server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// MCPSession connects an MCP client over streamable HTTP.
func (ts *TestServer) MCPSession(t *testing.T) *sdkmcp.ClientSession {
	t.Helper()
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "launcher-test", Version: "0.1.0"}, nil)
	cs, err := client.Connect(context.Background(), &sdkmcp.StreamableClientTransport{
		Endpoint:   ts.Server.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearer{token: Token, next: http.DefaultTransport}},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(r)
}
