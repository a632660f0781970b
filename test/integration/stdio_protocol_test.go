package integration_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

func launcherBinary(t *testing.T) string {
	t.Helper()
	for _, path := range []string{"./bin/launcher", "../../bin/launcher"} {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			require.NoError(t, err)
			return abs
		}
	}
	t.Skip("launcher binary not found; build it with go build -o bin/launcher ./cmd/launcher")
	return ""
}

func stdioCommand(ctx context.Context, t *testing.T, binary string) *exec.Cmd {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "projects")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo", "app.py"), []byte("print()\n"), 0o644))

	cmd := exec.CommandContext(ctx, binary, "serve")
	cmd.Env = append(os.Environ(),
		"LAUNCHER_CONFIG_PATH=",
		"LAUNCHER_TRANSPORT=stdio",
		"LAUNCHER_DB_PATH="+filepath.Join(base, "launcher.db"),
		"LAUNCHER_SCAN_ROOTS="+root,
		"LAUNCHER_SCAN_WATCH=false",
		"LAUNCHER_SCRIPTS_DIR="+filepath.Join(base, "scripts"),
		"LAUNCHER_INFERENCE_PROVIDER=none",
	)
	return cmd
}

// TestStdioProtocolCompliance drives the real binary over stdio with the SDK client.
func TestStdioProtocolCompliance(t *testing.T) {
	binary := launcherBinary(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &sdkmcp.CommandTransport{Command: stdioCommand(ctx, t, binary)}, nil)
	require.NoError(t, err, "failed to connect to server")
	defer session.Close()

	t.Run("ServerInfo", func(t *testing.T) {
		init := session.InitializeResult()
		require.NotNil(t, init)
		require.NotNil(t, init.ServerInfo)
		require.Equal(t, "launcher", init.ServerInfo.Name)
	})

	t.Run("ListTools", func(t *testing.T) {
		tools, err := session.ListTools(ctx, nil)
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, tool := range tools.Tools {
			names[tool.Name] = true
		}
		for _, want := range []string{"list_projects", "get_project", "force_rescan", "launch_project"} {
			require.True(t, names[want], "missing tool %s", want)
		}
	})

	t.Run("RescanAndList", func(t *testing.T) {
		res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      "force_rescan",
			Arguments: map[string]any{"kind": "full", "wait": true},
		})
		require.NoError(t, err)
		require.False(t, res.IsError, "force_rescan failed: %v", res.Content)

		res, err = session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "list_projects"})
		require.NoError(t, err)
		require.False(t, res.IsError)
		require.NotEmpty(t, res.Content)
		tc, ok := res.Content[0].(*sdkmcp.TextContent)
		require.True(t, ok)
		require.Contains(t, tc.Text, "demo")
	})
}

// TestStdioProtocol_StdoutHygiene checks that the first bytes on stdout are a
// protocol message and not a log line.
func TestStdioProtocol_StdoutHygiene(t *testing.T) {
	binary := launcherBinary(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := stdioCommand(ctx, t, binary)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	defer func() {
		stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		t.Logf("stderr (logs): %s", stderr.String())
	}()

	initReq := `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}},"id":1}`
	_, err = io.WriteString(stdin, initReq+"\n")
	require.NoError(t, err)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(stdout).ReadString('\n')
		lines <- line
	}()

	select {
	case line := <-lines:
		require.NotEmpty(t, line, "server produced no stdout output")
		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &msg), "stdout line is not JSON: %q", line)
		require.Equal(t, "2.0", msg["jsonrpc"])
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server response")
	}
}
