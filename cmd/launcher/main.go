package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Jagard11/Launcher/internal/app"
	"github.com/Jagard11/Launcher/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	cfg      config.Config
	logger   *slog.Logger
	logClose func()

	dbPath    string
	transport string

	rootCmd = &cobra.Command{
		Use:   "launcher",
		Short: "Catalog, enrich and launch the projects under your scan roots",
		Long: `launcher keeps a persistent catalog of project directories, works out how
to launch each one and serves the catalog to MCP clients and over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logClose != nil {
				logClose()
			}
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "catalog database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "MCP transport for serve: stdio or http (overrides config)")

	rootCmd.AddCommand(serveCmd, scanCmd, enrichCmd, listCmd, historyCmd, statsCmd,
		markDirtyCmd, launchCmd, scriptCmd, versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if transport != "" {
		cfg.Transport.Mode = transport
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries the MCP stream in stdio mode and command output otherwise.
	logWriter := io.Writer(os.Stderr)
	if cmd == serveCmd && cfg.Transport.Mode == "http" {
		logWriter = os.Stdout
	}
	if cfg.Log.Path != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			logClose = func() { file.Close() }
			logWriter = fileWriter
		}
	}
	logger = slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	return ensureDBDir(cfg.DB.Path)
}

// openApp builds the catalog. Only serve passes live.
func openApp(live bool) (*app.App, error) {
	return app.New(cfg, app.Options{Live: live, Version: version}, logger)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
