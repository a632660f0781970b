package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/Jagard11/Launcher/internal/app"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/enrich"
	"github.com/spf13/cobra"
)

// --- Command flags ---
var (
	scanFull     bool
	scanEnrich   bool
	retryErrors  bool
	listStatus   string
	listDirty    bool
	listFavs     bool
	listHidden   bool
	listRemoved  bool
	listRoot     string
	listLimit    int
	listJSON     bool
	historyLimit int
	markAll      bool
	dryRun       bool
)

var (
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Walk the scan roots once and reconcile the catalog",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	enrichCmd = &cobra.Command{
		Use:   "enrich",
		Short: "Enrich every dirty project and exit",
		Args:  cobra.NoArgs,
		RunE:  runEnrich,
	}
	listCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalogued projects",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent scan sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize the catalog",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	markDirtyCmd = &cobra.Command{
		Use:   "mark-dirty [id or path]",
		Short: "Queue a project, or every project with --all, for enrichment",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMarkDirty,
	}
	launchCmd = &cobra.Command{
		Use:   "launch [id or path]",
		Short: "Start a project with its resolved launch command",
		Args:  cobra.ExactArgs(1),
		RunE:  runLaunch,
	}
	scriptCmd = &cobra.Command{
		Use:   "script",
		Short: "Manage generated launcher scripts",
	}
	scriptResetCmd = &cobra.Command{
		Use:   "reset [id or path]",
		Short: "Let enrichment regenerate a hand-edited launcher script",
		Args:  cobra.ExactArgs(1),
		RunE:  runScriptReset,
	}
	versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print the version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "walk every directory instead of only recently modified ones")
	scanCmd.Flags().BoolVar(&scanEnrich, "enrich", false, "enrich dirty projects after the scan")

	enrichCmd.Flags().BoolVar(&retryErrors, "retry-errors", false, "also retry projects parked in error")

	listCmd.Flags().StringVar(&listStatus, "status", "", "only projects in this status")
	listCmd.Flags().BoolVar(&listDirty, "dirty", false, "only dirty projects (--dirty=false for clean ones)")
	listCmd.Flags().BoolVar(&listFavs, "favorites", false, "only favorites")
	listCmd.Flags().BoolVar(&listHidden, "hidden", false, "include hidden projects")
	listCmd.Flags().BoolVar(&listRemoved, "removed", false, "include removed projects")
	listCmd.Flags().StringVar(&listRoot, "root", "", "only projects under this scan root")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of projects")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of sessions")

	markDirtyCmd.Flags().BoolVar(&markAll, "all", false, "mark every project")

	launchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved command without starting it")

	scriptCmd.AddCommand(scriptResetCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// lookup finds a project by ID or by a path, which may be relative.
func lookup(cmd *cobra.Command, a *app.App, ref string) (*project.Project, error) {
	if !filepath.IsAbs(ref) {
		if _, err := os.Stat(ref); err == nil {
			if abs, err := filepath.Abs(ref); err == nil {
				ref = abs
			}
		}
	}
	return a.Catalog.Get(cmd.Context(), ref)
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	kind := session.KindQuick
	if scanFull {
		kind = session.KindFull
	}
	res, err := a.Scanner.Scan(cmd.Context(), kind)
	if err != nil {
		return err
	}
	out := map[string]any{"session_id": res.SessionID, "kind": res.Kind, "counts": res.Counts}
	if scanEnrich {
		stats, err := a.Pipeline.Drain(cmd.Context(), enrich.DrainOptions{})
		if err != nil {
			return err
		}
		out["enrichment"] = stats
	}
	return printJSON(cmd, out)
}

func runEnrich(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Pipeline.Drain(cmd.Context(), enrich.DrainOptions{IncludeErrored: retryErrors})
	if err != nil {
		return err
	}
	return printJSON(cmd, stats)
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := project.ListOptions{
		Root:           listRoot,
		FavoritesOnly:  listFavs,
		IncludeHidden:  listHidden,
		IncludeRemoved: listRemoved,
		Limit:          listLimit,
	}
	if listStatus != "" {
		st, err := project.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		opts.Statuses = []project.Status{st}
	}
	if cmd.Flags().Changed("dirty") {
		opts.Dirty = &listDirty
	}

	refs, err := a.Catalog.List(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if listJSON {
		return printJSON(cmd, refs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tMETHOD\tCONFIDENCE\tPATH")
	for _, r := range refs {
		name := r.Name
		if r.IsFavorite {
			name = "*" + name
		}
		conf := "-"
		if r.LaunchConfidence != nil {
			conf = fmt.Sprintf("%.2f", *r.LaunchConfidence)
		}
		status := string(r.Status)
		if r.Dirty {
			status += " (dirty)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, status, r.LaunchMethod, conf, r.Path)
	}
	return tw.Flush()
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Sessions.History(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd, sessions)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Catalog.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, stats)
}

func runMarkDirty(cmd *cobra.Command, args []string) error {
	if markAll == (len(args) == 1) {
		return errors.New("give either a project or --all")
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if markAll {
		n, err := a.Tracker.MarkAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"marked": n})
	}
	p, err := lookup(cmd, a, args[0])
	if err != nil {
		return err
	}
	p, err = a.Tracker.MarkDirty(cmd.Context(), p.ID)
	if err != nil {
		return err
	}
	return printJSON(cmd, p.Ref())
}

func runLaunch(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := lookup(cmd, a, args[0])
	if err != nil {
		return err
	}
	if dryRun {
		_, spec, err := a.Launcher.Plan(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"dir": spec.Dir, "command": spec.Line, "method": spec.Method})
	}
	h, err := a.Launcher.Launch(cmd.Context(), p.ID)
	if err != nil {
		return err
	}
	return printJSON(cmd, h)
}

func runScriptReset(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := lookup(cmd, a, args[0])
	if err != nil {
		return err
	}
	if err := a.Scripts.Reset(cmd.Context(), p.ID); err != nil {
		return err
	}
	if _, err := a.Tracker.MarkDirty(cmd.Context(), p.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "script for %s reset; it will be regenerated on the next enrichment\n", p.Name)
	return nil
}
