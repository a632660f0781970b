package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `launcher keeps a catalog of project directories found under the configured scan roots and works out how to start each one.

Core concepts:
- Project: one directory that looks like a project (markers such as requirements.txt, pyproject.toml, package.json, Dockerfile). Identified by a stable ID; its absolute path is accepted wherever an ID is.
- Dirty: the project changed (or was forced) since its last enrichment and is waiting for a worker.
- Enrichment: background work that produces a description, a launch command and a confidence, trying AI first and falling back to file-layout heuristics.
- Status: discovered, enriching, ready, stale, error or removed.

Default workflow:
1) Orient: get_catalog_stats, then list_projects or search_projects.
2) Inspect: get_project for launch command, confidence, method and last error.
3) Refresh: force_rescan (quick or full) when directories changed; mark_dirty or force_enrich to redo enrichment.
4) Start: launch_project with dry_run=true to preview, then without it to run.

Docs:
- launcher://docs/index
- launcher://docs/catalog
- launcher://docs/enrichment
- launcher://docs/scripts
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "launcher://docs/index",
		Name:        "docs_index",
		Title:       "launcher docs index",
		Description: "Entry point: which tools exist and which doc to read next.",
		Content: `# launcher: docs index

## Tools by purpose

- Browse: ` + "`list_projects`" + `, ` + "`search_projects`" + `, ` + "`get_project`" + `, ` + "`get_catalog_stats`" + `.
- History: ` + "`get_scan_history`" + `, ` + "`get_recent_activity`" + `, ` + "`get_scheduler_status`" + `.
- Refresh: ` + "`force_rescan`" + `, ` + "`force_enrich`" + `, ` + "`mark_dirty`" + `.
- Curate: ` + "`set_favorite`" + `, ` + "`set_hidden`" + `, ` + "`reset_script`" + `.
- Run: ` + "`launch_project`" + `.

## Docs

- ` + "`launcher://docs/catalog`" + `: record fields, statuses and how scans update them.
- ` + "`launcher://docs/enrichment`" + `: how launch commands are produced and what confidence means.
- ` + "`launcher://docs/scripts`" + `: generated launcher scripts and hand edits.

Listings are paginated; pass ` + "`limit`" + ` to keep results small.
`,
	},
	{
		URI:         "launcher://docs/catalog",
		Name:        "docs_catalog",
		Title:       "Catalog model",
		Description: "Project records, the status machine and scan behavior.",
		Content: `# Catalog model

## Project record

- ` + "`id`" + `: stable identifier. A directory deleted and later recreated gets a new id.
- ` + "`path`" + `, ` + "`name`" + `, ` + "`environment`" + ` (conda, venv, poetry, pipenv, requirements or none).
- ` + "`content_fingerprint`" + `: digest of names, sizes and mtimes near the top of the tree. File contents are never read.
- ` + "`enrichment_fingerprint`" + `: the content fingerprint the last committed enrichment saw.
- ` + "`description`" + `, ` + "`tooltip`" + `, ` + "`launch_command`" + `, ` + "`launch_confidence`" + `, ` + "`launch_method`" + `.
- ` + "`dirty`" + ` and ` + "`dirty_reason`" + ` (new, changed, forced, retry).

## Status

` + "`discovered → enriching → ready → stale → enriching …`" + `

- ` + "`error`" + `: no strategy produced a command. Last known good values are kept. A forced mark or a change retries it.
- ` + "`removed`" + `: the directory disappeared. Terminal; the record stays as a tombstone.

## Scans

- Quick scan: only descends into top-level directories modified since the previous quick scan, and drops projects whose directory is gone.
- Full scan: walks everything and drops projects that were not seen, unless their part of the tree could not be read.
- Running the same full scan twice with no changes marks nothing dirty.
`,
	},
	{
		URI:         "launcher://docs/enrichment",
		Name:        "docs_enrichment",
		Title:       "Enrichment and launch resolution",
		Description: "Fallback chain, confidence, and what a failed enrichment looks like.",
		Content: `# Enrichment

A small pool of workers claims dirty projects one at a time. A claimed project shows status ` + "`enriching`" + `; no two workers ever hold the same project.

## Fallback chain

1. ` + "`custom-script`" + `: a launcher script edited by hand always wins (confidence 1.0).
2. ` + "`ai-primary`" + `: the model proposes a command.
3. ` + "`ai-alternative`" + `: asked only when the primary answer could not be parsed.
4. ` + "`heuristic`" + `: entry points such as app.py, main.py, streamlit or gradio dependencies, Dockerfile, Makefile or run scripts.
5. ` + "`unresolved`" + `: nothing worked; the project moves to ` + "`error`" + ` with no confidence.

When the model times out or is unreachable the chain skips straight to the heuristic.

## Confidence

A number from 0 to 1, absent for unresolved projects. Launching uses the stored command when confidence is at least the configured minimum (0.3 by default) and otherwise asks the heuristic again.

## Edits during enrichment

If a project changes while a worker holds it, the result is still saved but the project is queued again straight away. If it was deleted, the result is dropped.
`,
	},
	{
		URI:         "launcher://docs/scripts",
		Name:        "docs_scripts",
		Title:       "Launcher scripts",
		Description: "Generated scripts, hand edits and reset_script.",
		Content: `# Launcher scripts

Every committed project with a command gets a bash script in the scripts directory, named after the project plus a short id suffix. The script changes to the working directory, activates the environment and runs the command.

## Hand edits

Edit a script freely. On the next enrichment the edit is detected, the project is flagged ` + "`script_user_modified`" + `, and the script is never regenerated. Launches then run your script.

## Going back to generated scripts

Call ` + "`reset_script`" + ` with the project id. The current file becomes the baseline and the project is queued for enrichment, which rewrites the script.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
