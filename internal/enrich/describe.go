package enrich

import (
	"context"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/inference"
)

// describe produces the description and tooltip. Sources in order: the
// describe call, the description that came with an AI launch answer, the
// README's first paragraph, the last known description, and finally a
// placeholder naming the project.
func (p *Pipeline) describe(ctx context.Context, in *Input, out *Outcome) (string, string) {
	if p.guard != nil && !in.aiDown() {
		text, err := p.guard.Analyze(ctx, inference.Request{Kind: inference.KindDescribe, Context: in.Context})
		if err == nil {
			var res *inference.DescribeResult
			if res, err = inference.ParseDescribe(text); err == nil {
				tooltip := res.Tooltip
				if tooltip == "" {
					tooltip = tooltipFor(res.Description)
				}
				return res.Description, tooltip
			}
		}
		p.logger.Debug("describe call failed; using fallback", "project_id", in.Project.ID, "error", err)
	}

	var desc string
	switch {
	case out != nil && out.Description != "" && out.Method != project.MethodHeuristic:
		desc = out.Description
	case readmeSummary(in.Context.Readme) != "":
		desc = readmeSummary(in.Context.Readme)
	case in.Project.Description != nil && *in.Project.Description != "":
		desc = *in.Project.Description
		if in.Project.Tooltip != nil && *in.Project.Tooltip != "" {
			return desc, *in.Project.Tooltip
		}
	default:
		desc = "AI project: " + in.Project.Name
	}
	return desc, tooltipFor(desc)
}
