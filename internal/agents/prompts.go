package agents

import (
	"fmt"
	"strings"
)

const microSystem = `You analyse one research item at a time. Extract its concrete contributions, stated or evident limitations, open research gaps, and 3-8 topical keywords.
Respond ONLY with JSON: {"contributions":[...],"limitations":[...],"gaps":[...],"keywords":[...]}`

const mesoSystem = `You group related research items into themes. For each cluster you are given its keywords and gaps; name the theme in a short phrase and summarise it in one sentence. Then list patterns that cut across clusters.
Respond ONLY with JSON: {"clusters":[{"id":"...","theme":"...","summary":"..."}],"patterns":[...]}`

const metaSystem = `You prioritise research gaps across a field. Score every gap from 0 to 1 on importance, novelty, feasibility and impact. You may add gaps that only become visible across clusters. Then list cross-domain patterns.
Respond ONLY with JSON: {"gaps":[{"description":"...","importance":0.0,"novelty":0.0,"feasibility":0.0,"impact":0.0}],"patterns":[...]}`

func microPrompt(in MicroInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", in.Query)
	if in.Domain != "" {
		fmt.Fprintf(&b, "Domain: %s\n", in.Domain)
	}
	if len(in.Focus) > 0 {
		b.WriteString("Pay particular attention to these previously identified gaps:\n")
		for _, f := range in.Focus {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	fmt.Fprintf(&b, "\nItem %s: %s\n\n%s\n", in.Item.ID, in.Item.Title, in.Item.Content)
	return b.String()
}

func mesoPrompt(in MesoInput, clusters []Cluster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nIteration: %d\n\n", in.Query, in.Iteration)
	for _, c := range clusters {
		fmt.Fprintf(&b, "Cluster %s (%d items, cohesion %.2f)\n", c.ID, len(c.Members), c.Cohesion)
		fmt.Fprintf(&b, "  keywords: %s\n", strings.Join(c.Keywords, ", "))
		for i, g := range c.Gaps {
			if i == 8 {
				fmt.Fprintf(&b, "  ... %d more gaps\n", len(c.Gaps)-i)
				break
			}
			fmt.Fprintf(&b, "  gap: %s\n", g)
		}
	}
	return b.String()
}

func metaPrompt(in MetaInput, candidates []RankedGap) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nIteration: %d of at most %d\n\n", in.Query, in.Iteration, in.MaxIterations)
	b.WriteString("Themes:\n")
	for _, c := range in.Meso.Clusters {
		fmt.Fprintf(&b, "- %s (%d items)\n", c.Theme, len(c.Members))
	}
	if len(in.Meso.Patterns) > 0 {
		b.WriteString("\nObserved patterns:\n")
		for _, p := range in.Meso.Patterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	b.WriteString("\nCandidate gaps:\n")
	for i, g := range candidates {
		fmt.Fprintf(&b, "%d. %s (seen in %d clusters)\n", i+1, g.Description, len(g.Clusters))
	}
	if in.Previous != nil && len(in.Previous.RankedGaps) > 0 {
		b.WriteString("\nPrevious iteration's top gaps:\n")
		for _, d := range in.Previous.TopDescriptions(10) {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return b.String()
}
