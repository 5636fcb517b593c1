package agents

import (
	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/convergence"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/provider"
)

// Tier names an agent level.
type Tier string

const (
	TierMicro Tier = "micro"
	TierMeso  Tier = "meso"
	TierMeta  Tier = "meta"
)

// Item is one unit of input material, e.g. a paper abstract.
type Item struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Findings are the structured facts extracted from one item.
type Findings struct {
	Contributions []string `json:"contributions"`
	Limitations   []string `json:"limitations"`
	Gaps          []string `json:"gaps"`
	Keywords      []string `json:"keywords"`
}

// MicroInput is the job payload of a per-item analysis.
type MicroInput struct {
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"`
	Item      Item   `json:"item"`
	Query     string `json:"query"`
	Domain    string `json:"domain,omitempty"`
	// Focus lists the previous iteration's top gaps to probe further.
	Focus []string `json:"focus,omitempty"`
}

// MicroOutput is a per-item analysis.
type MicroOutput struct {
	ItemID      string            `json:"item_id"`
	Iteration   int               `json:"iteration"`
	Findings    Findings          `json:"findings"`
	Fingerprint []string          `json:"fingerprint"`
	Agreement   float64           `json:"agreement"`
	Providers   []provider.Client `json:"providers"`
	Confidence  confidence.Result `json:"confidence"`
	// ProviderFailures are failed provider attempts the call recovered from.
	ProviderFailures []llm.Attempt `json:"provider_failures,omitempty"`
}

// MesoInput carries all successful micro outputs of one iteration.
type MesoInput struct {
	RunID     string        `json:"run_id"`
	Iteration int           `json:"iteration"`
	Query     string        `json:"query"`
	Micro     []MicroOutput `json:"micro"`
}

// Cluster is a thematic group of items.
type Cluster struct {
	ID       string   `json:"id"`
	Theme    string   `json:"theme"`
	Summary  string   `json:"summary,omitempty"`
	Members  []string `json:"members"`
	Cohesion float64  `json:"cohesion"`
	Keywords []string `json:"keywords"`
	Gaps     []string `json:"gaps"`
}

// CommonGap is a gap surfaced by more than one cluster.
type CommonGap struct {
	Description string   `json:"description"`
	Key         string   `json:"key"`
	Clusters    []string `json:"clusters"`
	Frequency   int      `json:"frequency"`
}

// MesoOutput is the clustering of one iteration.
type MesoOutput struct {
	RunID      string            `json:"run_id"`
	Iteration  int               `json:"iteration"`
	Clusters   []Cluster         `json:"clusters"`
	Patterns   []string          `json:"patterns"`
	CommonGaps []CommonGap       `json:"common_gaps"`
	Confidence confidence.Result `json:"confidence"`

	ProviderFailures []llm.Attempt `json:"provider_failures,omitempty"`
}

// RankedGap is a scored research gap.
type RankedGap struct {
	Description string   `json:"description"`
	Key         string   `json:"key"`
	Importance  float64  `json:"importance"`
	Novelty     float64  `json:"novelty"`
	Feasibility float64  `json:"feasibility"`
	Impact      float64  `json:"impact"`
	Score       float64  `json:"score"`
	Rank        int      `json:"rank"`
	Clusters    []string `json:"clusters,omitempty"`
	Scored      string   `json:"scored_by"` // model or heuristic
}

// Frontier marks a cluster worth attention in the next iteration.
type Frontier struct {
	ClusterID string  `json:"cluster_id"`
	Theme     string  `json:"theme"`
	Growth    float64 `json:"growth"`
	Reach     int     `json:"reach"`
	Reason    string  `json:"reason"`
}

// ClusterSnapshot records a cluster's size for growth comparison.
type ClusterSnapshot struct {
	Key   string `json:"key"`
	Theme string `json:"theme"`
	Size  int    `json:"size"`
}

// MetaInput carries the current clustering and the previous synthesis.
type MetaInput struct {
	RunID         string      `json:"run_id"`
	Iteration     int         `json:"iteration"`
	MaxIterations int         `json:"max_iterations"`
	Query         string      `json:"query"`
	Meso          MesoOutput  `json:"meso"`
	Previous      *MetaOutput `json:"previous,omitempty"`
}

// MetaOutput is an immutable per-iteration synthesis.
type MetaOutput struct {
	RunID       string              `json:"run_id"`
	Iteration   int                 `json:"iteration"`
	RankedGaps  []RankedGap         `json:"ranked_gaps"`
	Patterns    []string            `json:"patterns"`
	Frontiers   []Frontier          `json:"frontiers"`
	Clusters    []ClusterSnapshot   `json:"clusters"`
	Convergence convergence.Verdict `json:"convergence"`
	Confidence  confidence.Result   `json:"confidence"`

	ProviderFailures []llm.Attempt `json:"provider_failures,omitempty"`
}

// TopDescriptions returns up to k gap descriptions, best first.
func (m *MetaOutput) TopDescriptions(k int) []string {
	if m == nil {
		return nil
	}
	if k <= 0 || k > len(m.RankedGaps) {
		k = len(m.RankedGaps)
	}
	out := make([]string, 0, k)
	for _, g := range m.RankedGaps[:k] {
		out = append(out, g.Description)
	}
	return out
}
