package agents

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/convergence"
	"github.com/mohammad-safakhou/rmri/internal/textsim"
)

// Gap score weights.
const (
	WeightImportance  = 0.35
	WeightNovelty     = 0.25
	WeightFeasibility = 0.20
	WeightImpact      = 0.20
)

// DefaultGrowthThreshold is the relative cluster growth that marks a frontier.
const DefaultGrowthThreshold = 0.25

// Meta ranks gaps across clusters and decides convergence.
type Meta struct {
	Caller          ModelCaller
	Engine          *confidence.Engine
	Detector        *convergence.Detector
	Settings        CallSettings
	GrowthThreshold float64
}

// NewMeta builds a meta worker.
func NewMeta(caller ModelCaller, engine *confidence.Engine, detector *convergence.Detector, settings CallSettings) *Meta {
	return &Meta{Caller: caller, Engine: engine, Detector: detector, Settings: settings, GrowthThreshold: DefaultGrowthThreshold}
}

type metaReply struct {
	Gaps []struct {
		Description string  `json:"description"`
		Importance  float64 `json:"importance"`
		Novelty     float64 `json:"novelty"`
		Feasibility float64 `json:"feasibility"`
		Impact      float64 `json:"impact"`
	} `json:"gaps"`
	Patterns []string `json:"patterns"`
}

// GapScore is the weighted total of the four gap dimensions.
func GapScore(importance, novelty, feasibility, impact float64) float64 {
	return importance*WeightImportance + novelty*WeightNovelty + feasibility*WeightFeasibility + impact*WeightImpact
}

// Run produces the iteration's synthesis, including the convergence verdict.
func (m *Meta) Run(ctx context.Context, in MetaInput) (MetaOutput, error) {
	candidates := gatherCandidates(in.Meso)

	c, err := complete(ctx, m.Caller, m.Settings, TierMeta, metaSystem, metaPrompt(in, candidates))
	if err != nil {
		return MetaOutput{}, fmt.Errorf("meta iteration %d: %w", in.Iteration, err)
	}
	var reply metaReply
	present, err := decodeObject(c.Text, &reply)
	if err != nil {
		return MetaOutput{}, fmt.Errorf("meta iteration %d: %w", in.Iteration, err)
	}

	byKey := make(map[string]int, len(candidates))
	for i, g := range candidates {
		byKey[g.Key] = i
	}
	for _, rg := range reply.Gaps {
		key := textsim.Canonical(rg.Description)
		if key == "" {
			continue
		}
		i, ok := byKey[key]
		if !ok {
			candidates = append(candidates, RankedGap{Description: strings.TrimSpace(rg.Description), Key: key})
			i = len(candidates) - 1
			byKey[key] = i
		}
		scale := 1.0
		if rg.Importance > 1 || rg.Novelty > 1 || rg.Feasibility > 1 || rg.Impact > 1 {
			scale = 10 // tolerate 0-10 scoring
		}
		g := &candidates[i]
		g.Importance = confidence.Clamp(rg.Importance / scale)
		g.Novelty = confidence.Clamp(rg.Novelty / scale)
		g.Feasibility = confidence.Clamp(rg.Feasibility / scale)
		g.Impact = confidence.Clamp(rg.Impact / scale)
		g.Scored = "model"
	}

	prevKeys := make(map[string]struct{})
	if in.Previous != nil {
		for _, g := range in.Previous.RankedGaps {
			prevKeys[g.Key] = struct{}{}
		}
	}
	cohesionByID := make(map[string]float64, len(in.Meso.Clusters))
	for _, cl := range in.Meso.Clusters {
		cohesionByID[cl.ID] = cl.Cohesion
	}
	for i := range candidates {
		if candidates[i].Scored == "" {
			scoreHeuristically(&candidates[i], len(in.Meso.Clusters), prevKeys, cohesionByID)
		}
		g := &candidates[i]
		g.Score = GapScore(g.Importance, g.Novelty, g.Feasibility, g.Impact)
	}
	ranked := RankGaps(candidates)

	out := MetaOutput{
		RunID:      in.RunID,
		Iteration:  in.Iteration,
		RankedGaps: ranked,
		Patterns:   cleanList(append(append([]string(nil), in.Meso.Patterns...), reply.Patterns...)),
		Clusters:   snapshot(in.Meso.Clusters),

		ProviderFailures: c.Failures,
	}
	out.Frontiers = m.frontiers(in.Meso.Clusters, in.Previous)

	detector := m.Detector
	if detector == nil {
		detector = convergence.NewDetector(0, 0)
	}
	var previous []string
	if in.Previous != nil {
		previous = in.Previous.TopDescriptions(detector.TopK)
		if previous == nil {
			previous = []string{}
		}
	}
	out.Convergence = detector.Detect(convergence.Input{
		Iteration:     in.Iteration,
		MaxIterations: in.MaxIterations,
		Current:       out.TopDescriptions(detector.TopK),
		Previous:      previous,
	})

	signals := confidence.MetaSignals{
		ProviderConfidence: c.Confidence,
		MesoConfidence:     in.Meso.Confidence.Final,
		Agreement:          c.Agreement,
		RankedGaps:         len(ranked),
		PresentFields:      present,
		Text:               c.Text,
	}
	if in.Previous != nil {
		sim := out.Convergence.Similarity
		signals.PreviousSimilarity = &sim
	}
	out.Confidence = m.Engine.Meta(signals)
	return out, nil
}

// gatherCandidates merges common and per-cluster gaps by canonical key.
func gatherCandidates(meso MesoOutput) []RankedGap {
	var out []RankedGap
	idx := make(map[string]int)
	add := func(desc string, clusters ...string) {
		key := textsim.Canonical(desc)
		if key == "" {
			return
		}
		i, ok := idx[key]
		if !ok {
			out = append(out, RankedGap{Description: desc, Key: key})
			i = len(out) - 1
			idx[key] = i
		}
		for _, c := range clusters {
			if !slices.Contains(out[i].Clusters, c) {
				out[i].Clusters = append(out[i].Clusters, c)
			}
		}
	}
	for _, cg := range meso.CommonGaps {
		add(cg.Description, cg.Clusters...)
	}
	for _, cl := range meso.Clusters {
		for _, g := range cl.Gaps {
			add(g, cl.ID)
		}
	}
	return out
}

func scoreHeuristically(g *RankedGap, clusterCount int, prev map[string]struct{}, cohesionByID map[string]float64) {
	if clusterCount > 0 {
		g.Importance = float64(len(g.Clusters)) / float64(clusterCount)
	}
	g.Novelty = 0.8
	if _, seen := prev[g.Key]; seen {
		g.Novelty = 0.3
	}
	g.Feasibility = 0.5
	g.Impact = 0.5
	if len(g.Clusters) > 0 {
		sum := 0.0
		for _, c := range g.Clusters {
			sum += cohesionByID[c]
		}
		g.Impact = sum / float64(len(g.Clusters))
	}
	g.Scored = "heuristic"
}

// RankGaps sorts by score (ties by key) and assigns dense ranks: equal scores
// share a rank and the next distinct score takes the next integer.
func RankGaps(gaps []RankedGap) []RankedGap {
	out := append([]RankedGap(nil), gaps...)
	sort.SliceStable(out, func(i, j int) bool {
		if !sameScore(out[i].Score, out[j].Score) {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	rank := 0
	for i := range out {
		if i == 0 || !sameScore(out[i].Score, out[i-1].Score) {
			rank++
		}
		out[i].Rank = rank
	}
	return out
}

func sameScore(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func snapshot(clusters []Cluster) []ClusterSnapshot {
	out := make([]ClusterSnapshot, len(clusters))
	for i, c := range clusters {
		out[i] = ClusterSnapshot{Key: textsim.Canonical(c.Theme), Theme: c.Theme, Size: len(c.Members)}
	}
	return out
}

// frontiers flags clusters that grew past the threshold since the previous
// iteration, or whose gaps reach at least two other clusters.
func (m *Meta) frontiers(clusters []Cluster, prev *MetaOutput) []Frontier {
	threshold := m.GrowthThreshold
	if threshold <= 0 {
		threshold = DefaultGrowthThreshold
	}
	prevSize := make(map[string]int)
	if prev != nil {
		for _, s := range prev.Clusters {
			prevSize[s.Key] += s.Size
		}
	}
	gapOwners := make(map[string]map[string]struct{})
	for _, c := range clusters {
		for _, g := range c.Gaps {
			key := textsim.Canonical(g)
			if gapOwners[key] == nil {
				gapOwners[key] = make(map[string]struct{})
			}
			gapOwners[key][c.ID] = struct{}{}
		}
	}

	var out []Frontier
	for _, c := range clusters {
		f := Frontier{ClusterID: c.ID, Theme: c.Theme}
		if prev != nil {
			if before, ok := prevSize[textsim.Canonical(c.Theme)]; ok && before > 0 {
				f.Growth = float64(len(c.Members)-before) / float64(before)
			} else {
				f.Growth = 1 // theme did not exist before
			}
		}
		reached := make(map[string]struct{})
		for _, g := range c.Gaps {
			for owner := range gapOwners[textsim.Canonical(g)] {
				if owner != c.ID {
					reached[owner] = struct{}{}
				}
			}
		}
		f.Reach = len(reached)

		var reasons []string
		if prev != nil && f.Growth >= threshold {
			reasons = append(reasons, "growth")
		}
		if f.Reach >= 2 {
			reasons = append(reasons, "reach")
		}
		if len(reasons) == 0 {
			continue
		}
		f.Reason = strings.Join(reasons, "+")
		out = append(out, f)
	}
	return out
}
