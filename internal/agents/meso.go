package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/textsim"
)

// ErrNoMicroOutputs is returned when meso has nothing to cluster.
var ErrNoMicroOutputs = errors.New("no micro outputs to cluster")

// Meso clusters micro outputs into themes.
type Meso struct {
	Caller         ModelCaller
	Engine         *confidence.Engine
	Settings       CallSettings
	ClusterCount   int
	MinClusterSize int
}

// NewMeso builds a meso worker.
func NewMeso(caller ModelCaller, engine *confidence.Engine, settings CallSettings, clusterCount, minClusterSize int) *Meso {
	return &Meso{Caller: caller, Engine: engine, Settings: settings, ClusterCount: clusterCount, MinClusterSize: minClusterSize}
}

type mesoReply struct {
	Clusters []struct {
		ID      string `json:"id"`
		Theme   string `json:"theme"`
		Summary string `json:"summary"`
	} `json:"clusters"`
	Patterns []string `json:"patterns"`
}

// Run clusters the iteration's micro outputs and names the themes.
func (m *Meso) Run(ctx context.Context, in MesoInput) (MesoOutput, error) {
	if len(in.Micro) == 0 {
		return MesoOutput{}, ErrNoMicroOutputs
	}
	micro := append([]MicroOutput(nil), in.Micro...)
	sort.SliceStable(micro, func(i, j int) bool { return micro[i].ItemID < micro[j].ItemID })

	fps := make([][]string, len(micro))
	for i, mo := range micro {
		fps[i] = mo.Fingerprint
	}
	groups := clusterFingerprints(fps, m.ClusterCount, m.MinClusterSize)

	clusters := make([]Cluster, len(groups))
	gapClusters := make(map[string][]string)
	gapFirst := make(map[string]string)
	gapFreq := make(map[string]int)
	var keyOrder []string
	for gi, members := range groups {
		c := Cluster{
			ID:       fmt.Sprintf("c%d", gi+1),
			Cohesion: cohesion(fps, members),
			Keywords: topTokens(fps, members, 5),
		}
		seen := make(map[string]struct{})
		for _, idx := range members {
			mo := micro[idx]
			c.Members = append(c.Members, mo.ItemID)
			for _, g := range mo.Findings.Gaps {
				key := textsim.Canonical(g)
				if key == "" {
					continue
				}
				gapFreq[key]++
				if _, ok := gapFirst[key]; !ok {
					gapFirst[key] = g
					keyOrder = append(keyOrder, key)
				}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				c.Gaps = append(c.Gaps, g)
				gapClusters[key] = append(gapClusters[key], c.ID)
			}
		}
		clusters[gi] = c
	}

	var common []CommonGap
	for _, key := range keyOrder {
		if len(gapClusters[key]) < 2 {
			continue
		}
		common = append(common, CommonGap{
			Description: gapFirst[key],
			Key:         key,
			Clusters:    gapClusters[key],
			Frequency:   gapFreq[key],
		})
	}
	sort.SliceStable(common, func(i, j int) bool {
		if common[i].Frequency != common[j].Frequency {
			return common[i].Frequency > common[j].Frequency
		}
		return common[i].Key < common[j].Key
	})

	c, err := complete(ctx, m.Caller, m.Settings, TierMeso, mesoSystem, mesoPrompt(in, clusters))
	if err != nil {
		return MesoOutput{}, fmt.Errorf("meso iteration %d: %w", in.Iteration, err)
	}
	var reply mesoReply
	present, err := decodeObject(c.Text, &reply)
	if err != nil {
		return MesoOutput{}, fmt.Errorf("meso iteration %d: %w", in.Iteration, err)
	}
	named := make(map[string]int, len(reply.Clusters))
	for i, rc := range reply.Clusters {
		named[strings.TrimSpace(rc.ID)] = i
	}
	var cohesionSum float64
	for i := range clusters {
		if ri, ok := named[clusters[i].ID]; ok {
			clusters[i].Theme = strings.TrimSpace(reply.Clusters[ri].Theme)
			clusters[i].Summary = strings.TrimSpace(reply.Clusters[ri].Summary)
		}
		if clusters[i].Theme == "" {
			clusters[i].Theme = strings.Join(clusters[i].Keywords, " ")
		}
		cohesionSum += clusters[i].Cohesion
	}

	out := MesoOutput{
		RunID:      in.RunID,
		Iteration:  in.Iteration,
		Clusters:   clusters,
		Patterns:   cleanList(reply.Patterns),
		CommonGaps: common,

		ProviderFailures: c.Failures,
	}
	if len(common) > 0 {
		present = append(present, "common_gaps")
	}
	microConf := make([]float64, len(micro))
	for i, mo := range micro {
		microConf[i] = mo.Confidence.Final
	}
	out.Confidence = m.Engine.Meso(confidence.MesoSignals{
		MicroConfidences:   microConf,
		ProviderConfidence: c.Confidence,
		MeanCohesion:       cohesionSum / float64(len(clusters)),
		Members:            len(micro),
		PresentFields:      present,
		Text:               c.Text,
	})
	return out, nil
}
