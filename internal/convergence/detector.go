package convergence

import (
	"github.com/mohammad-safakhou/rmri/internal/textsim"
)

// Defaults used when a Detector field is left zero.
const (
	DefaultTopK          = 10
	DefaultThreshold     = 0.70
	DefaultMaxIterations = 4
)

// Reason explains a verdict.
type Reason string

const (
	ReasonFirstIteration Reason = "first_iteration"
	ReasonThresholdMet   Reason = "similarity_threshold_met"
	ReasonMaxIterations  Reason = "max_iterations_reached"
	ReasonBelowThreshold Reason = "similarity_below_threshold"
)

// Verdict is the outcome of a convergence check.
type Verdict struct {
	Converged      bool    `json:"converged"`
	Similarity     float64 `json:"similarity"`
	Reason         Reason  `json:"reason"`
	ShouldContinue bool    `json:"should_continue"`
	Iteration      int     `json:"iteration"`
}

// Input carries the ranked gap descriptions of two consecutive iterations,
// best first. Previous is nil on the first iteration.
type Input struct {
	Iteration     int
	MaxIterations int
	Current       []string
	Previous      []string
}

// Detector compares the top-K ranked gaps of consecutive iterations.
type Detector struct {
	TopK      int
	Threshold float64
}

// NewDetector returns a detector with defaults applied.
func NewDetector(topK int, threshold float64) *Detector {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{TopK: topK, Threshold: threshold}
}

// Detect decides whether refinement should stop.
func (d *Detector) Detect(in Input) Verdict {
	maxIter := in.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	v := Verdict{Iteration: in.Iteration}
	atMax := in.Iteration >= maxIter

	if in.Previous == nil || in.Iteration <= 1 {
		v.Reason = ReasonFirstIteration
		if atMax {
			v.Converged = true
			v.Reason = ReasonMaxIterations
		}
		v.ShouldContinue = !v.Converged
		return v
	}

	v.Similarity = d.Similarity(in.Current, in.Previous)
	switch {
	case v.Similarity >= d.Threshold:
		v.Converged = true
		v.Reason = ReasonThresholdMet
	case atMax:
		v.Converged = true
		v.Reason = ReasonMaxIterations
	default:
		v.Reason = ReasonBelowThreshold
	}
	v.ShouldContinue = !v.Converged
	return v
}

// Similarity is the Jaccard overlap of the canonical keys of both top-K lists.
func (d *Detector) Similarity(current, previous []string) float64 {
	return textsim.Jaccard(d.keys(current), d.keys(previous))
}

func (d *Detector) keys(gaps []string) map[string]struct{} {
	k := d.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	out := make(map[string]struct{}, k)
	for _, g := range gaps {
		if len(out) >= k {
			break
		}
		key := textsim.Canonical(g)
		if key == "" {
			continue
		}
		out[key] = struct{}{}
	}
	return out
}
