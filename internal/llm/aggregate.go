package llm

import (
	"fmt"

	"github.com/mohammad-safakhou/rmri/internal/textsim"
	"github.com/mohammad-safakhou/rmri/provider"
)

// Aggregation selects how ensemble responses are combined.
type Aggregation string

const (
	AggregateAll       Aggregation = "all"
	AggregateBest      Aggregation = "best"
	AggregateConsensus Aggregation = "consensus"
)

// ParseAggregation validates a configured strategy name.
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(s) {
	case AggregateAll, AggregateBest, AggregateConsensus:
		return Aggregation(s), nil
	case "":
		return AggregateConsensus, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
}

// EnsembleResult is the outcome of a successful ensemble call.
type EnsembleResult struct {
	Strategy   Aggregation         `json:"strategy"`
	Responses  []provider.Response `json:"responses"`
	Failures   []Attempt           `json:"failures,omitempty"`
	Final      *provider.Response  `json:"final,omitempty"`
	Confidence float64             `json:"confidence"`
	// Agreement is the mean pairwise similarity of the responses.
	Agreement  float64     `json:"agreement"`
	Similarity [][]float64 `json:"similarity,omitempty"`
	Scores     []float64   `json:"scores,omitempty"`
	Requested  int         `json:"requested"`
}

// Text returns the selected output, or the highest-priority response for "all".
func (r EnsembleResult) Text() string {
	if r.Final != nil {
		return r.Final.Text
	}
	if len(r.Responses) > 0 {
		return r.Responses[0].Text
	}
	return ""
}

// similarityMatrix builds the symmetric token-set Jaccard matrix of the responses.
func similarityMatrix(responses []provider.Response) [][]float64 {
	sets := make([]map[string]struct{}, len(responses))
	for i, r := range responses {
		sets[i] = textsim.TokenSet(r.Text)
	}
	m := make([][]float64, len(responses))
	for i := range m {
		m[i] = make([]float64, len(responses))
		m[i][i] = 1
	}
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			s := textsim.Jaccard(sets[i], sets[j])
			m[i][j], m[j][i] = s, s
		}
	}
	return m
}

// meanPairwise is the mean of the upper triangle; a single response agrees with itself.
func meanPairwise(m [][]float64) float64 {
	n := len(m)
	if n < 2 {
		return 1
	}
	sum, pairs := 0.0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += m[i][j]
			pairs++
		}
	}
	return sum / float64(pairs)
}

// aggregate combines successful responses. responses must be in priority order.
func aggregate(strategy Aggregation, responses []provider.Response) EnsembleResult {
	res := EnsembleResult{Strategy: strategy, Responses: responses}
	if len(responses) == 0 {
		return res
	}
	res.Similarity = similarityMatrix(responses)
	res.Agreement = meanPairwise(res.Similarity)

	switch strategy {
	case AggregateBest:
		best := 0
		for i := 1; i < len(responses); i++ {
			// strict comparison keeps the earlier (higher priority) provider on ties
			if responses[i].Confidence > responses[best].Confidence {
				best = i
			}
		}
		final := responses[best]
		res.Final = &final
		res.Confidence = final.Confidence
	case AggregateConsensus:
		n := len(responses)
		res.Scores = make([]float64, n)
		best := 0
		for i := 0; i < n; i++ {
			meanSim := 1.0
			if n > 1 {
				sum := 0.0
				for j := 0; j < n; j++ {
					if j != i {
						sum += res.Similarity[i][j]
					}
				}
				meanSim = sum / float64(n-1)
			}
			res.Scores[i] = responses[i].Confidence * meanSim
			if res.Scores[i] > res.Scores[best] {
				best = i
			}
		}
		final := responses[best]
		res.Final = &final
		res.Confidence = final.Confidence
	default:
		sum := 0.0
		for _, r := range responses {
			sum += r.Confidence
		}
		res.Confidence = sum / float64(len(responses))
	}
	return res
}
