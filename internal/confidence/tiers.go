package confidence

// MicroSignals feed a per-item analysis confidence.
type MicroSignals struct {
	ProviderConfidence float64
	Agreement          float64
	Contributions      int
	Limitations        int
	Gaps               int
	PresentFields      []string
	Text               string
	Keywords           []string
}

// MicroMaxEvidence is the extracted-finding count that saturates evidence.
const MicroMaxEvidence = 12

// Micro scores a single-item analysis.
func (e *Engine) Micro(s MicroSignals) Result {
	return e.Calculate(Signals{
		ProviderConfidence: s.ProviderConfidence,
		Agreement:          s.Agreement,
		EvidenceCount:      s.Contributions + s.Limitations + s.Gaps,
		MaxEvidence:        MicroMaxEvidence,
		Structure: Structure{
			ExpectedFields: []string{"contributions", "limitations", "gaps", "keywords"},
			PresentFields:  s.PresentFields,
			Text:           s.Text,
			Keywords:       s.Keywords,
			MinLength:      80,
			MaxLength:      20000,
		},
	})
}

// MesoSignals feed a clustering confidence.
type MesoSignals struct {
	MicroConfidences   []float64
	ProviderConfidence float64
	// MeanCohesion is the average intra-cluster similarity.
	MeanCohesion  float64
	Members       int
	PresentFields []string
	Text          string
}

// Meso scores a clustering pass. Provider confidence is averaged with the
// mean micro confidence so weak inputs pull the result down.
func (e *Engine) Meso(s MesoSignals) Result {
	upstream, _ := AggregateConfidences(s.MicroConfidences, MethodWeightedAverage, nil)
	pc := s.ProviderConfidence
	if len(s.MicroConfidences) > 0 {
		pc = (pc + upstream) / 2
	}
	return e.Calculate(Signals{
		ProviderConfidence: pc,
		Agreement:          s.MeanCohesion,
		EvidenceCount:      s.Members,
		MaxEvidence:        20,
		Structure: Structure{
			ExpectedFields: []string{"clusters", "patterns", "common_gaps"},
			PresentFields:  s.PresentFields,
			Text:           s.Text,
		},
	})
}

// MetaSignals feed a synthesis confidence.
type MetaSignals struct {
	ProviderConfidence float64
	MesoConfidence     float64
	Agreement          float64
	// PreviousSimilarity is the top-K overlap with the prior iteration, if any.
	PreviousSimilarity *float64
	RankedGaps         int
	PresentFields      []string
	Text               string
}

// Meta scores a synthesis. When a previous iteration exists its ranking
// similarity is folded into agreement.
func (e *Engine) Meta(s MetaSignals) Result {
	agreement := s.Agreement
	if s.PreviousSimilarity != nil {
		agreement = (agreement + Clamp(*s.PreviousSimilarity)) / 2
	}
	pc := s.ProviderConfidence
	if s.MesoConfidence > 0 {
		pc = (pc + s.MesoConfidence) / 2
	}
	return e.Calculate(Signals{
		ProviderConfidence: pc,
		Agreement:          agreement,
		EvidenceCount:      s.RankedGaps,
		MaxEvidence:        10,
		Structure: Structure{
			ExpectedFields: []string{"gaps", "patterns"},
			PresentFields:  s.PresentFields,
			Text:           s.Text,
		},
	})
}
