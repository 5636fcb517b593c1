package confidence

import (
	"math"
	"strings"
)

// Component weights. They sum to 1.
const (
	WeightProvider  = 0.35
	WeightAgreement = 0.30
	WeightEvidence  = 0.20
	WeightStructure = 0.15
)

// Level buckets a final confidence value.
type Level string

const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelVeryLow Level = "very_low"
)

// LevelFor maps a confidence onto its level.
func LevelFor(v float64) Level {
	switch {
	case v >= 0.75:
		return LevelHigh
	case v >= 0.50:
		return LevelMedium
	case v >= 0.30:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Structure describes how well an output matches its expected shape.
type Structure struct {
	ExpectedFields []string
	PresentFields  []string
	Text           string
	Keywords       []string
	MinLength      int
	MaxLength      int
}

// Signals are the raw inputs of one confidence calculation.
type Signals struct {
	ProviderConfidence float64
	Agreement          float64
	EvidenceCount      int
	MaxEvidence        int
	Structure          Structure
}

// Component is one weighted term of the final value.
type Component struct {
	Raw          float64 `json:"raw"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Breakdown itemizes the final value; contributions sum to it.
type Breakdown struct {
	Provider  Component `json:"provider"`
	Agreement Component `json:"agreement"`
	Evidence  Component `json:"evidence"`
	Structure Component `json:"structure"`
}

// Result is a scored confidence.
type Result struct {
	Final     float64   `json:"final_confidence"`
	Level     Level     `json:"level"`
	Breakdown Breakdown `json:"breakdown"`
}

// Engine computes weighted confidences. It holds no state.
type Engine struct{}

// NewEngine returns an Engine.
func NewEngine() *Engine { return &Engine{} }

// Calculate scores the signals. Each raw component is clamped to [0,1].
func (e *Engine) Calculate(s Signals) Result {
	b := Breakdown{
		Provider:  component(s.ProviderConfidence, WeightProvider),
		Agreement: component(s.Agreement, WeightAgreement),
		Evidence:  component(evidenceScore(s.EvidenceCount, s.MaxEvidence), WeightEvidence),
		Structure: component(StructureQuality(s.Structure), WeightStructure),
	}
	final := b.Provider.Contribution + b.Agreement.Contribution + b.Evidence.Contribution + b.Structure.Contribution
	return Result{Final: final, Level: LevelFor(final), Breakdown: b}
}

func component(raw, weight float64) Component {
	raw = Clamp(raw)
	return Component{Raw: raw, Weight: weight, Contribution: raw * weight}
}

// Clamp bounds v to [0,1]; NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func evidenceScore(count, limit int) float64 {
	if limit <= 0 || count <= 0 {
		return 0
	}
	return math.Min(1, float64(count)/float64(limit))
}

// StructureQuality blends field coverage (50%), keyword density (25%) and
// length-in-band (25%). Parts with no expectation score 1.
func StructureQuality(s Structure) float64 {
	fields := 1.0
	if len(s.ExpectedFields) > 0 {
		present := make(map[string]struct{}, len(s.PresentFields))
		for _, f := range s.PresentFields {
			present[f] = struct{}{}
		}
		hit := 0
		for _, f := range s.ExpectedFields {
			if _, ok := present[f]; ok {
				hit++
			}
		}
		fields = float64(hit) / float64(len(s.ExpectedFields))
	}

	keywords := 1.0
	if len(s.Keywords) > 0 {
		text := strings.ToLower(s.Text)
		hit := 0
		for _, k := range s.Keywords {
			if k != "" && strings.Contains(text, strings.ToLower(k)) {
				hit++
			}
		}
		keywords = float64(hit) / float64(len(s.Keywords))
	}

	length := 1.0
	n := len(s.Text)
	switch {
	case s.MinLength > 0 && n < s.MinLength:
		length = float64(n) / float64(s.MinLength)
	case s.MaxLength > 0 && n > s.MaxLength:
		length = float64(s.MaxLength) / float64(n)
	}
	return Clamp(0.5*fields + 0.25*keywords + 0.25*length)
}
