package confidence

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestLevels(t *testing.T) {
	cases := map[float64]Level{
		0.9:  LevelHigh,
		0.75: LevelHigh,
		0.74: LevelMedium,
		0.5:  LevelMedium,
		0.3:  LevelLow,
		0.29: LevelVeryLow,
		0:    LevelVeryLow,
	}
	for v, want := range cases {
		if got := LevelFor(v); got != want {
			t.Fatalf("LevelFor(%v) = %s, want %s", v, got, want)
		}
	}
}

func TestCalculatePerfectSignals(t *testing.T) {
	e := NewEngine()
	res := e.Calculate(Signals{
		ProviderConfidence: 1,
		Agreement:          1,
		EvidenceCount:      5,
		MaxEvidence:        5,
		Structure:          Structure{Text: "anything"},
	})
	if math.Abs(res.Final-1) > 1e-9 || res.Level != LevelHigh {
		t.Fatalf("expected 1.0/high, got %v/%s", res.Final, res.Level)
	}
}

func TestCalculateClampsOutOfRangeInputs(t *testing.T) {
	e := NewEngine()
	res := e.Calculate(Signals{ProviderConfidence: 7, Agreement: -3, EvidenceCount: 100, MaxEvidence: 1})
	if res.Breakdown.Provider.Raw != 1 || res.Breakdown.Agreement.Raw != 0 {
		t.Fatalf("expected clamped raws, got %+v", res.Breakdown)
	}
	res = e.Calculate(Signals{ProviderConfidence: math.NaN()})
	if math.IsNaN(res.Final) {
		t.Fatal("NaN must not propagate")
	}
}

func TestConfidenceBoundsAndBreakdownSum(t *testing.T) {
	e := NewEngine()
	rapid.Check(t, func(t *rapid.T) {
		s := Signals{
			ProviderConfidence: rapid.Float64Range(-2, 2).Draw(t, "provider"),
			Agreement:          rapid.Float64Range(-2, 2).Draw(t, "agreement"),
			EvidenceCount:      rapid.IntRange(-5, 50).Draw(t, "evidence"),
			MaxEvidence:        rapid.IntRange(0, 20).Draw(t, "maxEvidence"),
			Structure: Structure{
				ExpectedFields: []string{"a", "b"},
				PresentFields:  rapid.SliceOfDistinct(rapid.SampledFrom([]string{"a", "b", "c"}), func(s string) string { return s }).Draw(t, "present"),
				Text:           rapid.String().Draw(t, "text"),
				Keywords:       []string{"gap"},
				MinLength:      rapid.IntRange(0, 50).Draw(t, "minLen"),
				MaxLength:      rapid.IntRange(0, 500).Draw(t, "maxLen"),
			},
		}
		res := e.Calculate(s)
		if res.Final < 0 || res.Final > 1 {
			t.Fatalf("final out of range: %v", res.Final)
		}
		b := res.Breakdown
		sum := b.Provider.Contribution + b.Agreement.Contribution + b.Evidence.Contribution + b.Structure.Contribution
		if math.Abs(sum-res.Final) > 1e-6 {
			t.Fatalf("contributions %v do not sum to final %v", sum, res.Final)
		}
	})
}

func TestStructureQuality(t *testing.T) {
	full := StructureQuality(Structure{
		ExpectedFields: []string{"gaps", "patterns"},
		PresentFields:  []string{"gaps", "patterns"},
		Text:           "clear gaps identified",
		Keywords:       []string{"gaps"},
		MinLength:      5,
		MaxLength:      100,
	})
	if full != 1 {
		t.Fatalf("expected full structure score, got %v", full)
	}
	half := StructureQuality(Structure{
		ExpectedFields: []string{"gaps", "patterns"},
		PresentFields:  []string{"gaps"},
		Text:           "clear gaps identified",
	})
	if math.Abs(half-0.75) > 1e-9 {
		t.Fatalf("expected 0.75 with half the fields, got %v", half)
	}
}

func TestAggregateConfidences(t *testing.T) {
	vals := []float64{0.2, 0.8, 0.5, 0.9}
	check := func(m Method, w []float64, want float64) {
		t.Helper()
		got, err := AggregateConfidences(vals, m, w)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("%s: got %v want %v", m, got, want)
		}
	}
	check(MethodMin, nil, 0.2)
	check(MethodMax, nil, 0.9)
	check(MethodMedian, nil, 0.65)
	check(MethodWeightedAverage, nil, 0.6)
	check(MethodWeightedAverage, []float64{1, 0, 0, 0}, 0.2)

	if got, _ := AggregateConfidences(nil, MethodMax, nil); got != 0 {
		t.Fatalf("empty input should give 0, got %v", got)
	}
	if _, err := AggregateConfidences(vals, "mode", nil); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestMetaFoldsPreviousSimilarity(t *testing.T) {
	e := NewEngine()
	prev := 0.0
	without := e.Meta(MetaSignals{ProviderConfidence: 0.8, Agreement: 1})
	with := e.Meta(MetaSignals{ProviderConfidence: 0.8, Agreement: 1, PreviousSimilarity: &prev})
	if with.Breakdown.Agreement.Raw != 0.5 {
		t.Fatalf("expected agreement averaged with previous similarity, got %v", with.Breakdown.Agreement.Raw)
	}
	if with.Final >= without.Final {
		t.Fatal("a disagreeing previous ranking should lower confidence")
	}
}
