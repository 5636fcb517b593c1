package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/textsim"
)

// ErrEmptyItem is returned for items with no content to analyse.
var ErrEmptyItem = errors.New("item has no content")

// Micro analyses a single item.
type Micro struct {
	Caller   ModelCaller
	Engine   *confidence.Engine
	Settings CallSettings
}

// NewMicro builds a micro worker.
func NewMicro(caller ModelCaller, engine *confidence.Engine, settings CallSettings) *Micro {
	return &Micro{Caller: caller, Engine: engine, Settings: settings}
}

// Run extracts findings from one item. It never retries.
func (m *Micro) Run(ctx context.Context, in MicroInput) (MicroOutput, error) {
	if strings.TrimSpace(in.Item.Content) == "" && strings.TrimSpace(in.Item.Title) == "" {
		return MicroOutput{}, fmt.Errorf("micro %s: %w", in.Item.ID, ErrEmptyItem)
	}
	c, err := complete(ctx, m.Caller, m.Settings, TierMicro, microSystem, microPrompt(in))
	if err != nil {
		return MicroOutput{}, fmt.Errorf("micro %s: %w", in.Item.ID, err)
	}
	var f Findings
	present, err := decodeObject(c.Text, &f)
	if err != nil {
		return MicroOutput{}, fmt.Errorf("micro %s: %w", in.Item.ID, err)
	}
	f.Contributions = cleanList(f.Contributions)
	f.Limitations = cleanList(f.Limitations)
	f.Gaps = cleanList(f.Gaps)
	f.Keywords = cleanList(f.Keywords)

	out := MicroOutput{
		ItemID:      in.Item.ID,
		Iteration:   in.Iteration,
		Findings:    f,
		Fingerprint: Fingerprint(f),
		Agreement:   c.Agreement,
		Providers:   c.Providers,

		ProviderFailures: c.Failures,
	}
	out.Confidence = m.Engine.Micro(confidence.MicroSignals{
		ProviderConfidence: c.Confidence,
		Agreement:          c.Agreement,
		Contributions:      len(f.Contributions),
		Limitations:        len(f.Limitations),
		Gaps:               len(f.Gaps),
		PresentFields:      present,
		Text:               c.Text,
		Keywords:           f.Keywords,
	})
	return out, nil
}

// Fingerprint is the sorted content-token set of an item's keywords,
// contributions and gaps. Limitations are left out as they are mostly generic.
func Fingerprint(f Findings) []string {
	parts := make([]string, 0, len(f.Keywords)+len(f.Contributions)+len(f.Gaps))
	parts = append(parts, f.Keywords...)
	parts = append(parts, f.Contributions...)
	parts = append(parts, f.Gaps...)
	return textsim.ContentTokens(strings.Join(parts, " "))
}
