// Package detect turns raw signals (page content, URLs, request headers) into
// candidate threats. The content analyzer runs the persisted pattern registry;
// the heuristic, URL and header analyzers carry fixed rule tables and run
// independently of it. All analyzers are synchronous over a single input and
// never fail on malformed input; the worst case is an empty result.
package detect

import (
	"context"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/wardstone/wardstone/pkg/patterns"
	"github.com/wardstone/wardstone/pkg/threat"
)

// ContentAnalyzer scans text against every enabled registry pattern.
type ContentAnalyzer struct {
	registry *patterns.Registry
}

// NewContentAnalyzer builds a content analyzer over a pattern registry.
func NewContentAnalyzer(reg *patterns.Registry) *ContentAnalyzer {
	return &ContentAnalyzer{registry: reg}
}

// Analyze emits one threat per matching pattern, carrying the pattern's
// type/severity/confidence, the first matched substrings as indicators, and
// the pattern id plus total match count in metadata.
//
// Input is NFKC-normalized first so fullwidth and compatibility code points
// cannot slip past ASCII-oriented rules.
func (a *ContentAnalyzer) Analyze(ctx context.Context, text, source string) ([]threat.Threat, error) {
	matchers, err := a.registry.Matchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect: load patterns: %w", err)
	}

	normalized := norm.NFKC.String(text)

	var out []threat.Threat
	for _, m := range matchers {
		hits := m.Regex.FindAllString(normalized, -1)
		if len(hits) == 0 {
			continue
		}

		p := m.Pattern
		t := threat.New(p.Type, p.Severity, p.Confidence,
			fmt.Sprintf("Pattern match: %s", p.Name),
			fmt.Sprintf("Content from %s matched detection pattern %q %d time(s)", source, p.Name, len(hits)),
			source)
		t.Indicators = threat.CapIndicators(hits)
		t.Metadata = map[string]any{
			"patternId":  p.ID,
			"matchCount": len(hits),
		}
		out = append(out, t)
	}
	return out, nil
}
