package detect

import (
	"context"

	"github.com/wardstone/wardstone/pkg/threat"
)

// MLAnalyzer is a deliberate extension point for a future model-backed
// classifier. Its contract is strict: it returns an empty result, never
// errors, and never blocks the pipeline. Deployments that want model scoring
// replace this implementation behind the same signature.
type MLAnalyzer struct{}

// NewMLAnalyzer builds the no-op analyzer.
func NewMLAnalyzer() *MLAnalyzer {
	return &MLAnalyzer{}
}

// Analyze returns no threats.
func (a *MLAnalyzer) Analyze(ctx context.Context, text, source string) []threat.Threat {
	return nil
}
