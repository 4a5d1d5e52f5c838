package patterns

import (
	"time"

	"github.com/google/uuid"

	"github.com/wardstone/wardstone/pkg/threat"
)

// =============================================================================
// DEFAULT PATTERN SET
// Seeded exactly once, only when the registry is empty at initialization.
// These are the baseline detections every deployment starts with; operators
// extend the set through the registry CRUD or config customPatterns.
// =============================================================================

// DefaultPatterns builds the seed set with fresh ids and timestamps.
func DefaultPatterns() []Pattern {
	now := time.Now().UnixMilli()

	seed := func(name, description string, typ threat.Type, rule Rule, sev threat.Severity, confidence int) Pattern {
		return Pattern{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			Type:        typ,
			Rule:        rule,
			Severity:    sev,
			Confidence:  confidence,
			Enabled:     true,
			Created:     now,
			Updated:     now,
		}
	}

	return []Pattern{
		seed("script_tag", "Inline script tag in page content",
			threat.TypeXSS,
			Rule{Kind: KindRegex, Value: `<script[^>]*>[\s\S]*?</script>`, Flags: "i"},
			threat.SeverityHigh, 90),
		seed("sql_union_select", "SQL UNION-based injection probe",
			threat.TypeInjection,
			Rule{Kind: KindRegex, Value: `union\s+(all\s+)?select`, Flags: "i"},
			threat.SeverityHigh, 85),
		seed("path_traversal", "Directory traversal sequence",
			threat.TypeInjection,
			Rule{Kind: KindRegex, Value: `\.\.[\\/](\.\.[\\/])*`, Flags: "i"},
			threat.SeverityMedium, 80),
		seed("command_execution", "Command or code execution call",
			threat.TypeMalware,
			Rule{Kind: KindRegex, Value: `\b(exec|system|eval|popen)\s*\(`, Flags: "i"},
			threat.SeverityHigh, 85),
	}
}
