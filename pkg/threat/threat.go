// Package threat defines the core detection record types shared by every
// analyzer, the ledger, and the report generator. A Threat is immutable once
// created, except for its resolution fields which are set exactly once by the
// ledger's resolve operation.
package threat

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of attack a detection record describes.
type Type string

const (
	TypeMalware             Type = "malware"
	TypePhishing            Type = "phishing"
	TypeXSS                 Type = "xss"
	TypeInjection           Type = "injection"
	TypeDataExfiltration    Type = "data_exfiltration"
	TypePrivilegeEscalation Type = "privilege_escalation"
	TypeSuspiciousBehavior  Type = "suspicious_behavior"
)

// Types lists every valid threat type, in a stable order.
var Types = []Type{
	TypeMalware,
	TypePhishing,
	TypeXSS,
	TypeInjection,
	TypeDataExfiltration,
	TypePrivilegeEscalation,
	TypeSuspiciousBehavior,
}

// Valid reports whether t is one of the fixed threat types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is an ordinal urgency classification, independent of confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the fixed severities.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Rank returns the ordinal position of a severity (low=0 .. critical=3).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// MaxIndicators caps the matched-substring evidence carried on a single threat.
const MaxIndicators = 5

// Threat is a single scored security detection record.
type Threat struct {
	ID          string   `json:"id"`
	Timestamp   int64    `json:"timestamp"` // epoch milliseconds, creation time
	Type        Type     `json:"type"`
	Severity    Severity `json:"severity"`
	Confidence  int      `json:"confidence"` // 0-100, detector certainty
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Source      string   `json:"source"`
	Target      string   `json:"target,omitempty"`
	Indicators  []string `json:"indicators,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`

	FalsePositive bool   `json:"falsePositive"`
	Resolved      bool   `json:"resolved"`
	ResolvedAt    int64  `json:"resolvedAt,omitempty"`
	ResolvedBy    string `json:"resolvedBy,omitempty"`

	// Metadata carries free-form provenance, e.g. pattern id and match count.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// New creates a threat with a fresh id, the current timestamp, clamped
// confidence, and the standard mitigation list for its type.
func New(typ Type, sev Severity, confidence int, title, description, source string) Threat {
	return Threat{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		Type:        typ,
		Severity:    sev,
		Confidence:  ClampConfidence(confidence),
		Title:       title,
		Description: description,
		Source:      source,
		Mitigations: MitigationsFor(typ),
	}
}

// ClampConfidence forces a confidence value into [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// CapIndicators truncates an indicator list to MaxIndicators entries,
// preserving order.
func CapIndicators(in []string) []string {
	if len(in) <= MaxIndicators {
		return in
	}
	return in[:MaxIndicators]
}
