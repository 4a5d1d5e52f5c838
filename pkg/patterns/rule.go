// Package patterns holds the persisted registry of named detection rules the
// content analyzer runs against incoming text. Rules are stored in a
// language-neutral tagged form (literal or regex plus flags) and compiled to
// regexps once per revision, never per scan.
package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wardstone/wardstone/pkg/threat"
)

// RuleKind tags how a rule's value is interpreted.
type RuleKind string

const (
	KindLiteral RuleKind = "literal" // substring match, value quoted verbatim
	KindRegex   RuleKind = "regex"   // regular expression
)

// Rule is the serializable matching core of a pattern. Flags currently
// recognizes "i" for case-insensitive matching; all matching is global
// (every occurrence is reported, not just the first).
type Rule struct {
	Kind  RuleKind `json:"kind"`
	Value string   `json:"value"`
	Flags string   `json:"flags,omitempty"`
}

// Compile turns a rule into a regexp. Literal rules are quoted so their value
// can never be misread as regex syntax.
func (r Rule) Compile() (*regexp.Regexp, error) {
	expr := r.Value
	if r.Kind == KindLiteral {
		expr = regexp.QuoteMeta(expr)
	}
	if strings.Contains(r.Flags, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("patterns: compile %q: %w", r.Value, err)
	}
	return re, nil
}

// Pattern is a named, reusable detection rule with scoring metadata.
type Pattern struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        threat.Type     `json:"type"`
	Rule        Rule            `json:"rule"`
	Severity    threat.Severity `json:"severity"`
	Confidence  int             `json:"confidence"`
	Enabled     bool            `json:"enabled"`
	Created     int64           `json:"created"` // epoch ms
	Updated     int64           `json:"updated"` // epoch ms
}
