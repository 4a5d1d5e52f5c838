package detect

import (
	"regexp"
	"strings"

	"github.com/wardstone/wardstone/pkg/threat"
)

// headerConfidence is the flat score for all header-based detections.
const headerConfidence = 65

// headerRule checks one specific request header against one pattern.
type headerRule struct {
	header string
	name   string
	regex  *regexp.Regexp
	typ    threat.Type
}

// Only three headers are inspected: user-agent, referer, x-forwarded-for.
var headerRules = []headerRule{
	{"user-agent", "scanner_user_agent",
		regexp.MustCompile(`(?i)(sqlmap|nikto|nmap|masscan|metasploit|dirbuster|gobuster|wfuzz)`),
		threat.TypeSuspiciousBehavior},
	{"user-agent", "scripted_client",
		regexp.MustCompile(`(?i)^(python-requests|curl|wget|libwww-perl)\b`),
		threat.TypeSuspiciousBehavior},
	{"referer", "script_referer",
		regexp.MustCompile(`(?i)(javascript:|data:text/html|<script)`),
		threat.TypeXSS},
	{"x-forwarded-for", "forged_forwarding_chain",
		regexp.MustCompile(`(?i)(unknown|127\.0\.0\.1|0\.0\.0\.0|[^0-9a-fA-F:.,\s])`),
		threat.TypeSuspiciousBehavior},
}

// HeaderAnalyzer inspects request headers for scanner tooling and spoofing.
type HeaderAnalyzer struct{}

// NewHeaderAnalyzer builds the header analyzer.
func NewHeaderAnalyzer() *HeaderAnalyzer {
	return &HeaderAnalyzer{}
}

// Analyze matches the three inspected headers against their fixed rules.
// Header names are matched case-insensitively.
func (a *HeaderAnalyzer) Analyze(headers map[string]string, source string) []threat.Threat {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}

	var out []threat.Threat
	for _, rule := range headerRules {
		value, ok := lowered[rule.header]
		if !ok || value == "" {
			continue
		}
		hit := rule.regex.FindString(value)
		if hit == "" {
			continue
		}
		t := threat.New(rule.typ, threat.SeverityMedium, headerConfidence,
			"Suspicious header: "+rule.header,
			"Header "+rule.header+" matched rule "+rule.name,
			source)
		t.Indicators = []string{hit}
		t.Metadata = map[string]any{
			"header": rule.header,
			"rule":   rule.name,
		}
		out = append(out, t)
	}
	return out
}
