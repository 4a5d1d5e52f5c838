package detect

import (
	"regexp"

	"github.com/wardstone/wardstone/pkg/threat"
)

// heuristicConfidence is the flat score every built-in heuristic carries.
const heuristicConfidence = 75

// heuristicRule is one fixed, always-compiled detection rule. These run
// independently of the pattern registry and cannot be edited at runtime.
type heuristicRule struct {
	name     string
	regex    *regexp.Regexp
	typ      threat.Type
	severity threat.Severity
}

// The ten built-in heuristics. Compiled once at package init.
var heuristicRules = []heuristicRule{
	{"eval_call", regexp.MustCompile(`(?i)\beval\s*\(`), threat.TypeXSS, threat.SeverityHigh},
	{"document_write", regexp.MustCompile(`(?i)document\.write\s*\(`), threat.TypeXSS, threat.SeverityMedium},
	{"innerhtml_assignment", regexp.MustCompile(`(?i)\.innerHTML\s*=`), threat.TypeXSS, threat.SeverityMedium},
	{"script_tag", regexp.MustCompile(`(?i)<script\b`), threat.TypeXSS, threat.SeverityHigh},
	{"javascript_protocol", regexp.MustCompile(`(?i)javascript:`), threat.TypeXSS, threat.SeverityMedium},
	{"sql_union", regexp.MustCompile(`(?i)union\s+(all\s+)?select`), threat.TypeInjection, threat.SeverityHigh},
	{"sql_drop_table", regexp.MustCompile(`(?i)drop\s+table`), threat.TypeInjection, threat.SeverityHigh},
	{"path_traversal", regexp.MustCompile(`\.\.[\\/]`), threat.TypeInjection, threat.SeverityMedium},
	{"etc_passwd", regexp.MustCompile(`/etc/passwd`), threat.TypeDataExfiltration, threat.SeverityHigh},
	{"shell_invocation", regexp.MustCompile(`(?i)(/bin/(ba)?sh|cmd\.exe|powershell(\.exe)?\s)`), threat.TypeMalware, threat.SeverityHigh},
}

// HeuristicAnalyzer runs the fixed rule table over raw text.
type HeuristicAnalyzer struct{}

// NewHeuristicAnalyzer builds the heuristic analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

// Analyze emits one medium-trust threat per matching heuristic.
func (a *HeuristicAnalyzer) Analyze(text, source string) []threat.Threat {
	var out []threat.Threat
	for _, rule := range heuristicRules {
		hits := rule.regex.FindAllString(text, -1)
		if len(hits) == 0 {
			continue
		}
		t := threat.New(rule.typ, rule.severity, heuristicConfidence,
			"Heuristic match: "+rule.name,
			"Content matched built-in heuristic "+rule.name,
			source)
		t.Indicators = threat.CapIndicators(hits)
		t.Metadata = map[string]any{
			"heuristic":  rule.name,
			"matchCount": len(hits),
		}
		out = append(out, t)
	}
	return out
}
