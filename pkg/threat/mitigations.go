package threat

// mitigationTable maps each threat type to its fixed remediation suggestions.
// Both the content and heuristic analyzers attach these verbatim.
var mitigationTable = map[Type][]string{
	TypeMalware: {
		"Run a full malware scan",
		"Isolate the affected system",
		"Update all software to latest versions",
	},
	TypePhishing: {
		"Block the suspicious domain",
		"Educate users about phishing indicators",
		"Enable email filtering",
	},
	TypeXSS: {
		"Sanitize all user input",
		"Deploy a Content Security Policy",
		"Avoid injecting raw HTML",
	},
	TypeInjection: {
		"Use parameterized queries",
		"Validate and escape input",
		"Deploy a web application firewall",
	},
	TypeDataExfiltration: {
		"Monitor outbound data transfers",
		"Deploy data loss prevention controls",
		"Restrict file access permissions",
	},
	TypePrivilegeEscalation: {
		"Review permission grants",
		"Apply the principle of least privilege",
		"Monitor administrative activity",
	},
	TypeSuspiciousBehavior: {
		"Investigate the flagged activity",
		"Review related logs",
		"Apply temporary access restrictions",
	},
}

// defaultMitigations is returned for any type outside the fixed enum.
var defaultMitigations = []string{
	"Investigate further",
	"Escalate to the security team",
}

// MitigationsFor returns the fixed remediation list for a threat type.
// Unknown types get the generic escalation advice, never an empty list.
func MitigationsFor(t Type) []string {
	if m, ok := mitigationTable[t]; ok {
		out := make([]string, len(m))
		copy(out, m)
		return out
	}
	out := make([]string, len(defaultMitigations))
	copy(out, defaultMitigations)
	return out
}
