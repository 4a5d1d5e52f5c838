package detect

import (
	"net/url"
	"strings"

	"github.com/wardstone/wardstone/pkg/threat"
)

// Hostname fragments associated with link shorteners and phishing lures.
var suspiciousHostFragments = []string{
	"bit.ly", "tinyurl", "goo.gl", "t.co", "is.gd", "ow.ly", "buff.ly",
	"login-", "-login", "verify-", "-verify", "secure-", "account-",
	"update-", "confirm-", "signin-", "webscr",
}

// Query parameter fragments that look like command, eval or redirect plumbing.
var suspiciousParamFragments = []string{
	"cmd", "exec", "eval", "system", "shell",
	"redirect=", "url=http", "goto=", "next=http", "script",
}

// URLAnalyzer inspects request URLs for phishing hosts and injected parameters.
type URLAnalyzer struct{}

// NewURLAnalyzer builds the URL analyzer.
func NewURLAnalyzer() *URLAnalyzer {
	return &URLAnalyzer{}
}

// Analyze parses rawURL and checks hostname and query parameters against the
// fixed fragment lists. A URL that does not parse is itself a weak signal: it
// yields a single low-severity suspicious_behavior threat instead of an error.
func (a *URLAnalyzer) Analyze(rawURL, source string) []threat.Threat {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		t := threat.New(threat.TypeSuspiciousBehavior, threat.SeverityLow, 50,
			"Malformed URL",
			"Request URL could not be parsed",
			source)
		t.Indicators = []string{rawURL}
		t.Target = rawURL
		return []threat.Threat{t}
	}

	var out []threat.Threat

	host := strings.ToLower(parsed.Hostname())
	for _, frag := range suspiciousHostFragments {
		if strings.Contains(host, frag) {
			t := threat.New(threat.TypePhishing, threat.SeverityHigh, 80,
				"Suspicious hostname",
				"Hostname matches known shortener or phishing naming pattern",
				source)
			t.Indicators = []string{host}
			t.Target = rawURL
			t.Metadata = map[string]any{"fragment": frag}
			out = append(out, t)
			break // one hostname threat is enough
		}
	}

	var paramHits []string
	for key, values := range parsed.Query() {
		probe := strings.ToLower(key)
		for _, v := range values {
			probe += "=" + strings.ToLower(v)
		}
		for _, frag := range suspiciousParamFragments {
			if strings.Contains(probe, frag) {
				paramHits = append(paramHits, key)
				break
			}
		}
	}
	if len(paramHits) > 0 {
		t := threat.New(threat.TypeInjection, threat.SeverityMedium, 70,
			"Suspicious query parameters",
			"Query string carries command, eval or redirect-like parameters",
			source)
		t.Indicators = threat.CapIndicators(paramHits)
		t.Target = rawURL
		out = append(out, t)
	}

	return out
}
