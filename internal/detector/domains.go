package detector

import (
	"regexp"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

// domainRule pairs a compiled regex with the domain it detects. Rules are
// evaluated in order; the first match wins, so more specific patterns are
// listed before broader ones.
type domainRule struct {
	regex  *regexp.Regexp
	domain instinct.Domain
}

// buildDomainRules returns the ordered keyword/path rules used to tag
// candidates with a domain. Candidates matching no rule default to the
// workflow domain.
func buildDomainRules() []*domainRule {
	return []*domainRule{
		// Security first: its vocabulary overlaps testing and workflow.
		{
			regex:  regexp.MustCompile(`(?i)\b(?:vulnerab|CVE-\d|injection|XSS|CSRF|auth(?:entication|orization)?|secrets?|credential|token\s+leak|crypto|TLS|permission|sanitiz)`),
			domain: instinct.DomainSecurity,
		},
		{
			regex:  regexp.MustCompile(`(?i)\b(?:test(?:s|ing)?\b|_test\.go|assert|mock|fixture|coverage|flaky|testify|table[- ]driven)`),
			domain: instinct.DomainTesting,
		},
		{
			regex:  regexp.MustCompile(`(?i)\b(?:architect|interface\s+boundar|layer(?:ing)?|dependency\s+(?:direction|inversion)|package\s+structure|coupling|cohesion|migration)`),
			domain: instinct.DomainArchitecture,
		},
		{
			regex:  regexp.MustCompile(`(?i)\b(?:format(?:ting)?|naming|lint(?:er)?|gofmt|style|comment\s+density|doc\s+comment|indent)`),
			domain: instinct.DomainStyle,
		},
		{
			regex:  regexp.MustCompile(`(?i)\b(?:build|deploy|release|branch|commit|rebase|CI\b|pipeline|make(?:file)?|workflow)`),
			domain: instinct.DomainWorkflow,
		},
	}
}

// classifyDomain tags text with the first matching domain rule,
// defaulting to workflow.
func (d *Detector) classifyDomain(text string) instinct.Domain {
	for _, rule := range d.domainRules {
		if rule.regex.MatchString(text) {
			return rule.domain
		}
	}
	return instinct.DomainWorkflow
}

// errorSignature classifies failure output into a coarse signature class.
// The class is the trigger text of error-resolution candidates, so near
// identical failures merge into the same instinct.
var errorSignatures = []struct {
	regex *regexp.Regexp
	class string
}{
	{regexp.MustCompile(`(?i)\b(?:undefined|undeclared|cannot find package|no required module)`), "unresolved identifier or missing dependency"},
	{regexp.MustCompile(`(?i)\b(?:cannot use .* as|type mismatch|incompatible type)`), "type mismatch"},
	{regexp.MustCompile(`(?i)\b(?:panic:|nil pointer|index out of range)`), "runtime panic"},
	{regexp.MustCompile(`(?i)\b(?:FAIL|--- FAIL|assertion failed|expected .* got)`), "test failure"},
	{regexp.MustCompile(`(?i)\b(?:permission denied|operation not permitted)`), "permission denied"},
	{regexp.MustCompile(`(?i)\b(?:timeout|deadline exceeded|context canceled)`), "timeout or cancellation"},
	{regexp.MustCompile(`(?i)\b(?:race detected|data race)`), "data race"},
}

func classifyError(text string) string {
	for _, sig := range errorSignatures {
		if sig.regex.MatchString(text) {
			return sig.class
		}
	}
	return "command failure"
}
