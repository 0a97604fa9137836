package engine

import (
	"regexp"
	"strings"
)

// callRef matches function-call-like identifiers such as LoadConfig() or
// store.AppendMessage(...), the other accepted form of a concrete reference.
var callRef = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*\(`)

// ValidateProposal is the deterministic system rule behind the
// validate_proposal step: a proposal (and its review) must anchor itself in
// concrete file or function references, not generalities.
func ValidateProposal(state PlanningState) (bool, []string) {
	text := state.Proposal + "\n" + state.Review
	var issues []string
	if len(ExtractFileRefs(text)) == 0 && !callRef.MatchString(text) {
		issues = append(issues, "proposal does not reference any concrete file or function")
	}
	if strings.TrimSpace(state.Proposal) == "" {
		issues = append(issues, "proposal text is empty")
	}
	return len(issues) == 0, issues
}

// ExtractFileRefs pulls path-like tokens out of free text: anything with a
// directory separator whose last segment carries an extension.
func ExtractFileRefs(text string) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, field := range strings.Fields(text) {
		token := strings.Trim(field, "`\"',:;()[]{}")
		if !strings.Contains(token, "/") {
			continue
		}
		base := token[strings.LastIndex(token, "/")+1:]
		if base == "" || !strings.Contains(base, ".") {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		refs = append(refs, token)
	}
	return refs
}
