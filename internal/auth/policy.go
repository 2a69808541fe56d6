package auth

import "strings"

// Requirement states what a route demands from the caller.
type Requirement string

const (
	// RequirePublic admits the request without a token.
	RequirePublic Requirement = "PUBLIC"
	// RequireAuthenticated demands a valid bearer token.
	RequireAuthenticated Requirement = "AUTHENTICATED"
)

// Rule binds a route pattern to a requirement. Patterns are exact paths,
// or prefixes when they end in "/*".
type Rule struct {
	Pattern     string
	Requirement Requirement
}

// AccessPolicy is a static ordered route table. The first matching rule
// wins; paths that match no rule require authentication, so new routes are
// protected unless explicitly allow-listed.
type AccessPolicy struct {
	rules []Rule
}

// NewAccessPolicy builds a policy from ordered rules.
func NewAccessPolicy(rules ...Rule) *AccessPolicy {
	return &AccessPolicy{rules: rules}
}

// DefaultPolicy lists the public surface: login, registration, and health
// probes. Everything else is protected.
func DefaultPolicy() *AccessPolicy {
	return NewAccessPolicy(
		Rule{Pattern: "/auth/login", Requirement: RequirePublic},
		Rule{Pattern: "/auth/register", Requirement: RequirePublic},
		Rule{Pattern: "/health/*", Requirement: RequirePublic},
	)
}

// RequirementFor resolves the requirement for a request path.
func (p *AccessPolicy) RequirementFor(path string) Requirement {
	for _, rule := range p.rules {
		if matches(rule.Pattern, path) {
			return rule.Requirement
		}
	}
	return RequireAuthenticated
}

func matches(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == pattern
}
