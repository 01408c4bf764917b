package auth

import (
	"net/http"
	"strings"
)

// Rule requires Role for requests matching Path exactly or starting with
// Prefix. Empty Methods matches every method.
type Rule struct {
	Path    string
	Prefix  string
	Methods []string
	Role    Role
}

func (r Rule) matches(req *http.Request) bool {
	path := req.URL.Path
	switch {
	case r.Path != "" && path != r.Path:
		return false
	case r.Path == "" && !strings.HasPrefix(path, r.Prefix):
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, method := range r.Methods {
		if req.Method == method {
			return true
		}
	}
	return false
}

var readMethods = []string{http.MethodGet, http.MethodHead}

// BillingRules is the access table of the billing API.
var BillingRules = []Rule{
	{Path: "/api/v1/statements/generate", Role: RoleOperator},
	{Path: "/api/v1/statements/generate-all", Role: RoleAdmin},
	{Prefix: "/api/v1/statements", Methods: readMethods, Role: RoleViewer},
	{Prefix: "/api/v1/tariffs", Methods: readMethods, Role: RoleViewer},
	{Prefix: "/api/v1/containers/", Methods: readMethods, Role: RoleViewer},
	{Prefix: "/api/", Methods: readMethods, Role: RoleViewer},
	{Prefix: "/api/", Role: RoleAdmin},
}

// Policy maps a request to the role it requires. The first matching rule wins.
type Policy struct {
	rules          []Rule
	exemptPaths    map[string]struct{}
	exemptPrefixes []string
}

// NewPolicy builds a policy. Exempt entries ending in "/" are prefixes.
func NewPolicy(rules []Rule, exempt ...string) Policy {
	p := Policy{rules: rules, exemptPaths: make(map[string]struct{}, len(exempt))}
	for _, path := range exempt {
		if strings.HasSuffix(path, "/") {
			p.exemptPrefixes = append(p.exemptPrefixes, path)
			continue
		}
		p.exemptPaths[path] = struct{}{}
	}
	return p
}

// IsExempt reports whether the request skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.exemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.exemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role a request needs; ok is false when the
// request is exempt or no rule applies.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if p.IsExempt(r) {
		return "", false
	}
	for _, rule := range p.rules {
		if rule.matches(r) {
			return rule.Role, true
		}
	}
	return "", false
}
