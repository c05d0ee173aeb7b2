// Package policy holds the route rule table and the access decision logic.
//
// The table is constructed once at startup and immutable afterwards.
// Matching is most-specific-first: exact rules beat prefix rules, longer
// prefixes beat shorter ones, and prefix matches only apply on path
// segment boundaries, so exactly one rule wins for any dispatched path.
package policy

import (
	"sort"
	"strings"

	"github.com/shopmesh/gateway/internal/auth"
	"github.com/shopmesh/gateway/internal/config"
)

// Access classifies who may use a route.
type Access int

const (
	// Public routes require no credential.
	Public Access = iota
	// Authenticated routes require a valid credential for every method.
	Authenticated
	// AuthenticatedWrite routes are public for GET and require a valid
	// credential for mutating methods.
	AuthenticatedWrite
	// AdminWrite routes are public for GET and require the admin role
	// for mutating methods.
	AdminWrite
	// AdminOnly routes require the admin role for every method.
	AdminOnly
)

// Decision is the outcome of evaluating a rule against a request.
type Decision int

const (
	// Allow admits the request without a credential requirement.
	Allow Decision = iota
	// RequireAuth means a valid credential is required.
	RequireAuth
	// RequireAdmin means a valid credential with the admin role is required.
	RequireAdmin
)

// Rewrite is an exact-prefix substitution applied once to the forwarded
// path, case-sensitive.
type Rewrite struct {
	Prefix      string
	Replacement string
}

// Apply rewrites a path. Paths not carrying the prefix pass through
// unchanged.
func (rw Rewrite) Apply(path string) string {
	if rw.Prefix == "" || !strings.HasPrefix(path, rw.Prefix) {
		return path
	}
	rewritten := rw.Replacement + path[len(rw.Prefix):]
	if rewritten == "" {
		rewritten = "/"
	}
	return rewritten
}

// Rule maps a path to a target service with an access class.
type Rule struct {
	// Path is the gateway-level path this rule matches.
	Path string

	// Exact restricts the rule to the path itself (no sub-paths).
	Exact bool

	// Service is the logical upstream service name.
	Service string

	// Rewrite is applied to the path before forwarding.
	Rewrite Rewrite

	// Access is the route's access class.
	Access Access

	// AuthSensitive marks routes subject to the stricter rate-limit policy.
	AuthSensitive bool
}

// matches reports whether the rule matches the (trailing-slash trimmed)
// request path.
func (r *Rule) matches(path string) bool {
	if path == r.Path {
		return true
	}
	if r.Exact {
		return false
	}
	return strings.HasPrefix(path, r.Path+"/")
}

// Table is an immutable, precedence-ordered set of route rules.
type Table struct {
	rules []Rule
}

// NewTable builds a table from rules, ordering them most-specific-first.
func NewTable(rules []Rule) *Table {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)

	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i].Path) != len(ordered[j].Path) {
			return len(ordered[i].Path) > len(ordered[j].Path)
		}
		return ordered[i].Exact && !ordered[j].Exact
	})

	return &Table{rules: ordered}
}

// Match returns the single best rule for the path, or nil when the path
// is not covered by the table.
func (t *Table) Match(path string) *Rule {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	for i := range t.rules {
		if t.rules[i].matches(path) {
			return &t.rules[i]
		}
	}
	return nil
}

// Rules returns the ordered rules.
func (t *Table) Rules() []Rule {
	return t.rules
}

// Evaluate decides the credential requirement for a matched rule and
// method. Admin requirements fail closed: the caller must reject the
// request unless verified claims with the admin role are present.
func Evaluate(rule *Rule, method string) Decision {
	mutating := method != "GET" && method != "HEAD" && method != "OPTIONS"

	switch rule.Access {
	case Public:
		return Allow
	case Authenticated:
		return RequireAuth
	case AuthenticatedWrite:
		if mutating {
			return RequireAuth
		}
		return Allow
	case AdminWrite:
		if mutating {
			return RequireAdmin
		}
		return Allow
	case AdminOnly:
		return RequireAdmin
	default:
		return RequireAdmin
	}
}

// Satisfies reports whether the claims meet the decision. A nil claims
// value satisfies only Allow.
func Satisfies(decision Decision, claims *auth.Claims) bool {
	switch decision {
	case Allow:
		return true
	case RequireAuth:
		return claims != nil
	case RequireAdmin:
		return claims.IsAdmin()
	default:
		return false
	}
}

// stripAPI removes the gateway-level /api prefix before forwarding.
var stripAPI = Rewrite{Prefix: "/api", Replacement: ""}

// DefaultTable returns the storefront route table.
//
// The product collection keeps the source policy's asymmetry: writes to
// the collection require the admin role while writes to a single product
// only require authentication.
func DefaultTable() *Table {
	return NewTable([]Rule{
		{Path: "/api/auth/login", Service: config.ServiceAuth, Rewrite: stripAPI, Access: Public, AuthSensitive: true},
		{Path: "/api/auth/register", Service: config.ServiceAuth, Rewrite: stripAPI, Access: Public, AuthSensitive: true},
		{Path: "/api/auth/refresh", Service: config.ServiceAuth, Rewrite: stripAPI, Access: Public, AuthSensitive: true},
		{Path: "/api/auth", Service: config.ServiceAuth, Rewrite: stripAPI, Access: Authenticated},
		{Path: "/api/users", Service: config.ServiceUser, Rewrite: stripAPI, Access: Authenticated},
		{Path: "/api/products/search", Service: config.ServiceProduct, Rewrite: stripAPI, Access: AuthenticatedWrite},
		{Path: "/api/products", Exact: true, Service: config.ServiceProduct, Rewrite: stripAPI, Access: AdminWrite},
		{Path: "/api/products", Service: config.ServiceProduct, Rewrite: stripAPI, Access: AuthenticatedWrite},
		{Path: "/api/orders", Service: config.ServiceOrder, Rewrite: stripAPI, Access: Authenticated},
		{Path: "/api/payments", Service: config.ServicePayment, Rewrite: stripAPI, Access: Authenticated},
		{Path: "/api/notifications", Service: config.ServiceNotification, Rewrite: stripAPI, Access: Authenticated},
		{Path: "/api/admin", Service: config.ServiceAdmin, Rewrite: stripAPI, Access: AdminOnly},
	})
}
