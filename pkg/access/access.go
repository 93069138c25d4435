// Package access decides whether a requester may read or delete a stored file.
//
// Read checks run in a fixed order and the first failure wins:
//
//  1. platform administrators are refused outright (CROSS_TENANT_ADMIN_BLOCKED);
//  2. the requester must belong to the file's tenant (TENANT_ISOLATION_VIOLATION);
//  3. files with a restricted audience are only readable by privileged roles
//     (RESTRICTED_CONTENT).
//
// Delete is reserved to the uploader (NOT_OWNER), after the same tenant check.
// The gate only decides; recording decisions is left to the caller.
package access

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Reason codes carried by a denied Decision.
const (
	CodeCrossTenantAdmin = "CROSS_TENANT_ADMIN_BLOCKED"
	CodeTenantIsolation  = "TENANT_ISOLATION_VIOLATION"
	CodeRestricted       = "RESTRICTED_CONTENT"
	CodeNotOwner         = "NOT_OWNER"
)

// Subject is the authenticated requester.
type Subject struct {
	ID       string
	TenantID string
	Role     string
}

// Resource is the part of a file record the gate looks at.
type Resource struct {
	TenantID     string
	UploadedBy   string
	Restrictions json.RawMessage
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string // empty when allowed
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Policy names the roles the gate treats specially. Role names compare
// case-insensitively.
type Policy struct {
	// AdminRoles span all tenants and are never allowed to read tenant content.
	AdminRoles []string `yaml:"admin_roles" env:"ADMIN_ROLES" envSeparator:","`
	// PrivilegedRoles may read content with restrictedAudience set to true.
	PrivilegedRoles []string `yaml:"privileged_roles" env:"PRIVILEGED_ROLES" envSeparator:","`
}

// DefaultPolicy returns the stock role sets.
func DefaultPolicy() Policy {
	return Policy{
		AdminRoles:      []string{"system_admin", "super_admin"},
		PrivilegedRoles: []string{"elder", "knowledge_keeper"},
	}
}

// Gate evaluates read and delete requests against a Policy.
type Gate struct {
	admin      map[string]struct{}
	privileged map[string]struct{}
}

// New creates a Gate for p.
func New(p Policy) *Gate {
	return &Gate{
		admin:      roleSet(p.AdminRoles),
		privileged: roleSet(p.PrivilegedRoles),
	}
}

// AuthorizeRead decides whether s may read r.
func (g *Gate) AuthorizeRead(r Resource, s Subject) Decision {
	if hasRole(g.admin, s.Role) {
		return deny(CodeCrossTenantAdmin)
	}
	if s.TenantID == "" || s.TenantID != r.TenantID {
		return deny(CodeTenantIsolation)
	}

	a := parseAudience(r.Restrictions)
	switch {
	case !a.restricted:
		return allow()
	case a.roles != nil:
		if hasRole(a.roles, s.Role) {
			return allow()
		}
	case hasRole(g.privileged, s.Role):
		return allow()
	}
	return deny(CodeRestricted)
}

// AuthorizeDelete decides whether s may delete r. Only the uploader may.
func (g *Gate) AuthorizeDelete(r Resource, s Subject) Decision {
	if s.TenantID == "" || s.TenantID != r.TenantID {
		return deny(CodeTenantIsolation)
	}
	if s.ID == "" || s.ID != r.UploadedBy {
		return deny(CodeNotOwner)
	}
	return allow()
}

// Restricted reports whether raw restrictions limit the audience of a file.
// Malformed restrictions count as restricted.
func Restricted(raw json.RawMessage) bool {
	return parseAudience(raw).restricted
}

type audience struct {
	restricted bool
	// roles overrides the policy's privileged set when the restriction names
	// its own audience. Empty and non-nil means nobody qualifies.
	roles map[string]struct{}
}

// parseAudience reads restrictedAudience from the opaque restrictions
// document. It accepts a boolean, a role name or a list of role names.
// Anything it cannot understand locks the file to nobody.
func parseAudience(raw json.RawMessage) audience {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return audience{}
	}

	var doc struct {
		RestrictedAudience json.RawMessage `json:"restrictedAudience"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return closed()
	}

	v := bytes.TrimSpace(doc.RestrictedAudience)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return audience{}
	}

	var flag bool
	if err := json.Unmarshal(v, &flag); err == nil {
		return audience{restricted: flag}
	}
	var role string
	if err := json.Unmarshal(v, &role); err == nil {
		return audience{restricted: true, roles: roleSet([]string{role})}
	}
	var roles []string
	if err := json.Unmarshal(v, &roles); err == nil {
		return audience{restricted: true, roles: roleSet(roles)}
	}
	return closed()
}

func closed() audience {
	return audience{restricted: true, roles: map[string]struct{}{}}
}

func roleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r = normalizeRole(r); r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

func hasRole(set map[string]struct{}, role string) bool {
	role = normalizeRole(role)
	if role == "" {
		return false
	}
	_, ok := set[role]
	return ok
}

func normalizeRole(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}
