// Package permission maps (role, permission) to allow/deny through one
// explicit policy table and audits every denial.
package permission

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Policy is an immutable role -> permission table. It is built once at
// startup and shared read-only; changing it requires a restart.
type Policy struct {
	grants map[Role]map[Permission]struct{}
}

// NewPolicy validates and copies table. Roles absent from table get no
// permissions.
func NewPolicy(table map[Role][]Permission) (*Policy, error) {
	grants := make(map[Role]map[Permission]struct{}, len(table))
	for role, perms := range table {
		if !role.IsValid() {
			return nil, fmt.Errorf("policy: unknown role %q", role)
		}
		set := make(map[Permission]struct{}, len(perms))
		for _, perm := range perms {
			if !perm.IsValid() {
				return nil, fmt.Errorf("policy: role %q: unknown permission %q", role, perm)
			}
			set[perm] = struct{}{}
		}
		grants[role] = set
	}
	return &Policy{grants: grants}, nil
}

// DefaultTable is the built-in role table.
func DefaultTable() map[Role][]Permission {
	return map[Role][]Permission{
		RoleGuest:    {ViewPass},
		RoleEmployee: {ViewPass, ScanPass},
		RoleGuard:    {ScanPass, ViewPass},
		RoleHR:       {CreatePass, ViewPass, UpdatePass, ViewAuditLog},
		RoleAdmin: {
			CreatePass, ViewPass, UpdatePass, RevokePass, ScanPass,
			ViewAuditLog, ExportReport, ManageUsers, ViewSensitiveData,
		},
		RoleITSpecialist: {ViewAuditLog, ViewSensitiveData, ConfigureSystem, DeleteData},
		RoleManagement:   {ViewPass, ExportReport, ViewAuditLog},
	}
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultTable())
	if err != nil {
		panic("permission: default table invalid: " + err.Error())
	}
	return p
}

type policyFile struct {
	Roles map[Role][]Permission `yaml:"roles"`
}

// ParsePolicy builds a policy from YAML of the form:
//
//	roles:
//	  guard: [scan_pass, view_pass]
func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("policy: no roles defined")
	}
	return NewPolicy(f.Roles)
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// Allowed is a pure lookup.
func (p *Policy) Allowed(role Role, perm Permission) bool {
	_, ok := p.grants[role][perm]
	return ok
}

// Permissions returns the role's permissions in declaration order.
func (p *Policy) Permissions(role Role) []Permission {
	var out []Permission
	for _, perm := range AllPermissions() {
		if p.Allowed(role, perm) {
			out = append(out, perm)
		}
	}
	return out
}

// Roles returns the roles present in the table, sorted.
func (p *Policy) Roles() []Role {
	out := make([]Role, 0, len(p.grants))
	for role := range p.grants {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
