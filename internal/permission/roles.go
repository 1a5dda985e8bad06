package permission

import (
	"strings"

	dErrors "passgate/pkg/domain-errors"
)

// Role is one of the fixed roles supplied by the identity collaborator.
type Role string

const (
	RoleGuest        Role = "guest"
	RoleEmployee     Role = "employee"
	RoleGuard        Role = "guard"
	RoleHR           Role = "hr"
	RoleAdmin        Role = "admin"
	RoleITSpecialist Role = "it_specialist"
	RoleManagement   Role = "management"
)

// Permission is a coarse capability checked before every privileged call.
type Permission string

const (
	CreatePass        Permission = "create_pass"
	ViewPass          Permission = "view_pass"
	UpdatePass        Permission = "update_pass"
	RevokePass        Permission = "revoke_pass"
	ScanPass          Permission = "scan_pass"
	ViewAuditLog      Permission = "view_audit_log"
	ExportReport      Permission = "export_report"
	ManageUsers       Permission = "manage_users"
	ConfigureSystem   Permission = "configure_system"
	ViewSensitiveData Permission = "view_sensitive_data"
	DeleteData        Permission = "delete_data"
)

// AllRoles lists every role in declaration order.
func AllRoles() []Role {
	return []Role{RoleGuest, RoleEmployee, RoleGuard, RoleHR, RoleAdmin, RoleITSpecialist, RoleManagement}
}

// AllPermissions lists every permission in declaration order.
func AllPermissions() []Permission {
	return []Permission{
		CreatePass, ViewPass, UpdatePass, RevokePass, ScanPass,
		ViewAuditLog, ExportReport, ManageUsers, ConfigureSystem,
		ViewSensitiveData, DeleteData,
	}
}

func (r Role) IsValid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

func (p Permission) IsValid() bool {
	for _, known := range AllPermissions() {
		if p == known {
			return true
		}
	}
	return false
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
	return r, nil
}
