package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyMatrix(t *testing.T) {
	expected := map[Role][]Permission{
		RoleGuest:        {ViewPass},
		RoleEmployee:     {ViewPass, ScanPass},
		RoleGuard:        {ViewPass, ScanPass},
		RoleHR:           {CreatePass, ViewPass, UpdatePass, ViewAuditLog},
		RoleAdmin:        {CreatePass, ViewPass, UpdatePass, RevokePass, ScanPass, ViewAuditLog, ExportReport, ManageUsers, ViewSensitiveData},
		RoleITSpecialist: {ViewAuditLog, ConfigureSystem, ViewSensitiveData, DeleteData},
		RoleManagement:   {ViewPass, ViewAuditLog, ExportReport},
	}
	policy := DefaultPolicy()

	for _, role := range AllRoles() {
		granted := make(map[Permission]bool)
		for _, perm := range expected[role] {
			granted[perm] = true
		}
		for _, perm := range AllPermissions() {
			assert.Equal(t, granted[perm], policy.Allowed(role, perm), "role=%s permission=%s", role, perm)
		}
	}
}

func TestPolicyUnknownRoleHasNothing(t *testing.T) {
	policy := DefaultPolicy()
	for _, perm := range AllPermissions() {
		assert.False(t, policy.Allowed(Role("contractor"), perm))
	}
	assert.Empty(t, policy.Permissions(Role("contractor")))
}

func TestPermissionsDeclarationOrder(t *testing.T) {
	assert.Equal(t, []Permission{ViewPass, ScanPass}, DefaultPolicy().Permissions(RoleGuard))
}

func TestNewPolicyRejectsUnknownNames(t *testing.T) {
	_, err := NewPolicy(map[Role][]Permission{"janitor": {ViewPass}})
	require.Error(t, err)

	_, err = NewPolicy(map[Role][]Permission{RoleGuard: {"open_doors"}})
	require.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		policy, err := ParsePolicy([]byte("roles:\n  guard: [scan_pass]\n  hr: [create_pass, view_pass]\n"))
		require.NoError(t, err)
		assert.True(t, policy.Allowed(RoleGuard, ScanPass))
		assert.False(t, policy.Allowed(RoleGuard, ViewPass))
		assert.True(t, policy.Allowed(RoleHR, CreatePass))
		assert.False(t, policy.Allowed(RoleAdmin, ViewPass))
		assert.Equal(t, []Role{RoleGuard, RoleHR}, policy.Roles())
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := ParsePolicy([]byte("roles: {}\n"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ParsePolicy([]byte("roles: [guard"))
		require.Error(t, err)
	})
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  employee: [view_pass]\n"), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.True(t, policy.Allowed(RoleEmployee, ViewPass))
	assert.False(t, policy.Allowed(RoleEmployee, ScanPass))

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  Guard ")
	require.NoError(t, err)
	assert.Equal(t, RoleGuard, role)

	_, err = ParseRole("visitor")
	require.Error(t, err)
}
