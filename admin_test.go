package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioThroughGormStore(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	f.assign(t, AssignRoleInput{AccountID: &f.acme.ID})
	ctx := context.Background()

	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"), InAccount(f.acme.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"), InAccount(f.other.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.HasRole(ctx, f.user, "editor", InAccount(f.acme.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, f.svc.CheckPermission(ctx, f.user, "edit_content", InAccount(f.other.ID)), ErrPermissionDenied)
	assert.NoError(t, f.svc.ValidateAnyPermission(ctx, f.user, []string{"missing", "edit_content"}, InAccount(f.acme.ID)))
	assert.ErrorIs(t, f.svc.ValidateAllPermissions(ctx, f.user, []string{"missing", "edit_content"}), ErrPermissionDenied)
}

func TestCreatePermissionDefaultsAndDuplicates(t *testing.T) {
	svc := newTestRBAC(t)
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, CreatePermissionInput{
		Name: "Read Invoices", PermissionType: PermissionRead, Resource: "Invoice Line",
	})
	require.NoError(t, err)
	assert.Equal(t, "read_invoice_line", perm.Codename)
	assert.Equal(t, "general", perm.Category)

	_, err = svc.CreatePermission(ctx, CreatePermissionInput{
		Name: "Other", Codename: "read_invoice_line", PermissionType: PermissionRead, Resource: "x",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = svc.CreatePermission(ctx, CreatePermissionInput{Name: "Bad", PermissionType: "approve", Resource: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateRoleAccountCodename(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))

	role, err := f.svc.CreateRole(context.Background(), CreateRoleInput{Name: "Support Agent", AccountID: &f.acme.ID})
	require.NoError(t, err)
	assert.Equal(t, "acme_support_agent", role.Codename)
	assert.Equal(t, RoleTypeAccount, role.RoleType)

	_, err = f.svc.CreateRole(context.Background(), CreateRoleInput{Name: "Broken", Permissions: []string{"missing"}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AssignRole(context.Background(), AssignRoleInput{UserID: f.user.ID, RoleID: role.ID, AccountID: &f.other.ID})
	assert.ErrorIs(t, err, ErrInvalidInput, "account roles stay in their account")
	_, err = f.svc.AssignRole(context.Background(), AssignRoleInput{UserID: f.user.ID, RoleID: role.ID})
	assert.ErrorIs(t, err, ErrInvalidInput, "account roles cannot be assigned globally")
	_, err = f.svc.AssignRole(context.Background(), AssignRoleInput{UserID: f.user.ID, RoleID: role.ID, AccountID: &f.acme.ID})
	assert.NoError(t, err)

	roles, err := f.svc.ListRoles(context.Background(), &f.other.ID)
	require.NoError(t, err)
	for _, r := range roles {
		assert.NotEqual(t, "acme_support_agent", r.Codename)
	}
}

func TestSetParentRoleRejectsCycles(t *testing.T) {
	svc := newTestRBAC(t)
	ctx := context.Background()
	a, err := svc.CreateRole(ctx, CreateRoleInput{Name: "A"})
	require.NoError(t, err)
	b, err := svc.CreateRole(ctx, CreateRoleInput{Name: "B", ParentRoleID: &a.ID})
	require.NoError(t, err)
	c, err := svc.CreateRole(ctx, CreateRoleInput{Name: "C", ParentRoleID: &b.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetParentRole(ctx, a.ID, &c.ID, nil), ErrRoleCycle)
	assert.ErrorIs(t, svc.SetParentRole(ctx, a.ID, &a.ID, nil), ErrRoleCycle)
	assert.NoError(t, svc.SetParentRole(ctx, c.ID, &a.ID, nil))
	assert.NoError(t, svc.SetParentRole(ctx, c.ID, nil, nil))

	ids, err := svc.DescendantRoleIDs(ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)
}

func TestValidateRoleHierarchyReportsInjectedCycle(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()
	parent, err := f.svc.CreateRole(ctx, CreateRoleInput{Name: "Parent"})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetParentRole(ctx, f.role.ID, &parent.ID, nil))
	require.NoError(t, f.svc.ValidateRoleHierarchy(ctx))

	// bypass SetParentRole to store a cycle
	require.NoError(t, f.svc.db.Model(&Role{}).Where("id = ?", parent.ID).Update("parent_role_id", f.role.ID).Error)
	assert.ErrorIs(t, f.svc.ValidateRoleHierarchy(ctx), ErrRoleCycle)

	f.assign(t, AssignRoleInput{})
	perms, err := f.svc.GetEffectivePermissions(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"edit_content"}, codenames(perms))
}

func TestDeletePermissionWhileReferenced(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.DeletePermission(ctx, "edit_content", nil), ErrPermissionInUse)

	require.NoError(t, f.svc.RemoveRolePermission(ctx, f.role.ID, f.perm.ID, nil))
	require.NoError(t, f.svc.DeletePermission(ctx, "edit_content", nil))

	_, err := f.svc.GetPermission(ctx, "edit_content")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRolePermissionToggle(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	f.assign(t, AssignRoleInput{})
	ctx := context.Background()

	require.NoError(t, f.svc.SetRolePermissionActive(ctx, f.role.ID, f.perm.ID, false, nil))
	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok)

	rp, err := f.svc.AddRolePermission(ctx, f.role.ID, f.perm.ID, map[string]any{"own_only": true}, nil)
	require.NoError(t, err)
	assert.True(t, rp.IsActive)
	assert.Equal(t, true, rp.Conditions["own_only"])

	rps, err := f.svc.ListRolePermissions(ctx, f.role.ID)
	require.NoError(t, err)
	require.Len(t, rps, 1)
	assert.Equal(t, "edit_content", rps[0].Permission.Codename)

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSystemRolesAreImmutable(t *testing.T) {
	svc := newTestRBAC(t)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaults(ctx))

	superAdmin, err := svc.GetRole(ctx, "super_admin")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteRole(ctx, superAdmin.ID, nil), ErrSystemRole)
	assert.ErrorIs(t, svc.SetRoleActive(ctx, superAdmin.ID, false, nil), ErrSystemRole)
	assert.ErrorIs(t, svc.SetParentRole(ctx, superAdmin.ID, nil, nil), ErrSystemRole)
	_, err = svc.UpdateRole(ctx, superAdmin.ID, UpdateRoleInput{Name: "Root"})
	assert.ErrorIs(t, err, ErrSystemRole)
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t, newTestRBAC(t, func(c *Config) { c.EnableAuditLogging = true }))
	ctx := context.Background()
	actor := uuid.New()

	role, err := f.svc.UpdateRole(ctx, f.role.ID, UpdateRoleInput{
		Name: "Content Editor", Description: "edits content", Priority: 550, ActorID: &actor,
	})
	require.NoError(t, err)
	assert.Equal(t, "Content Editor", role.Name)

	stored, err := f.svc.GetRole(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, "Content Editor", stored.Name)
	assert.Equal(t, "edits content", stored.Description)
	assert.Equal(t, 550, stored.Priority)

	_, err = f.svc.CreateRole(ctx, CreateRoleInput{Name: "Reviewer"})
	require.NoError(t, err)
	_, err = f.svc.UpdateRole(ctx, f.role.ID, UpdateRoleInput{Name: "Reviewer"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = f.svc.UpdateRole(ctx, f.role.ID, UpdateRoleInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.UpdateRole(ctx, uuid.New(), UpdateRoleInput{Name: "Ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	logs, err := f.svc.ListAuditLogs(ctx, AuditFilter{ActorID: &actor, Action: "update_role"})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestUpdatePermission(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()

	perm, err := f.svc.UpdatePermission(ctx, "edit_content", UpdatePermissionInput{
		Name: "Edit Articles", Description: "change published articles",
	})
	require.NoError(t, err)
	assert.Equal(t, "Edit Articles", perm.Name)
	assert.Equal(t, "content", perm.Category, "empty category keeps the current one")

	stored, err := f.svc.GetPermission(ctx, "edit_content")
	require.NoError(t, err)
	assert.Equal(t, "Edit Articles", stored.Name)
	assert.Equal(t, "change published articles", stored.Description)

	_, err = f.svc.CreatePermission(ctx, CreatePermissionInput{
		Name: "View Content", PermissionType: PermissionRead, Resource: "content",
	})
	require.NoError(t, err)
	_, err = f.svc.UpdatePermission(ctx, "edit_content", UpdatePermissionInput{Name: "View Content"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = f.svc.UpdatePermission(ctx, "missing", UpdatePermissionInput{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRoleDetachesChildren(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()
	child, err := f.svc.CreateRole(ctx, CreateRoleInput{Name: "Child", ParentRoleID: &f.role.ID})
	require.NoError(t, err)
	f.assign(t, AssignRoleInput{})

	require.NoError(t, f.svc.DeleteRole(ctx, f.role.ID, nil))

	var reloaded Role
	require.NoError(t, f.svc.db.First(&reloaded, "id = ?", child.ID).Error)
	assert.Nil(t, reloaded.ParentRoleID)

	rows, err := f.svc.ListUserRoles(ctx, f.user.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	svc := newTestRBAC(t)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaults(ctx))
	require.NoError(t, svc.SeedDefaults(ctx))

	var perms, roles, links int64
	require.NoError(t, svc.db.Model(&Permission{}).Count(&perms).Error)
	require.NoError(t, svc.db.Model(&Role{}).Count(&roles).Error)
	require.NoError(t, svc.db.Model(&RolePermission{}).Count(&links).Error)
	assert.EqualValues(t, len(DefaultPermissionCodenames()), perms)
	assert.EqualValues(t, 6, roles)
	// 25 + 23 + 12 + 7 + 5 + 1
	assert.EqualValues(t, 73, links)

	roleList, err := svc.ListRoles(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, roleList)
	assert.Equal(t, "super_admin", roleList[0].Codename)

	export, err := svc.GetPermission(ctx, "export_reports")
	require.NoError(t, err)
	assert.Equal(t, PermissionExport, export.PermissionType)
}

func TestAssignRoleValidation(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()
	now := time.Now()

	_, err := f.svc.AssignRole(ctx, AssignRoleInput{
		UserID: f.user.ID, RoleID: f.role.ID,
		ValidFrom: ptr(now), ValidUntil: ptr(now.Add(-time.Hour)),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.assign(t, AssignRoleInput{AccountID: &f.acme.ID})
	_, err = f.svc.AssignRole(ctx, AssignRoleInput{UserID: f.user.ID, RoleID: f.role.ID, AccountID: &f.acme.ID})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	missing := uuid.New()
	_, err = f.svc.AssignRole(ctx, AssignRoleInput{UserID: f.user.ID, RoleID: f.role.ID, AccountID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRoleStatusTransitions(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ur := f.assign(t, AssignRoleInput{})
	ctx := context.Background()

	require.NoError(t, f.svc.SuspendUserRole(ctx, ur.ID, nil))
	ok, err := f.svc.HasRole(ctx, f.user, "editor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.svc.ActivateUserRole(ctx, ur.ID, nil))
	ok, err = f.svc.HasRole(ctx, f.user, "editor")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.svc.RevokeRole(ctx, ur.ID, nil))
	_, err = f.svc.GetUserRole(ctx, ur.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireUserRoles(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()
	now := time.Now()
	expired := f.assign(t, AssignRoleInput{ValidUntil: ptr(now.Add(-time.Minute))})
	current := f.assign(t, AssignRoleInput{AccountID: &f.acme.ID, ValidUntil: ptr(now.Add(time.Hour))})

	n, err := f.svc.ExpireUserRoles(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetUserRole(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	got, err = f.svc.GetUserRole(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	n, err = f.svc.ExpireUserRoles(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDirectGrantsAndDenies(t *testing.T) {
	f := newFixture(t, newTestRBAC(t, func(c *Config) { c.HonorDenyGrants = true }))
	f.assign(t, AssignRoleInput{})
	ctx := context.Background()

	_, err := f.svc.CreatePermission(ctx, CreatePermissionInput{
		Name: "Export Content", PermissionType: PermissionExport, Resource: "content",
	})
	require.NoError(t, err)

	up, err := f.svc.GrantPermission(ctx, UserPermissionInput{UserID: f.user.ID, Permission: "export_content", AccountID: &f.acme.ID})
	require.NoError(t, err)
	assert.Equal(t, Grant, up.GrantType)

	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("export_content"), InAccount(f.acme.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("export_content"), InAccount(f.other.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	deny, err := f.svc.DenyPermission(ctx, UserPermissionInput{UserID: f.user.ID, Permission: "edit_content"})
	require.NoError(t, err)
	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok, "deny overrides the role grant")

	require.NoError(t, f.svc.RevokeUserPermission(ctx, deny.ID, nil))
	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := f.svc.GrantPermission(ctx, UserPermissionInput{UserID: f.user.ID, Permission: "export_content", AccountID: &f.acme.ID})
	require.NoError(t, err)
	assert.Equal(t, up.ID, again.ID, "granting twice updates the same row")

	rows, err := f.svc.ListUserPermissions(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestAccountMembership(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()

	require.NoError(t, f.svc.AddMember(ctx, f.acme.ID, f.user.ID, nil))
	ok, err := f.svc.IsMember(ctx, f.acme.ID, f.user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsMember(ctx, f.other.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	def, err := f.svc.DefaultAccount(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, f.acme.ID, def.ID)

	bySlug, err := f.svc.GetAccountBySlug(ctx, "other-corp")
	require.NoError(t, err)
	assert.Equal(t, f.other.ID, bySlug.ID)

	require.NoError(t, f.svc.RemoveMember(ctx, f.acme.ID, f.user.ID, nil))
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, f.acme.ID, f.user.ID, nil), ErrNotFound)
	_, err = f.svc.DefaultAccount(ctx, f.user.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, newTestRBAC(t, func(c *Config) { c.EnableAuditLogging = true }))
	actor := uuid.New()
	f.assign(t, AssignRoleInput{AssignedBy: &actor})

	logs, err := f.svc.ListAuditLogs(context.Background(), AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "assign_role", logs[0].Action)

	got, err := f.svc.GetAuditLog(context.Background(), logs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Assigned role: editor", got.Details)

	all, err := f.svc.ListAuditLogs(context.Background(), AuditFilter{Action: "create_role"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBulkOperations(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	ctx := context.Background()
	bob, err := f.svc.CreateUser(ctx, "bob", "", false)
	require.NoError(t, err)

	require.NoError(t, f.svc.BulkAssignRoles(ctx, []BulkAssignment{
		{UserID: f.user.ID, AccountID: &f.acme.ID, RoleIDs: []uuid.UUID{f.role.ID}},
	}, nil))
	require.NoError(t, f.svc.BulkAssignRoles(ctx, []BulkAssignment{
		{UserID: f.user.ID, AccountID: &f.acme.ID, RoleIDs: []uuid.UUID{f.role.ID}},
	}, nil), "repeating an assignment is a no-op")

	checks := []BulkCheck{
		{User: f.user, Permission: "edit_content", AccountID: &f.acme.ID},
		{User: bob, Permission: "edit_content"},
		{User: f.user, Permission: "edit_content", AccountID: &f.other.ID},
		{User: f.user, Permission: "missing"},
	}
	results := f.svc.CheckBulkPermissions(ctx, checks)
	require.Len(t, results, len(checks))
	assert.True(t, results[0].Allowed)
	assert.False(t, results[1].Allowed)
	assert.Equal(t, bob.ID, results[1].UserID)
	assert.False(t, results[2].Allowed)
	assert.False(t, results[3].Allowed)
	for _, res := range results {
		assert.NoError(t, res.Error)
	}

	require.NoError(t, f.svc.BulkRemoveRoles(ctx, map[uuid.UUID][]uuid.UUID{f.user.ID: {f.role.ID}}, nil))
	rows, err := f.svc.ListUserRoles(ctx, f.user.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPermissionDeactivation(t *testing.T) {
	f := newFixture(t, newTestRBAC(t))
	f.assign(t, AssignRoleInput{})
	ctx := context.Background()

	require.NoError(t, f.svc.SetPermissionActive(ctx, "edit_content", false, nil))
	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok)

	perms, err := f.svc.ListPermissions(ctx, "content")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.False(t, perms[0].IsActive)
}
