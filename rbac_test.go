package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestRBAC(t *testing.T, configure ...func(*Config)) *RBAC {
	t.Helper()
	cfg := Config{DB: newTestDB(t), AutoMigrate: true}
	for _, fn := range configure {
		fn(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

// fixture holds a small tenant setup: one permission granted through one
// account-scoped role.
type fixture struct {
	svc   *RBAC
	perm  *Permission
	role  *Role
	acme  *Account
	other *Account
	user  *User
}

func newFixture(t *testing.T, svc *RBAC) fixture {
	t.Helper()
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, CreatePermissionInput{
		Name: "Edit Content", Codename: "edit_content",
		PermissionType: PermissionUpdate, Resource: "content", Category: "content",
	})
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, CreateRoleInput{
		Name: "Editor", Codename: "editor", Priority: 500, Permissions: []string{"edit_content"},
	})
	require.NoError(t, err)
	acme, err := svc.CreateAccount(ctx, "Acme", "", nil)
	require.NoError(t, err)
	other, err := svc.CreateAccount(ctx, "Other Corp", "", nil)
	require.NoError(t, err)
	user, err := svc.CreateUser(ctx, "alice", "alice@example.com", false)
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, acme.ID, user.ID, nil))

	return fixture{svc: svc, perm: perm, role: role, acme: acme, other: other, user: user}
}

func (f fixture) assign(t *testing.T, in AssignRoleInput) *UserRole {
	t.Helper()
	if in.UserID == uuid.Nil {
		in.UserID = f.user.ID
	}
	if in.RoleID == uuid.Nil {
		in.RoleID = f.role.ID
	}
	ur, err := f.svc.AssignRole(context.Background(), in)
	require.NoError(t, err)
	return ur
}
