package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type permissionSeed struct {
	name, codename string
	permType       PermissionType
	resource       string
	category       string
}

var defaultPermissions = []permissionSeed{
	{"View Users", "view_users", PermissionRead, "user", "user_management"},
	{"Create Users", "create_users", PermissionCreate, "user", "user_management"},
	{"Edit Users", "edit_users", PermissionUpdate, "user", "user_management"},
	{"Delete Users", "delete_users", PermissionDelete, "user", "user_management"},

	{"View Accounts", "view_accounts", PermissionRead, "account", "account_management"},
	{"Create Accounts", "create_accounts", PermissionCreate, "account", "account_management"},
	{"Edit Accounts", "edit_accounts", PermissionUpdate, "account", "account_management"},
	{"Delete Accounts", "delete_accounts", PermissionDelete, "account", "account_management"},

	{"View Members", "view_members", PermissionRead, "member", "member_management"},
	{"Invite Members", "invite_members", PermissionCreate, "member", "member_management"},
	{"Edit Members", "edit_members", PermissionUpdate, "member", "member_management"},
	{"Remove Members", "remove_members", PermissionDelete, "member", "member_management"},

	{"View Roles", "view_roles", PermissionRead, "role", "permission_management"},
	{"Create Roles", "create_roles", PermissionCreate, "role", "permission_management"},
	{"Edit Roles", "edit_roles", PermissionUpdate, "role", "permission_management"},
	{"Delete Roles", "delete_roles", PermissionDelete, "role", "permission_management"},
	{"View Permissions", "view_permissions", PermissionRead, "permission", "permission_management"},
	{"Manage Permissions", "manage_permissions", PermissionManage, "permission", "permission_management"},

	{"View Dashboard", "view_dashboard", PermissionRead, "dashboard", "dashboard"},
	{"View Reports", "view_reports", PermissionRead, "report", "reporting"},
	{"Export Reports", "export_reports", PermissionExport, "report", "reporting"},

	{"View Settings", "view_settings", PermissionRead, "settings", "settings"},
	{"Edit Settings", "edit_settings", PermissionUpdate, "settings", "settings"},

	{"View Billing", "view_billing", PermissionRead, "billing", "billing"},
	{"Manage Billing", "manage_billing", PermissionManage, "billing", "billing"},
}

type roleSeed struct {
	name, codename, description string
	roleType                    RoleType
	priority                    int
	permissions                 []string // nil means every active permission
}

var defaultRoles = []roleSeed{
	{"Super Administrator", "super_admin", "Full access to the system", RoleTypeSystem, 1000, nil},
	{"Administrator", "admin", "Account administrator with full access", RoleTypeAccount, 900, []string{
		"view_users", "create_users", "edit_users", "delete_users",
		"view_accounts", "edit_accounts",
		"view_members", "invite_members", "edit_members", "remove_members",
		"view_roles", "create_roles", "edit_roles", "delete_roles",
		"view_permissions", "manage_permissions",
		"view_dashboard", "view_reports", "export_reports",
		"view_settings", "edit_settings",
		"view_billing", "manage_billing",
	}},
	{"Manager", "manager", "Manager with limited administration", RoleTypeAccount, 700, []string{
		"view_users", "create_users", "edit_users",
		"view_accounts",
		"view_members", "invite_members", "edit_members",
		"view_roles", "view_permissions",
		"view_dashboard", "view_reports",
		"view_settings",
	}},
	{"Editor", "editor", "Editor with edit permissions", RoleTypeAccount, 500, []string{
		"view_users", "edit_users",
		"view_accounts",
		"view_members",
		"view_dashboard", "view_reports",
		"view_settings",
	}},
	{"Viewer", "viewer", "Read-only user", RoleTypeAccount, 300, []string{
		"view_users",
		"view_accounts",
		"view_members",
		"view_dashboard",
		"view_settings",
	}},
	{"Member", "member", "Basic account member", RoleTypeAccount, 100, []string{
		"view_dashboard",
	}},
}

// DefaultPermissionCodenames lists the codenames SeedDefaults creates.
func DefaultPermissionCodenames() []string {
	codenames := make([]string, len(defaultPermissions))
	for i, p := range defaultPermissions {
		codenames[i] = p.codename
	}
	return codenames
}

// SeedDefaults creates the default permission catalogue and system roles.
// Existing rows are left untouched, so it is safe to run repeatedly.
func (r *RBAC) SeedDefaults(ctx context.Context) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range defaultPermissions {
			perm := Permission{}
			if err := tx.Where("codename = ?", p.codename).
				Attrs(Permission{
					Name:           p.name,
					Codename:       p.codename,
					PermissionType: p.permType,
					Resource:       p.resource,
					Category:       p.category,
					IsActive:       true,
				}).
				FirstOrCreate(&perm).Error; err != nil {
				return fmt.Errorf("seed permission %s: %w", p.codename, err)
			}
		}

		for _, s := range defaultRoles {
			role := Role{}
			if err := tx.Where("codename = ?", s.codename).
				Attrs(Role{
					Name:        s.name,
					Codename:    s.codename,
					Description: s.description,
					RoleType:    s.roleType,
					Priority:    s.priority,
					IsActive:    true,
					IsSystem:    true,
				}).
				FirstOrCreate(&role).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", s.codename, err)
			}

			codenames := s.permissions
			if codenames == nil {
				if err := tx.Model(&Permission{}).
					Where("is_active = ?", true).
					Order("codename").
					Pluck("codename", &codenames).Error; err != nil {
					return err
				}
			}
			if err := attachPermissions(tx, role.ID, codenames); err != nil {
				return fmt.Errorf("seed role %s: %w", s.codename, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.log.Info("seeded default permissions and roles",
		zap.Int("permissions", len(defaultPermissions)),
		zap.Int("roles", len(defaultRoles)))
	return nil
}
