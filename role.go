package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateRoleInput describes a new role. An empty Codename is derived from
// the name, prefixed with the account slug for account roles.
type CreateRoleInput struct {
	Name         string   `validate:"required,max=100"`
	Codename     string   `validate:"omitempty,max=100"`
	Description  string   `validate:"max=2000"`
	RoleType     RoleType `validate:"omitempty,oneof=system account custom"`
	AccountID    *uuid.UUID
	ParentRoleID *uuid.UUID
	Priority     int `validate:"gte=0"`
	IsSystem     bool
	Permissions  []string `validate:"dive,required"`
	ActorID      *uuid.UUID
}

// CreateRole creates a new active role and attaches the listed permissions.
func (r *RBAC) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	if err := r.validateInput(in); err != nil {
		return nil, err
	}

	codename := strings.TrimSpace(in.Codename)
	if in.AccountID != nil {
		var account Account
		if err := r.db.WithContext(ctx).First(&account, "id = ?", *in.AccountID).Error; err != nil {
			return nil, wrapStoreErr("role account", err)
		}
		if codename == "" {
			codename = account.Slug + "_" + slugify(in.Name, "_")
		}
	}
	if codename == "" {
		codename = slugify(in.Name, "_")
	}
	if in.ParentRoleID != nil {
		var parent Role
		if err := r.db.WithContext(ctx).First(&parent, "id = ?", *in.ParentRoleID).Error; err != nil {
			return nil, wrapStoreErr("parent role", err)
		}
	}
	roleType := in.RoleType
	if roleType == "" {
		roleType = RoleTypeCustom
		if in.AccountID != nil {
			roleType = RoleTypeAccount
		}
	}

	role := &Role{
		Name:         in.Name,
		Codename:     codename,
		Description:  in.Description,
		RoleType:     roleType,
		AccountID:    in.AccountID,
		ParentRoleID: in.ParentRoleID,
		Priority:     in.Priority,
		IsActive:     true,
		IsSystem:     in.IsSystem,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Role{}).Where("codename = ?", codename).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: role %s", ErrAlreadyExists, codename)
		}
		if err := tx.Create(role).Error; err != nil {
			return err
		}
		return attachPermissions(tx, role.ID, in.Permissions)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	r.logAudit(ctx, in.ActorID, "create_role", "role", role.ID, "Created role: "+codename)
	return role, nil
}

// attachPermissions links codenames to a role, skipping links that exist.
func attachPermissions(tx *gorm.DB, roleID uuid.UUID, codenames []string) error {
	for _, codename := range codenames {
		var perm Permission
		if err := tx.Where("codename = ?", codename).First(&perm).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: permission %s", ErrNotFound, codename)
			}
			return err
		}
		rp := RolePermission{RoleID: roleID, PermissionID: perm.ID, IsActive: true}
		if err := tx.Where("role_id = ? AND permission_id = ?", roleID, perm.ID).
			FirstOrCreate(&rp).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetRole retrieves a role by codename.
func (r *RBAC) GetRole(ctx context.Context, codename string) (*Role, error) {
	if codename == "" {
		return nil, ErrInvalidInput
	}

	var role Role
	if err := r.db.WithContext(ctx).Where("codename = ?", codename).First(&role).Error; err != nil {
		return nil, wrapStoreErr("get role", err)
	}

	return &role, nil
}

// GetRoleByID retrieves a role by id.
func (r *RBAC) GetRoleByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidInput
	}
	var role Role
	if err := r.db.WithContext(ctx).First(&role, "id = ?", id).Error; err != nil {
		return nil, wrapStoreErr("get role", err)
	}
	return &role, nil
}

// UpdateRoleInput carries the editable fields of a role.
type UpdateRoleInput struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=2000"`
	Priority    int    `validate:"gte=0"`
	ActorID     *uuid.UUID
}

// UpdateRole renames a non-system role and changes its description and
// priority. The codename stays fixed.
func (r *RBAC) UpdateRole(ctx context.Context, roleID uuid.UUID, in UpdateRoleInput) (*Role, error) {
	if err := r.validateInput(in); err != nil {
		return nil, err
	}
	role, err := r.GetRoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrSystemRole
	}

	var count int64
	query := r.db.WithContext(ctx).Model(&Role{}).Where("name = ? AND id <> ?", in.Name, roleID)
	if role.AccountID == nil {
		query = query.Where("account_id IS NULL")
	} else {
		query = query.Where("account_id = ?", *role.AccountID)
	}
	if err := query.Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check role name: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: role named %s", ErrAlreadyExists, in.Name)
	}

	err = r.db.WithContext(ctx).Model(role).Updates(map[string]any{
		"name":        in.Name,
		"description": in.Description,
		"priority":    in.Priority,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	role.Name, role.Description, role.Priority = in.Name, in.Description, in.Priority

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, in.ActorID, "update_role", "role", role.ID, "Updated role: "+role.Codename)
	return role, nil
}

// ListRoles retrieves roles, highest priority first. With an account it
// returns the system-wide roles plus that account's roles.
func (r *RBAC) ListRoles(ctx context.Context, accountID *uuid.UUID) ([]Role, error) {
	var roles []Role
	query := r.db.WithContext(ctx).Order("priority DESC, name")
	if accountID != nil {
		query = query.Where("(account_id IS NULL OR account_id = ?)", *accountID)
	}
	if err := query.Find(&roles).Error; err != nil {
		return nil, wrapStoreErr("list roles", err)
	}
	return roles, nil
}

// SetParentRole changes the role a role inherits from. A nil parent detaches
// it. Links that would close a cycle are rejected with ErrRoleCycle.
func (r *RBAC) SetParentRole(ctx context.Context, roleID uuid.UUID, parentID *uuid.UUID, actorID *uuid.UUID) error {
	role, err := r.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	if parentID != nil {
		if *parentID == roleID {
			return fmt.Errorf("%w: %s cannot inherit from itself", ErrRoleCycle, role.Codename)
		}
		if _, err := r.GetRoleByID(ctx, *parentID); err != nil {
			return err
		}
		cyclic, err := r.inheritsFrom(ctx, *parentID, roleID)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("%w: %s is an ancestor of the new parent", ErrRoleCycle, role.Codename)
		}
	}

	if err := r.db.WithContext(ctx).Model(role).Update("parent_role_id", parentID).Error; err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, actorID, "set_parent_role", "role", roleID, "Updated parent of role: "+role.Codename)
	return nil
}

// SetRoleActive enables or disables a role.
func (r *RBAC) SetRoleActive(ctx context.Context, roleID uuid.UUID, active bool, actorID *uuid.UUID) error {
	role, err := r.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	if err := r.db.WithContext(ctx).Model(role).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, actorID, "set_role_active", "role", roleID, fmt.Sprintf("is_active=%t", active))
	return nil
}

// DeleteRole removes a non-system role with its permission links and
// assignments. Child roles are detached rather than deleted.
func (r *RBAC) DeleteRole(ctx context.Context, roleID uuid.UUID, actorID *uuid.UUID) error {
	role, err := r.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", roleID).Delete(&RolePermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", roleID).Delete(&UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Role{}).Where("parent_role_id = ?", roleID).
			Update("parent_role_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(role).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, actorID, "delete_role", "role", roleID, "Deleted role: "+role.Codename)
	return nil
}
