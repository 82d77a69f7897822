package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreatePermissionInput describes a new permission. An empty Codename is
// derived as "<type>_<resource>".
type CreatePermissionInput struct {
	Name           string         `validate:"required,max=100"`
	Codename       string         `validate:"omitempty,max=100"`
	Description    string         `validate:"max=2000"`
	PermissionType PermissionType `validate:"required,oneof=create read update delete manage admin export"`
	Resource       string         `validate:"required,max=100"`
	Category       string         `validate:"omitempty,max=50"`
	ActorID        *uuid.UUID
}

func (r *RBAC) validateInput(in any) error {
	if err := r.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func slugify(s, sep string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", sep)
}

// CreatePermission creates a new active permission.
func (r *RBAC) CreatePermission(ctx context.Context, in CreatePermissionInput) (*Permission, error) {
	if err := r.validateInput(in); err != nil {
		return nil, err
	}
	codename := strings.TrimSpace(in.Codename)
	if codename == "" {
		codename = slugify(fmt.Sprintf("%s_%s", in.PermissionType, in.Resource), "_")
	}
	category := in.Category
	if category == "" {
		category = "general"
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&Permission{}).
		Where("codename = ? OR name = ?", codename, in.Name).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: permission %s", ErrAlreadyExists, codename)
	}

	perm := &Permission{
		Name:           in.Name,
		Codename:       codename,
		Description:    in.Description,
		PermissionType: in.PermissionType,
		Resource:       in.Resource,
		Category:       category,
		IsActive:       true,
	}
	if err := r.db.WithContext(ctx).Create(perm).Error; err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}

	r.logAudit(ctx, in.ActorID, "create_permission", "permission", perm.ID, "Created permission: "+codename)
	return perm, nil
}

// GetPermission retrieves a permission by codename, active or not.
func (r *RBAC) GetPermission(ctx context.Context, codename string) (*Permission, error) {
	if codename == "" {
		return nil, ErrInvalidInput
	}

	var perm Permission
	if err := r.db.WithContext(ctx).Where("codename = ?", codename).First(&perm).Error; err != nil {
		return nil, wrapStoreErr("get permission", err)
	}

	return &perm, nil
}

// ListPermissions retrieves all permissions, optionally within one category.
func (r *RBAC) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	var perms []Permission
	query := r.db.WithContext(ctx).Order("category, resource, permission_type, codename")
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Find(&perms).Error; err != nil {
		return nil, wrapStoreErr("list permissions", err)
	}
	return perms, nil
}

// UpdatePermissionInput carries the editable fields of a permission.
type UpdatePermissionInput struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=2000"`
	Category    string `validate:"omitempty,max=50"`
	ActorID     *uuid.UUID
}

// UpdatePermission changes the display fields of a permission. The
// codename, type and resource stay fixed. An empty category keeps the
// current one.
func (r *RBAC) UpdatePermission(ctx context.Context, codename string, in UpdatePermissionInput) (*Permission, error) {
	if err := r.validateInput(in); err != nil {
		return nil, err
	}
	perm, err := r.GetPermission(ctx, codename)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&Permission{}).
		Where("name = ? AND id <> ?", in.Name, perm.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check permission name: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: permission named %s", ErrAlreadyExists, in.Name)
	}

	updates := map[string]any{"name": in.Name, "description": in.Description}
	if in.Category != "" {
		updates["category"] = in.Category
	}
	if err := r.db.WithContext(ctx).Model(perm).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}
	perm.Name, perm.Description = in.Name, in.Description
	if in.Category != "" {
		perm.Category = in.Category
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, in.ActorID, "update_permission", "permission", perm.ID, "Updated permission: "+perm.Codename)
	return perm, nil
}

// SetPermissionActive enables or disables a permission everywhere.
func (r *RBAC) SetPermissionActive(ctx context.Context, codename string, active bool, actorID *uuid.UUID) error {
	perm, err := r.GetPermission(ctx, codename)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(perm).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, actorID, "set_permission_active", "permission", perm.ID, fmt.Sprintf("is_active=%t", active))
	return nil
}

// DeletePermission removes a permission that no role or user references.
func (r *RBAC) DeletePermission(ctx context.Context, codename string, actorID *uuid.UUID) error {
	perm, err := r.GetPermission(ctx, codename)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&RolePermission{}).Where("permission_id = ?", perm.ID).Count(&refs).Error; err != nil {
			return err
		}
		if refs == 0 {
			if err := tx.Model(&UserPermission{}).Where("permission_id = ?", perm.ID).Count(&refs).Error; err != nil {
				return err
			}
		}
		if refs > 0 {
			return fmt.Errorf("%w: %s", ErrPermissionInUse, codename)
		}
		return tx.Delete(perm).Error
	})
	if err != nil {
		if errors.Is(err, ErrPermissionInUse) {
			return err
		}
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	r.invalidateCache(ctx, uuid.Nil)
	r.logAudit(ctx, actorID, "delete_permission", "permission", perm.ID, "Deleted permission: "+codename)
	return nil
}
