package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UserPermissionInput describes a direct grant or denial. ObjectType and
// ObjectID optionally pin it to one target object.
type UserPermissionInput struct {
	UserID     uuid.UUID
	Permission string `validate:"required,max=100"`
	AccountID  *uuid.UUID
	ObjectType string  `validate:"max=100"`
	ObjectID   *string `validate:"omitempty,max=100"`
	Conditions map[string]any
	ValidFrom  *time.Time
	ValidUntil *time.Time
	GrantedBy  *uuid.UUID
}

// GrantPermission gives the user a permission directly.
func (r *RBAC) GrantPermission(ctx context.Context, in UserPermissionInput) (*UserPermission, error) {
	return r.setUserPermission(ctx, in, Grant)
}

// DenyPermission records an explicit denial. It only takes effect when the
// service runs with HonorDenyGrants.
func (r *RBAC) DenyPermission(ctx context.Context, in UserPermissionInput) (*UserPermission, error) {
	return r.setUserPermission(ctx, in, Deny)
}

func (r *RBAC) setUserPermission(ctx context.Context, in UserPermissionInput, grantType GrantType) (*UserPermission, error) {
	if in.UserID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if err := r.validateInput(in); err != nil {
		return nil, err
	}
	if err := checkWindow(in.ValidFrom, in.ValidUntil); err != nil {
		return nil, err
	}
	perm, err := r.GetPermission(ctx, in.Permission)
	if err != nil {
		return nil, err
	}
	if in.AccountID != nil {
		if _, err := r.GetAccount(ctx, *in.AccountID); err != nil {
			return nil, err
		}
	}

	var up UserPermission
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND permission_id = ? AND object_type = ?", in.UserID, perm.ID, in.ObjectType)
	query = whereAccount(query, in.AccountID)
	if in.ObjectID == nil {
		query = query.Where("object_id IS NULL")
	} else {
		query = query.Where("object_id = ?", *in.ObjectID)
	}
	if err := query.Attrs(UserPermission{
		UserID:       in.UserID,
		PermissionID: perm.ID,
		AccountID:    in.AccountID,
		ObjectType:   in.ObjectType,
		ObjectID:     in.ObjectID,
	}).FirstOrInit(&up).Error; err != nil {
		return nil, fmt.Errorf("failed to load user permission: %w", err)
	}

	up.GrantType = grantType
	up.IsActive = true
	up.Conditions = datatypes.JSONMap(in.Conditions)
	up.ValidFrom = in.ValidFrom
	up.ValidUntil = in.ValidUntil
	up.GrantedBy = in.GrantedBy
	if err := r.db.WithContext(ctx).Omit("Permission").Save(&up).Error; err != nil {
		return nil, fmt.Errorf("failed to save user permission: %w", err)
	}
	up.Permission = *perm

	r.invalidateCache(ctx, in.UserID)
	r.logAudit(ctx, in.GrantedBy, string(grantType)+"_permission", "user_permission", up.ID,
		fmt.Sprintf("%s %s", grantType, perm.Codename))
	return &up, nil
}

// RevokeUserPermission deletes a direct grant or denial.
func (r *RBAC) RevokeUserPermission(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	if id == uuid.Nil {
		return ErrInvalidInput
	}
	var up UserPermission
	if err := r.db.WithContext(ctx).First(&up, "id = ?", id).Error; err != nil {
		return wrapStoreErr("get user permission", err)
	}
	if err := r.db.WithContext(ctx).Delete(&up).Error; err != nil {
		return fmt.Errorf("failed to revoke user permission: %w", err)
	}

	r.invalidateCache(ctx, up.UserID)
	r.logAudit(ctx, actorID, "revoke_permission", "user_permission", id, "Revoked direct permission")
	return nil
}

// ListUserPermissions retrieves every direct permission row of a user.
func (r *RBAC) ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]UserPermission, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	var rows []UserPermission
	if err := r.db.WithContext(ctx).
		Preload("Permission").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, wrapStoreErr("list user permissions", err)
	}
	return rows, nil
}
