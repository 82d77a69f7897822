package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssignRoleInput describes a role assignment. A nil AccountID makes the
// assignment apply in every account.
type AssignRoleInput struct {
	UserID     uuid.UUID
	RoleID     uuid.UUID
	AccountID  *uuid.UUID
	ValidFrom  *time.Time
	ValidUntil *time.Time
	AssignedBy *uuid.UUID
}

func checkWindow(from, until *time.Time) error {
	if from != nil && until != nil && until.Before(*from) {
		return fmt.Errorf("%w: valid_until precedes valid_from", ErrInvalidInput)
	}
	return nil
}

// whereAccount matches a nullable account column exactly.
func whereAccount(db *gorm.DB, accountID *uuid.UUID) *gorm.DB {
	if accountID == nil {
		return db.Where("account_id IS NULL")
	}
	return db.Where("account_id = ?", *accountID)
}

// AssignRole creates an active user-role assignment.
func (r *RBAC) AssignRole(ctx context.Context, in AssignRoleInput) (*UserRole, error) {
	if in.UserID == uuid.Nil || in.RoleID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if err := checkWindow(in.ValidFrom, in.ValidUntil); err != nil {
		return nil, err
	}
	role, err := r.GetRoleByID(ctx, in.RoleID)
	if err != nil {
		return nil, err
	}
	if role.AccountID != nil && (in.AccountID == nil || *in.AccountID != *role.AccountID) {
		return nil, fmt.Errorf("%w: role %s belongs to another account", ErrInvalidInput, role.Codename)
	}
	if in.AccountID != nil {
		if _, err := r.GetAccount(ctx, *in.AccountID); err != nil {
			return nil, err
		}
	}

	var count int64
	query := r.db.WithContext(ctx).Model(&UserRole{}).Where("user_id = ? AND role_id = ?", in.UserID, in.RoleID)
	if err := whereAccount(query, in.AccountID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check assignment: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: role %s already assigned", ErrAlreadyExists, role.Codename)
	}

	ur := &UserRole{
		UserID:     in.UserID,
		RoleID:     in.RoleID,
		AccountID:  in.AccountID,
		Status:     StatusActive,
		ValidFrom:  in.ValidFrom,
		ValidUntil: in.ValidUntil,
		AssignedBy: in.AssignedBy,
	}
	if err := r.db.WithContext(ctx).Omit("Role").Create(ur).Error; err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	ur.Role = *role

	r.invalidateCache(ctx, in.UserID)
	r.logAudit(ctx, in.AssignedBy, "assign_role", "user_role", ur.ID, "Assigned role: "+role.Codename)
	return ur, nil
}

// ActivateUserRole sets an assignment back to active.
func (r *RBAC) ActivateUserRole(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	return r.setUserRoleStatus(ctx, id, StatusActive, actorID)
}

// DeactivateUserRole marks an assignment inactive.
func (r *RBAC) DeactivateUserRole(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	return r.setUserRoleStatus(ctx, id, StatusInactive, actorID)
}

// SuspendUserRole marks an assignment suspended.
func (r *RBAC) SuspendUserRole(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	return r.setUserRoleStatus(ctx, id, StatusSuspended, actorID)
}

func (r *RBAC) setUserRoleStatus(ctx context.Context, id uuid.UUID, status UserRoleStatus, actorID *uuid.UUID) error {
	ur, err := r.GetUserRole(ctx, id)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&UserRole{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}

	r.invalidateCache(ctx, ur.UserID)
	r.logAudit(ctx, actorID, "set_user_role_status", "user_role", id, "status="+string(status))
	return nil
}

// GetUserRole retrieves an assignment with its role.
func (r *RBAC) GetUserRole(ctx context.Context, id uuid.UUID) (*UserRole, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidInput
	}
	var ur UserRole
	if err := r.db.WithContext(ctx).Preload("Role").First(&ur, "id = ?", id).Error; err != nil {
		return nil, wrapStoreErr("get user role", err)
	}
	return &ur, nil
}

// RevokeRole deletes an assignment.
func (r *RBAC) RevokeRole(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	ur, err := r.GetUserRole(ctx, id)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Delete(&UserRole{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}

	r.invalidateCache(ctx, ur.UserID)
	r.logAudit(ctx, actorID, "revoke_role", "user_role", id, "Revoked role: "+ur.Role.Codename)
	return nil
}

// ListUserRoles retrieves every assignment of a user regardless of status
// or window. A non-nil accountID keeps that account's and global rows.
func (r *RBAC) ListUserRoles(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID) ([]UserRole, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	var rows []UserRole
	query := r.db.WithContext(ctx).Preload("Role").Where("user_id = ?", userID).Order("created_at DESC")
	if err := scopeAccount(query, accountID).Find(&rows).Error; err != nil {
		return nil, wrapStoreErr("list user roles", err)
	}
	return rows, nil
}

// ExpireUserRoles marks active assignments whose window closed before now
// as expired and returns how many were changed.
func (r *RBAC) ExpireUserRoles(ctx context.Context, now time.Time) (int, error) {
	var candidates []UserRole
	if err := r.db.WithContext(ctx).
		Where("status = ? AND valid_until IS NOT NULL", StatusActive).
		Find(&candidates).Error; err != nil {
		return 0, wrapStoreErr("expire user roles", err)
	}

	var ids []uuid.UUID
	users := make(map[uuid.UUID]struct{})
	for _, ur := range candidates {
		if ur.IsExpiredAt(now) {
			ids = append(ids, ur.ID)
			users[ur.UserID] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := r.db.WithContext(ctx).Model(&UserRole{}).
		Where("id IN ?", ids).
		Update("status", StatusExpired).Error; err != nil {
		return 0, fmt.Errorf("failed to expire user roles: %w", err)
	}

	for userID := range users {
		r.invalidateCache(ctx, userID)
	}
	r.log.Sugar().Infof("expired %d role assignments", len(ids))
	return len(ids), nil
}
