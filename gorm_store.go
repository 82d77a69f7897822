package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var _ Store = (*GormStore)(nil)

// GormStore reads RBAC entities through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// wrapStoreErr maps a missing record to ErrNotFound and everything else to
// ErrStore, keeping the driver error in the chain.
func wrapStoreErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

func scopeAccount(db *gorm.DB, accountID *uuid.UUID) *gorm.DB {
	if accountID == nil {
		return db
	}
	return db.Where("(account_id = ? OR account_id IS NULL)", *accountID)
}

func (s *GormStore) PermissionByCodename(ctx context.Context, codename string) (*Permission, error) {
	var perm Permission
	if err := s.db.WithContext(ctx).
		Where("codename = ? AND is_active = ?", codename, true).
		First(&perm).Error; err != nil {
		return nil, wrapStoreErr("permission by codename", err)
	}
	return &perm, nil
}

func (s *GormStore) ActivePermissions(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("category, resource, permission_type, codename").
		Find(&perms).Error; err != nil {
		return nil, wrapStoreErr("active permissions", err)
	}
	return perms, nil
}

func (s *GormStore) UserPermissions(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID) ([]UserPermission, error) {
	var rows []UserPermission
	query := s.db.WithContext(ctx).
		Preload("Permission").
		Where("user_id = ? AND is_active = ?", userID, true)
	if err := scopeAccount(query, accountID).Find(&rows).Error; err != nil {
		return nil, wrapStoreErr("user permissions", err)
	}
	return rows, nil
}

func (s *GormStore) UserRoles(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID) ([]UserRole, error) {
	var rows []UserRole
	query := s.db.WithContext(ctx).
		Preload("Role").
		Where("user_id = ?", userID)
	if err := scopeAccount(query, accountID).Find(&rows).Error; err != nil {
		return nil, wrapStoreErr("user roles", err)
	}
	return rows, nil
}

func (s *GormStore) RolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	var perms []Permission
	if err := s.db.WithContext(ctx).
		Model(&Permission{}).
		Joins("JOIN role_permissions rp ON rp.permission_id = permissions.id").
		Where("rp.role_id = ? AND rp.is_active = ? AND permissions.is_active = ?", roleID, true, true).
		Find(&perms).Error; err != nil {
		return nil, wrapStoreErr("role permissions", err)
	}
	return perms, nil
}

func (s *GormStore) Role(ctx context.Context, roleID uuid.UUID) (*Role, error) {
	var role Role
	if err := s.db.WithContext(ctx).First(&role, "id = ?", roleID).Error; err != nil {
		return nil, wrapStoreErr("role", err)
	}
	return &role, nil
}

func (s *GormStore) ActiveRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, name").
		Find(&roles).Error; err != nil {
		return nil, wrapStoreErr("active roles", err)
	}
	return roles, nil
}
