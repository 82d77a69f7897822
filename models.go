package rbac

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PermissionType classifies what kind of action a permission governs.
type PermissionType string

const (
	PermissionCreate PermissionType = "create"
	PermissionRead   PermissionType = "read"
	PermissionUpdate PermissionType = "update"
	PermissionDelete PermissionType = "delete"
	PermissionManage PermissionType = "manage"
	PermissionAdmin  PermissionType = "admin"
	PermissionExport PermissionType = "export"
)

// RoleType tells system-wide roles apart from account and custom roles.
type RoleType string

const (
	RoleTypeSystem  RoleType = "system"
	RoleTypeAccount RoleType = "account"
	RoleTypeCustom  RoleType = "custom"
)

// UserRoleStatus is the lifecycle state of a role assignment.
type UserRoleStatus string

const (
	StatusActive    UserRoleStatus = "active"
	StatusInactive  UserRoleStatus = "inactive"
	StatusSuspended UserRoleStatus = "suspended"
	StatusExpired   UserRoleStatus = "expired"
)

// GrantType marks a direct user permission as a grant or a denial.
type GrantType string

const (
	Grant GrantType = "grant"
	Deny  GrantType = "deny"
)

// Permission represents a named capability identified by its codename.
type Permission struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string         `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Codename       string         `gorm:"size:100;uniqueIndex;not null" json:"codename"`
	Description    string         `json:"description,omitempty"`
	PermissionType PermissionType `gorm:"size:20;not null;index" json:"permission_type"`
	Resource       string         `gorm:"size:100;not null;index" json:"resource"`
	Category       string         `gorm:"size:50;not null;index" json:"category"`
	IsActive       bool           `gorm:"not null" json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Role groups permissions. A nil AccountID makes it visible to every account.
type Role struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string     `gorm:"size:100;not null;uniqueIndex:idx_role_name_account" json:"name"`
	Codename     string     `gorm:"size:100;uniqueIndex;not null" json:"codename"`
	Description  string     `json:"description,omitempty"`
	RoleType     RoleType   `gorm:"size:20;not null;index" json:"role_type"`
	AccountID    *uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_role_name_account" json:"account_id,omitempty"`
	ParentRoleID *uuid.UUID `gorm:"type:uuid;index" json:"parent_role_id,omitempty"` // single-parent inheritance
	Priority     int        `gorm:"not null;index" json:"priority"`
	IsActive     bool       `gorm:"not null" json:"is_active"`
	IsSystem     bool       `gorm:"not null" json:"is_system"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RolePermission attaches a permission to a role. Conditions are stored
// for attribute-based rules and are not evaluated.
type RolePermission struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	RoleID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_role_permission;index:idx_rp_role_active,priority:1" json:"role_id"`
	PermissionID uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_role_permission" json:"permission_id"`
	Permission   Permission        `json:"permission"`
	Conditions   datatypes.JSONMap `json:"conditions,omitempty"`
	IsActive     bool              `gorm:"not null;index:idx_rp_role_active,priority:2" json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// UserRole assigns a role to a user, optionally inside one account and
// for a bounded validity window.
type UserRole struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_user_role" json:"user_id"`
	RoleID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_user_role" json:"role_id"`
	Role       Role           `json:"role"`
	AccountID  *uuid.UUID     `gorm:"type:uuid;uniqueIndex:idx_user_role;index" json:"account_id,omitempty"`
	Status     UserRoleStatus `gorm:"size:20;not null;index" json:"status"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidUntil *time.Time     `json:"valid_until,omitempty"`
	AssignedBy *uuid.UUID     `gorm:"type:uuid" json:"assigned_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// UserPermission is a direct grant or denial of a permission to a user.
// The optional target object is recorded but not evaluated.
type UserPermission struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission" json:"user_id"`
	PermissionID uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission" json:"permission_id"`
	Permission   Permission        `json:"permission"`
	AccountID    *uuid.UUID        `gorm:"type:uuid;uniqueIndex:idx_user_permission;index" json:"account_id,omitempty"`
	GrantType    GrantType         `gorm:"size:10;not null" json:"grant_type"`
	ObjectType   string            `gorm:"size:100;uniqueIndex:idx_user_permission" json:"object_type,omitempty"`
	ObjectID     *string           `gorm:"size:100;uniqueIndex:idx_user_permission" json:"object_id,omitempty"`
	Conditions   datatypes.JSONMap `json:"conditions,omitempty"`
	ValidFrom    *time.Time        `json:"valid_from,omitempty"`
	ValidUntil   *time.Time        `json:"valid_until,omitempty"`
	GrantedBy    *uuid.UUID        `gorm:"type:uuid" json:"granted_by,omitempty"`
	IsActive     bool              `gorm:"not null;index" json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Account is a tenant.
type Account struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:150;not null" json:"name"`
	Slug      string    `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountMember records that a user belongs to an account.
type AccountMember struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_account_member" json:"account_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_account_member;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the minimal identity the resolver needs.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username    string    `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email       string    `gorm:"size:254" json:"email"`
	IsSuperuser bool      `gorm:"not null" json:"is_superuser"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuditLog tracks permission/role-related events.
type AuditLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ActorID    *uuid.UUID `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	Action     string     `gorm:"size:64;not null;index" json:"action"`
	TargetType string     `gorm:"size:64;not null" json:"target_type"`
	TargetID   string     `gorm:"size:64;index;not null" json:"target_id"`
	Details    string     `json:"details,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

// Principal describes the actor being checked.
type Principal interface {
	GetID() uuid.UUID
	IsSuperUser() bool
}

func (u User) GetID() uuid.UUID { return u.ID }
func (u User) IsSuperUser() bool { return u.IsSuperuser }

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Permission) BeforeCreate(*gorm.DB) error { assignID(&p.ID); return nil }
func (r *Role) BeforeCreate(*gorm.DB) error { assignID(&r.ID); return nil }
func (rp *RolePermission) BeforeCreate(*gorm.DB) error { assignID(&rp.ID); return nil }
func (ur *UserRole) BeforeCreate(*gorm.DB) error { assignID(&ur.ID); return nil }
func (up *UserPermission) BeforeCreate(*gorm.DB) error { assignID(&up.ID); return nil }
func (a *Account) BeforeCreate(*gorm.DB) error { assignID(&a.ID); return nil }
func (m *AccountMember) BeforeCreate(*gorm.DB) error { assignID(&m.ID); return nil }
func (u *User) BeforeCreate(*gorm.DB) error { assignID(&u.ID); return nil }

// Models lists every table owned by the package, in migration order.
func Models() []any {
	return []any{
		&Account{}, &User{}, &AccountMember{},
		&Permission{}, &Role{}, &RolePermission{},
		&UserRole{}, &UserPermission{}, &AuditLog{},
	}
}
