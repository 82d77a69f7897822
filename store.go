package rbac

import (
	"context"

	"github.com/google/uuid"
)

// Store is the read side the resolver evaluates against. Lookups of a single
// entity return ErrNotFound when it is absent; every other failure must wrap
// ErrStore so callers can tell "denied" from "could not decide".
type Store interface {
	// PermissionByCodename returns the active permission with the codename.
	PermissionByCodename(ctx context.Context, codename string) (*Permission, error)
	// ActivePermissions returns every active permission.
	ActivePermissions(ctx context.Context) ([]Permission, error)
	// UserPermissions returns the user's active direct permission rows with
	// Permission loaded. A non-nil accountID keeps rows of that account and
	// rows without an account.
	UserPermissions(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID) ([]UserPermission, error)
	// UserRoles returns the user's role assignments with Role loaded,
	// filtered by account the same way as UserPermissions. Status and window
	// are left to the caller.
	UserRoles(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID) ([]UserRole, error)
	// RolePermissions returns the active permissions attached to the role
	// through active RolePermission rows. Inherited permissions are not
	// included.
	RolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error)
	// Role returns the role with the id, active or not.
	Role(ctx context.Context, roleID uuid.UUID) (*Role, error)
	// ActiveRoles returns every active role.
	ActiveRoles(ctx context.Context) ([]Role, error)
}
