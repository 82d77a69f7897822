package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// BulkCheck is one user-permission pair of a bulk check.
type BulkCheck struct {
	User       Principal
	Permission string
	AccountID  *uuid.UUID
}

// BulkResult represents the result of one bulk check.
type BulkResult struct {
	UserID     uuid.UUID
	Permission string
	Allowed    bool
	Error      error
}

const bulkWorkers = 10

// CheckBulkPermissions checks many user-permission pairs concurrently.
// Results are returned in input order; a failing check only marks its own
// result.
func (r *RBAC) CheckBulkPermissions(ctx context.Context, checks []BulkCheck) []BulkResult {
	results := make([]BulkResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkWorkers)
	for i, check := range checks {
		g.Go(func() error {
			res := BulkResult{Permission: check.Permission}
			if check.User != nil {
				res.UserID = check.User.GetID()
			}
			var opts []CheckOption
			if check.AccountID != nil {
				opts = append(opts, InAccount(*check.AccountID))
			}
			res.Allowed, res.Error = r.HasPermission(gctx, check.User, ByCodename(check.Permission), opts...)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// BulkAssignment assigns a set of roles to one user, optionally within one
// account.
type BulkAssignment struct {
	UserID    uuid.UUID
	AccountID *uuid.UUID
	RoleIDs   []uuid.UUID
}

// BulkAssignRoles assigns multiple roles to multiple users in one
// transaction. Existing assignments are kept as they are.
func (r *RBAC) BulkAssignRoles(ctx context.Context, assignments []BulkAssignment, actorID *uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range assignments {
			if a.UserID == uuid.Nil {
				return ErrInvalidInput
			}
			for _, roleID := range a.RoleIDs {
				var role Role
				if err := tx.First(&role, "id = ?", roleID).Error; err != nil {
					return wrapStoreErr("bulk assign role", err)
				}
				ur := UserRole{
					UserID:     a.UserID,
					RoleID:     roleID,
					AccountID:  a.AccountID,
					Status:     StatusActive,
					AssignedBy: actorID,
				}
				if err := whereAccount(tx.Where("user_id = ? AND role_id = ?", a.UserID, roleID), a.AccountID).
					Omit("Role").
					FirstOrCreate(&ur).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to assign roles: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(assignments))
	for _, a := range assignments {
		userIDs = append(userIDs, a.UserID)
	}
	r.InvalidateBulkCache(ctx, userIDs)
	r.logAudit(ctx, actorID, "bulk_assign_roles", "user_role", uuid.Nil, fmt.Sprintf("%d users", len(assignments)))
	return nil
}

// BulkRemoveRoles removes the listed roles from each user, in every account.
func (r *RBAC) BulkRemoveRoles(ctx context.Context, removals map[uuid.UUID][]uuid.UUID, actorID *uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, roleIDs := range removals {
			if len(roleIDs) == 0 {
				continue
			}
			if err := tx.Where("user_id = ? AND role_id IN ?", userID, roleIDs).
				Delete(&UserRole{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove roles: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(removals))
	for userID := range removals {
		userIDs = append(userIDs, userID)
	}
	r.InvalidateBulkCache(ctx, userIDs)
	r.logAudit(ctx, actorID, "bulk_remove_roles", "user_role", uuid.Nil, fmt.Sprintf("%d users", len(removals)))
	return nil
}

// InvalidateBulkCache drops cached permission sets for several users.
func (r *RBAC) InvalidateBulkCache(ctx context.Context, userIDs []uuid.UUID) {
	for _, userID := range userIDs {
		if userID != uuid.Nil {
			r.invalidateCache(ctx, userID)
		}
	}
}
