package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// roleWalker expands roles upward through ParentRoleID. It memoizes direct
// permission lists for the duration of one resolver call only.
type roleWalker struct {
	store  Store
	log    *zap.Logger
	direct map[uuid.UUID][]Permission
}

func (r *Resolver) newWalker() *roleWalker {
	return &roleWalker{store: r.store, log: r.log, direct: make(map[uuid.UUID][]Permission)}
}

// walk feeds visit every permission of role and its ancestors and stops
// early once visit returns true. A role seen twice on one chain ends the
// walk: the cycle is logged and contributes nothing beyond the first visit.
func (w *roleWalker) walk(ctx context.Context, role Role, visit func(Permission) bool) (bool, error) {
	visited := make(map[uuid.UUID]struct{})
	chain := make([]string, 0, 4)
	current := &role
	for current != nil {
		if _, seen := visited[current.ID]; seen {
			w.log.Warn("role hierarchy cycle",
				zap.Strings("chain", append(chain, current.Codename)),
				zap.String("role_id", current.ID.String()))
			return false, nil
		}
		visited[current.ID] = struct{}{}
		chain = append(chain, current.Codename)

		perms, ok := w.direct[current.ID]
		if !ok {
			var err error
			if perms, err = w.store.RolePermissions(ctx, current.ID); err != nil {
				return false, err
			}
			w.direct[current.ID] = perms
		}
		for _, perm := range perms {
			if visit(perm) {
				return true, nil
			}
		}

		if current.ParentRoleID == nil {
			return false, nil
		}
		parent, err := w.store.Role(ctx, *current.ParentRoleID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		current = parent
	}
	return false, nil
}

// DescendantRoleIDs returns roleID and every role inheriting from it,
// directly or transitively.
func (r *RBAC) DescendantRoleIDs(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	if roleID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	seen := map[uuid.UUID]struct{}{roleID: {}}
	ids := []uuid.UUID{roleID}
	queue := []uuid.UUID{roleID}
	for len(queue) > 0 {
		var children []uuid.UUID
		if err := r.db.WithContext(ctx).Model(&Role{}).
			Where("parent_role_id IN ?", queue).
			Pluck("id", &children).Error; err != nil {
			return nil, fmt.Errorf("failed to fetch child roles: %w", err)
		}
		queue = queue[:0]
		for _, id := range children {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			queue = append(queue, id)
		}
	}
	return ids, nil
}

// ValidateRoleHierarchy walks every parent chain and reports the first
// cycle found as ErrRoleCycle.
func (r *RBAC) ValidateRoleHierarchy(ctx context.Context) error {
	var roles []Role
	if err := r.db.WithContext(ctx).Find(&roles).Error; err != nil {
		return fmt.Errorf("failed to fetch roles: %w", err)
	}
	byID := make(map[uuid.UUID]Role, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}

	cleared := make(map[uuid.UUID]struct{}, len(roles))
	for _, start := range roles {
		onChain := make(map[uuid.UUID]struct{})
		var chain []string
		for id := &start.ID; id != nil; {
			if _, ok := cleared[*id]; ok {
				break
			}
			role, ok := byID[*id]
			if !ok {
				break
			}
			chain = append(chain, role.Codename)
			if _, ok := onChain[*id]; ok {
				r.log.Error("role hierarchy cycle", zap.Strings("chain", chain))
				return fmt.Errorf("%w: %s", ErrRoleCycle, strings.Join(chain, " -> "))
			}
			onChain[*id] = struct{}{}
			id = role.ParentRoleID
		}
		for id := range onChain {
			cleared[id] = struct{}{}
		}
	}
	return nil
}

// inheritsFrom reports whether ancestorID is roleID or one of its ancestors.
func (r *RBAC) inheritsFrom(ctx context.Context, roleID, ancestorID uuid.UUID) (bool, error) {
	visited := make(map[uuid.UUID]struct{})
	for id := &roleID; id != nil; {
		if *id == ancestorID {
			return true, nil
		}
		if _, ok := visited[*id]; ok {
			return false, nil
		}
		visited[*id] = struct{}{}
		var role Role
		err := r.db.WithContext(ctx).First(&role, "id = ?", *id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, wrapStoreErr("inherits from", err)
		}
		id = role.ParentRoleID
	}
	return false, nil
}
