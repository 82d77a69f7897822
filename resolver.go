package rbac

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver answers "does user U hold permission P (or role R) in account A
// at time T". It keeps no state between calls; every check reads the store.
type Resolver struct {
	store     Store
	log       *zap.Logger
	now       func() time.Time
	honorDeny bool
	metrics   *Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used for hierarchy cycles and store failures.
func WithLogger(log *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock replaces time.Now as the default evaluation instant.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDenyOverrides makes effective deny rows win over every grant path.
// Without it a deny row counts as a grant, matching the stored data model's
// historical behavior.
func WithDenyOverrides() ResolverOption {
	return func(r *Resolver) { r.honorDeny = true }
}

// WithMetrics records check outcomes and latency.
func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver builds a Resolver reading from store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PermissionRef names the permission to check, either by codename or by an
// already loaded entity.
type PermissionRef struct {
	codename string
	entity   *Permission
}

// ByCodename refers to the active permission with the given codename.
func ByCodename(codename string) PermissionRef {
	return PermissionRef{codename: codename}
}

// ByEntity refers to a loaded permission. Inactive entities never match.
func ByEntity(p Permission) PermissionRef {
	return PermissionRef{codename: p.Codename, entity: &p}
}

func (ref PermissionRef) String() string { return ref.codename }

// CheckOption narrows a check to an account or pins the evaluation instant.
type CheckOption func(*checkParams)

type checkParams struct {
	account *uuid.UUID
	at      time.Time
	pinned  bool
}

// InAccount evaluates the check inside one account. Rows scoped to another
// account are ignored; rows without an account still apply.
func InAccount(accountID uuid.UUID) CheckOption {
	return func(p *checkParams) { p.account = &accountID }
}

// At evaluates validity windows at t instead of the resolver clock.
func At(t time.Time) CheckOption {
	return func(p *checkParams) {
		p.at = t
		p.pinned = true
	}
}

func (r *Resolver) params(opts []CheckOption) checkParams {
	var p checkParams
	for _, opt := range opts {
		opt(&p)
	}
	if !p.pinned {
		p.at = r.now()
	}
	return p
}

// matches applies account scoping: no context accepts every row, a context
// accepts its own rows and global ones.
func (p checkParams) matches(rowAccount *uuid.UUID) bool {
	if p.account == nil || rowAccount == nil {
		return true
	}
	return *rowAccount == *p.account
}

// HasPermission reports whether user holds the referenced permission.
// Unknown or inactive permissions yield false; store failures are returned
// as errors wrapping ErrStore.
func (r *Resolver) HasPermission(ctx context.Context, user Principal, ref PermissionRef, opts ...CheckOption) (allowed bool, err error) {
	defer r.metrics.observe("has_permission", time.Now(), &allowed, &err)

	if user == nil {
		return false, nil
	}
	if user.IsSuperUser() {
		return true, nil
	}
	p := r.params(opts)

	perm, err := r.resolvePermission(ctx, ref)
	if err != nil || perm == nil {
		return false, err
	}

	direct, err := r.store.UserPermissions(ctx, user.GetID(), p.account)
	if err != nil {
		return false, r.storeFailure("has_permission", err)
	}
	granted := false
	for _, up := range direct {
		if up.PermissionID != perm.ID || !p.matches(up.AccountID) || !up.IsValidAt(p.at) {
			continue
		}
		if up.GrantType == Deny && r.honorDeny {
			return false, nil
		}
		granted = true
	}
	if granted {
		return true, nil
	}

	assignments, err := r.store.UserRoles(ctx, user.GetID(), p.account)
	if err != nil {
		return false, r.storeFailure("has_permission", err)
	}
	walker := r.newWalker()
	for _, ur := range assignments {
		if !r.assignmentApplies(ur, p) {
			continue
		}
		found, err := walker.walk(ctx, ur.Role, func(candidate Permission) bool {
			return candidate.ID == perm.ID
		})
		if err != nil {
			return false, r.storeFailure("has_permission", err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// HasRole reports whether user is directly assigned the active role with
// the codename. Parent roles are not consulted.
func (r *Resolver) HasRole(ctx context.Context, user Principal, roleCodename string, opts ...CheckOption) (allowed bool, err error) {
	defer r.metrics.observe("has_role", time.Now(), &allowed, &err)

	if user == nil {
		return false, nil
	}
	if user.IsSuperUser() {
		return true, nil
	}
	if roleCodename == "" {
		return false, nil
	}
	p := r.params(opts)

	assignments, err := r.store.UserRoles(ctx, user.GetID(), p.account)
	if err != nil {
		return false, r.storeFailure("has_role", err)
	}
	for _, ur := range assignments {
		if r.assignmentApplies(ur, p) && ur.Role.Codename == roleCodename {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions returns every permission user holds, deduplicated
// and ordered by category, resource, type and codename.
func (r *Resolver) EffectivePermissions(ctx context.Context, user Principal, opts ...CheckOption) (perms []Permission, err error) {
	defer r.metrics.observe("effective_permissions", time.Now(), nil, &err)

	if user == nil {
		return nil, nil
	}
	set, _, err := r.effectiveSet(ctx, user, r.params(opts))
	if err != nil {
		return nil, err
	}
	return sortPermissions(set), nil
}

// UserRoles returns the active roles behind user's effective assignments,
// highest priority first. Superusers get every active role.
func (r *Resolver) UserRoles(ctx context.Context, user Principal, opts ...CheckOption) ([]Role, error) {
	if user == nil {
		return nil, nil
	}
	if user.IsSuperUser() {
		roles, err := r.store.ActiveRoles(ctx)
		if err != nil {
			return nil, r.storeFailure("user_roles", err)
		}
		return sortRoles(roles), nil
	}
	p := r.params(opts)

	assignments, err := r.store.UserRoles(ctx, user.GetID(), p.account)
	if err != nil {
		return nil, r.storeFailure("user_roles", err)
	}
	seen := make(map[uuid.UUID]struct{}, len(assignments))
	roles := make([]Role, 0, len(assignments))
	for _, ur := range assignments {
		if !r.assignmentApplies(ur, p) {
			continue
		}
		if _, ok := seen[ur.Role.ID]; ok {
			continue
		}
		seen[ur.Role.ID] = struct{}{}
		roles = append(roles, ur.Role)
	}
	return sortRoles(roles), nil
}

// effectiveSet computes the permission set together with the earliest
// instant at which it may change because of a validity window.
func (r *Resolver) effectiveSet(ctx context.Context, user Principal, p checkParams) (map[uuid.UUID]Permission, boundaryTracker, error) {
	bounds := boundaryTracker{now: p.at}
	set := make(map[uuid.UUID]Permission)

	if user.IsSuperUser() {
		perms, err := r.store.ActivePermissions(ctx)
		if err != nil {
			return nil, bounds, r.storeFailure("effective_permissions", err)
		}
		for _, perm := range perms {
			set[perm.ID] = perm
		}
		return set, bounds, nil
	}

	direct, err := r.store.UserPermissions(ctx, user.GetID(), p.account)
	if err != nil {
		return nil, bounds, r.storeFailure("effective_permissions", err)
	}
	denied := make(map[uuid.UUID]struct{})
	for _, up := range direct {
		if !up.IsActive || !p.matches(up.AccountID) {
			continue
		}
		bounds.observe(up.ValidFrom, up.ValidUntil)
		if !up.IsValidAt(p.at) || !up.Permission.IsActive {
			continue
		}
		if up.GrantType == Deny && r.honorDeny {
			denied[up.PermissionID] = struct{}{}
			continue
		}
		set[up.Permission.ID] = up.Permission
	}

	assignments, err := r.store.UserRoles(ctx, user.GetID(), p.account)
	if err != nil {
		return nil, bounds, r.storeFailure("effective_permissions", err)
	}
	walker := r.newWalker()
	for _, ur := range assignments {
		if ur.Status != StatusActive || !p.matches(ur.AccountID) {
			continue
		}
		bounds.observe(ur.ValidFrom, ur.ValidUntil)
		if !r.assignmentApplies(ur, p) {
			continue
		}
		if _, err := walker.walk(ctx, ur.Role, func(perm Permission) bool {
			set[perm.ID] = perm
			return false
		}); err != nil {
			return nil, bounds, r.storeFailure("effective_permissions", err)
		}
	}

	for id := range denied {
		delete(set, id)
	}
	return set, bounds, nil
}

func (r *Resolver) assignmentApplies(ur UserRole, p checkParams) bool {
	return p.matches(ur.AccountID) && ur.IsActiveAt(p.at) && ur.Role.IsActive && ur.Role.ID != uuid.Nil
}

// unusableEntity reports a ByEntity reference that can never be granted:
// an inactive permission or one that was never stored.
func (ref PermissionRef) unusableEntity() bool {
	return ref.entity != nil && (!ref.entity.IsActive || ref.entity.ID == uuid.Nil)
}

func (r *Resolver) resolvePermission(ctx context.Context, ref PermissionRef) (*Permission, error) {
	if ref.unusableEntity() {
		return nil, nil
	}
	if ref.entity != nil {
		return ref.entity, nil
	}
	if ref.codename == "" {
		return nil, nil
	}
	perm, err := r.store.PermissionByCodename(ctx, ref.codename)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, r.storeFailure("resolve_permission", err)
	}
	return perm, nil
}

func (r *Resolver) storeFailure(op string, err error) error {
	if !errors.Is(err, ErrStore) {
		err = fmt.Errorf("%w: %w", ErrStore, err)
	}
	r.log.Error("rbac store failure", zap.String("op", op), zap.Error(err))
	return err
}

func sortPermissions(set map[uuid.UUID]Permission) []Permission {
	perms := make([]Permission, 0, len(set))
	for _, perm := range set {
		perms = append(perms, perm)
	}
	slices.SortFunc(perms, func(a, b Permission) int {
		return cmp.Or(
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Resource, b.Resource),
			cmp.Compare(a.PermissionType, b.PermissionType),
			cmp.Compare(a.Codename, b.Codename),
		)
	})
	return perms
}

func sortRoles(roles []Role) []Role {
	slices.SortFunc(roles, func(a, b Role) int {
		return cmp.Or(
			cmp.Compare(b.Priority, a.Priority),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return roles
}
