package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config holds the configuration for the RBAC service
type Config struct {
	DB                 *gorm.DB
	RedisClient        *redis.Client // optional; enables the permission cache
	Logger             *zap.Logger
	Metrics            *Metrics
	CacheTTL           time.Duration
	CachePrefix        string
	AutoMigrate        bool
	EnableAuditLogging bool
	// HonorDenyGrants makes deny rows on direct user permissions override
	// every grant. Off by default: deny rows then count as grants.
	HonorDenyGrants bool
	// Clock overrides time.Now for validity windows and audit timestamps.
	Clock func() time.Time
}

// RBAC is the main service: it owns the resolver, the optional cache and the
// administrative write paths that feed the store.
type RBAC struct {
	db           *gorm.DB
	redis        *redis.Client
	log          *zap.Logger
	cachePrefix  string
	cacheTTL     time.Duration
	auditEnabled bool
	now          func() time.Time
	resolver     *Resolver
	validate     *validator.Validate
}

// New initializes a new RBAC service
func New(cfg Config) (*RBAC, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: database is required", ErrInvalidInput)
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "rbac:"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.AutoMigrate {
		if err := cfg.DB.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}

	opts := []ResolverOption{
		WithLogger(cfg.Logger),
		WithClock(cfg.Clock),
		WithMetrics(cfg.Metrics),
	}
	if cfg.HonorDenyGrants {
		opts = append(opts, WithDenyOverrides())
	}

	return &RBAC{
		db:           cfg.DB,
		redis:        cfg.RedisClient,
		log:          cfg.Logger,
		cachePrefix:  cfg.CachePrefix,
		cacheTTL:     cfg.CacheTTL,
		auditEnabled: cfg.EnableAuditLogging,
		now:          cfg.Clock,
		resolver:     NewResolver(NewGormStore(cfg.DB), opts...),
		validate:     validator.New(),
	}, nil
}

// Resolver exposes the underlying resolver.
func (r *RBAC) Resolver() *Resolver {
	return r.resolver
}

// HasPermission checks a permission, answering from the cache when the
// check runs at the current instant.
func (r *RBAC) HasPermission(ctx context.Context, user Principal, ref PermissionRef, opts ...CheckOption) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsSuperUser() || !r.cacheable(opts) {
		return r.resolver.HasPermission(ctx, user, ref, opts...)
	}
	if ref.unusableEntity() {
		return false, nil
	}
	codenames, err := r.cachedCodenames(ctx, user, opts)
	if err != nil {
		return false, err
	}
	_, ok := codenames[ref.codename]
	return ok, nil
}

// HasRole checks a direct role assignment.
func (r *RBAC) HasRole(ctx context.Context, user Principal, roleCodename string, opts ...CheckOption) (bool, error) {
	return r.resolver.HasRole(ctx, user, roleCodename, opts...)
}

// GetEffectivePermissions lists every permission the user holds.
func (r *RBAC) GetEffectivePermissions(ctx context.Context, user Principal, opts ...CheckOption) ([]Permission, error) {
	return r.resolver.EffectivePermissions(ctx, user, opts...)
}

// GetUserRoles lists the roles behind the user's effective assignments.
func (r *RBAC) GetUserRoles(ctx context.Context, user Principal, opts ...CheckOption) ([]Role, error) {
	return r.resolver.UserRoles(ctx, user, opts...)
}

// CheckPermission returns ErrPermissionDenied when the user lacks the
// permission, nil when granted and the store error otherwise.
func (r *RBAC) CheckPermission(ctx context.Context, user Principal, codename string, opts ...CheckOption) error {
	ok, err := r.HasPermission(ctx, user, ByCodename(codename), opts...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrPermissionDenied, codename)
	}
	return nil
}

// ValidateAnyPermission succeeds when the user holds at least one codename.
func (r *RBAC) ValidateAnyPermission(ctx context.Context, user Principal, codenames []string, opts ...CheckOption) error {
	for _, codename := range codenames {
		ok, err := r.HasPermission(ctx, user, ByCodename(codename), opts...)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: missing all of %v", ErrPermissionDenied, codenames)
}

// ValidateAllPermissions succeeds when the user holds every codename.
func (r *RBAC) ValidateAllPermissions(ctx context.Context, user Principal, codenames []string, opts ...CheckOption) error {
	for _, codename := range codenames {
		if err := r.CheckPermission(ctx, user, codename, opts...); err != nil {
			return err
		}
	}
	return nil
}

// LoadUser fetches a user by id; used to turn an authenticated identity into
// a Principal.
func (r *RBAC) LoadUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "id = ? AND is_active = ?", id, true).Error; err != nil {
		return nil, wrapStoreErr("load user", err)
	}
	return &user, nil
}

// CreateUser inserts a user. Authentication lives elsewhere; this exists for
// seeding and tests.
func (r *RBAC) CreateUser(ctx context.Context, username, email string, superuser bool) (*User, error) {
	if username == "" {
		return nil, ErrInvalidInput
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: user %s", ErrAlreadyExists, username)
	}
	user := &User{Username: username, Email: email, IsSuperuser: superuser, IsActive: true}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}
