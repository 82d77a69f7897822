package rbac

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locals keys shared with handlers.
const (
	LocalsUser    = "user"
	LocalsAccount = "account_id"
)

// HeaderAccountID and HeaderUserID carry the account context and the
// development identity.
const (
	HeaderAccountID = "X-Account-ID"
	HeaderUserID    = "X-User-ID"
)

var errBadAccount = errors.New("invalid account id")

func abort(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// UserFromCtx returns the principal stored by the authentication layer.
func UserFromCtx(c *fiber.Ctx) (Principal, bool) {
	user, ok := c.Locals(LocalsUser).(Principal)
	return user, ok && user != nil
}

// AccountFromCtx returns the account resolved by a Require middleware, if any.
func AccountFromCtx(c *fiber.Ctx) *uuid.UUID {
	id, ok := c.Locals(LocalsAccount).(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// ResolveAccount picks the account context of a request: route param,
// query, header, then the user's default account. It returns nil when the
// user belongs to no account.
func (r *RBAC) ResolveAccount(c *fiber.Ctx, user Principal) (*uuid.UUID, error) {
	for _, raw := range []string{
		c.Params(LocalsAccount),
		c.Query(LocalsAccount),
		c.Get(HeaderAccountID),
	} {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errBadAccount
		}
		return &id, nil
	}

	account, err := r.DefaultAccount(c.UserContext(), user.GetID())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account.ID, nil
}

// guard authenticates the request, resolves its account and enforces
// membership before running check.
func (r *RBAC) guard(c *fiber.Ctx, check func(Principal, []CheckOption) (bool, error), denied string) error {
	user, ok := UserFromCtx(c)
	if !ok {
		return abort(c, fiber.StatusUnauthorized, "authentication required")
	}

	accountID, err := r.ResolveAccount(c, user)
	if errors.Is(err, errBadAccount) {
		return abort(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		r.log.Error("account resolution failed", zap.Error(err))
		return abort(c, fiber.StatusInternalServerError, "authorization unavailable")
	}

	var opts []CheckOption
	if accountID != nil {
		if !user.IsSuperUser() {
			member, err := r.IsMember(c.UserContext(), *accountID, user.GetID())
			if err != nil {
				r.log.Error("membership check failed", zap.Error(err))
				return abort(c, fiber.StatusInternalServerError, "authorization unavailable")
			}
			if !member {
				return abort(c, fiber.StatusForbidden, "not a member of this account")
			}
		}
		c.Locals(LocalsAccount, *accountID)
		opts = append(opts, InAccount(*accountID))
	}

	if check != nil {
		allowed, err := check(user, opts)
		if err != nil {
			return abort(c, fiber.StatusInternalServerError, "authorization unavailable")
		}
		if !allowed {
			return abort(c, fiber.StatusForbidden, denied)
		}
	}
	return c.Next()
}

// RequirePermission lets the request through only when the user holds the
// permission in the resolved account.
func (r *RBAC) RequirePermission(codename string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return r.guard(c, func(user Principal, opts []CheckOption) (bool, error) {
			return r.HasPermission(c.UserContext(), user, ByCodename(codename), opts...)
		}, "missing permission: "+codename)
	}
}

// RequireAnyPermission lets the request through when the user holds at
// least one of the permissions in the resolved account.
func (r *RBAC) RequireAnyPermission(codenames ...string) fiber.Handler {
	denied := "missing any of: " + strings.Join(codenames, ", ")
	return func(c *fiber.Ctx) error {
		return r.guard(c, func(user Principal, opts []CheckOption) (bool, error) {
			return r.holds(c, user, codenames, opts, true)
		}, denied)
	}
}

// RequireAllPermissions lets the request through only when the user holds
// every permission in the resolved account.
func (r *RBAC) RequireAllPermissions(codenames ...string) fiber.Handler {
	denied := "missing one of: " + strings.Join(codenames, ", ")
	return func(c *fiber.Ctx) error {
		return r.guard(c, func(user Principal, opts []CheckOption) (bool, error) {
			return r.holds(c, user, codenames, opts, false)
		}, denied)
	}
}

// holds evaluates codenames in order and stops at the first deciding one.
// An empty list grants nothing.
func (r *RBAC) holds(c *fiber.Ctx, user Principal, codenames []string, opts []CheckOption, anyOf bool) (bool, error) {
	if len(codenames) == 0 {
		return false, nil
	}
	for _, codename := range codenames {
		ok, err := r.HasPermission(c.UserContext(), user, ByCodename(codename), opts...)
		if err != nil {
			return false, err
		}
		if ok == anyOf {
			return anyOf, nil
		}
	}
	return !anyOf, nil
}

// RequireRole lets the request through only when the user is assigned the
// role in the resolved account.
func (r *RBAC) RequireRole(codename string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return r.guard(c, func(user Principal, opts []CheckOption) (bool, error) {
			return r.HasRole(c.UserContext(), user, codename, opts...)
		}, "missing role: "+codename)
	}
}

// RequireMember only enforces authentication and account membership.
func (r *RBAC) RequireMember() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return r.guard(c, nil, "")
	}
}

// HeaderIdentity loads the user named by the X-User-ID header into the
// request locals. Meant for development; requests without the header pass
// through unauthenticated.
func (r *RBAC) HeaderIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(HeaderUserID))
		if raw == "" {
			return c.Next()
		}
		if _, err := uuid.Parse(raw); err != nil {
			return abort(c, fiber.StatusUnauthorized, "invalid user id")
		}
		user, err := r.LoadUser(c.UserContext(), raw)
		if errors.Is(err, ErrNotFound) {
			return abort(c, fiber.StatusUnauthorized, "unknown user")
		}
		if err != nil {
			r.log.Error("identity lookup failed", zap.Error(err))
			return abort(c, fiber.StatusInternalServerError, "authentication unavailable")
		}
		c.Locals(LocalsUser, Principal(user))
		return c.Next()
	}
}
