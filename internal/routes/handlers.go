package routes

import (
	"errors"
	"fmt"
	"time"

	rbac "github.com/bohemiyan/tenantrbac"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type handler struct {
	svc *rbac.RBAC
}

func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, rbac.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, rbac.ErrPermissionDenied):
		status = fiber.StatusForbidden
	case errors.Is(err, rbac.ErrAlreadyExists),
		errors.Is(err, rbac.ErrRoleCycle),
		errors.Is(err, rbac.ErrSystemRole),
		errors.Is(err, rbac.ErrPermissionInUse):
		status = fiber.StatusConflict
	}
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func scope(c *fiber.Ctx) []rbac.CheckOption {
	if id := rbac.AccountFromCtx(c); id != nil {
		return []rbac.CheckOption{rbac.InAccount(*id)}
	}
	return nil
}

func actor(c *fiber.Ctx) *uuid.UUID {
	user, ok := rbac.UserFromCtx(c)
	if !ok {
		return nil
	}
	id := user.GetID()
	return &id
}

func isSuperUser(c *fiber.Ctx) bool {
	user, ok := rbac.UserFromCtx(c)
	return ok && user.IsSuperUser()
}

func denied(msg string) error {
	return fmt.Errorf("%w: %s", rbac.ErrPermissionDenied, msg)
}

// writeScope returns the account an admin write lands in. Superusers write
// where the body says, global included. Everyone else writes into the
// account their permission was checked in.
func writeScope(c *fiber.Ctx, requested *uuid.UUID) (*uuid.UUID, error) {
	if isSuperUser(c) {
		return requested, nil
	}
	scope := rbac.AccountFromCtx(c)
	if scope == nil {
		return nil, denied("global changes require a superuser")
	}
	if requested != nil && *requested != *scope {
		return nil, denied("account_id does not match the request account")
	}
	return scope, nil
}

// checkRoleScope refuses roles a non-superuser may not hand out or edit:
// system roles, roles of other accounts and, when editing, global roles.
func checkRoleScope(c *fiber.Ctx, role *rbac.Role, scope *uuid.UUID, editing bool) error {
	if isSuperUser(c) {
		return nil
	}
	if role.IsSystem {
		return denied("system roles are managed by superusers")
	}
	if role.AccountID == nil {
		if editing {
			return denied("global roles are managed by superusers")
		}
		return nil
	}
	if scope == nil || *role.AccountID != *scope {
		return denied("role belongs to another account")
	}
	return nil
}

func (h *handler) myPermissions(c *fiber.Ctx) error {
	user, _ := rbac.UserFromCtx(c)
	perms, err := h.svc.GetEffectivePermissions(c.UserContext(), user, scope(c)...)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"account_id": rbac.AccountFromCtx(c), "permissions": perms})
}

func (h *handler) myRoles(c *fiber.Ctx) error {
	user, _ := rbac.UserFromCtx(c)
	roles, err := h.svc.GetUserRoles(c.UserContext(), user, scope(c)...)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"account_id": rbac.AccountFromCtx(c), "roles": roles})
}

func (h *handler) check(c *fiber.Ctx) error {
	user, _ := rbac.UserFromCtx(c)
	codename := c.Params("codename")
	allowed, err := h.svc.HasPermission(c.UserContext(), user, rbac.ByCodename(codename), scope(c)...)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"codename": codename, "allowed": allowed})
}

type permissionRequest struct {
	Name           string `json:"name"`
	Codename       string `json:"codename"`
	Description    string `json:"description"`
	PermissionType string `json:"permission_type"`
	Resource       string `json:"resource"`
	Category       string `json:"category"`
}

func (h *handler) createPermission(c *fiber.Ctx) error {
	var req permissionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, rbac.ErrInvalidInput)
	}
	perm, err := h.svc.CreatePermission(c.UserContext(), rbac.CreatePermissionInput{
		Name:           req.Name,
		Codename:       req.Codename,
		Description:    req.Description,
		PermissionType: rbac.PermissionType(req.PermissionType),
		Resource:       req.Resource,
		Category:       req.Category,
		ActorID:        actor(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(perm)
}

type roleRequest struct {
	Name         string     `json:"name"`
	Codename     string     `json:"codename"`
	Description  string     `json:"description"`
	RoleType     string     `json:"role_type"`
	AccountID    *uuid.UUID `json:"account_id"`
	ParentRoleID *uuid.UUID `json:"parent_role_id"`
	Priority     int        `json:"priority"`
	Permissions  []string   `json:"permissions"`
}

func (h *handler) createRole(c *fiber.Ctx) error {
	var req roleRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, rbac.ErrInvalidInput)
	}
	account, err := writeScope(c, req.AccountID)
	if err != nil {
		return respondError(c, err)
	}
	if req.ParentRoleID != nil {
		parent, err := h.svc.GetRoleByID(c.UserContext(), *req.ParentRoleID)
		if err != nil {
			return respondError(c, err)
		}
		if err := checkRoleScope(c, parent, account, false); err != nil {
			return respondError(c, err)
		}
	}
	role, err := h.svc.CreateRole(c.UserContext(), rbac.CreateRoleInput{
		Name:         req.Name,
		Codename:     req.Codename,
		Description:  req.Description,
		RoleType:     rbac.RoleType(req.RoleType),
		AccountID:    account,
		ParentRoleID: req.ParentRoleID,
		Priority:     req.Priority,
		Permissions:  req.Permissions,
		ActorID:      actor(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}

type rolePermissionRequest struct {
	Permission string         `json:"permission"`
	Conditions map[string]any `json:"conditions"`
}

func (h *handler) addRolePermission(c *fiber.Ctx) error {
	roleID, err := uuid.Parse(c.Params("role_id"))
	if err != nil {
		return respondError(c, rbac.ErrInvalidInput)
	}
	var req rolePermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, rbac.ErrInvalidInput)
	}
	scope, err := writeScope(c, nil)
	if err != nil {
		return respondError(c, err)
	}
	role, err := h.svc.GetRoleByID(c.UserContext(), roleID)
	if err != nil {
		return respondError(c, err)
	}
	if err := checkRoleScope(c, role, scope, true); err != nil {
		return respondError(c, err)
	}
	perm, err := h.svc.GetPermission(c.UserContext(), req.Permission)
	if err != nil {
		return respondError(c, err)
	}
	rp, err := h.svc.AddRolePermission(c.UserContext(), roleID, perm.ID, req.Conditions, actor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rp)
}

type userRoleRequest struct {
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	AccountID  *uuid.UUID `json:"account_id"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

func (h *handler) assignRole(c *fiber.Ctx) error {
	var req userRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, rbac.ErrInvalidInput)
	}
	account, err := writeScope(c, req.AccountID)
	if err != nil {
		return respondError(c, err)
	}
	role, err := h.svc.GetRoleByID(c.UserContext(), req.RoleID)
	if err != nil {
		return respondError(c, err)
	}
	if err := checkRoleScope(c, role, account, false); err != nil {
		return respondError(c, err)
	}
	ur, err := h.svc.AssignRole(c.UserContext(), rbac.AssignRoleInput{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		AccountID:  account,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		AssignedBy: actor(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ur)
}

type userPermissionRequest struct {
	UserID     uuid.UUID      `json:"user_id"`
	Permission string         `json:"permission"`
	AccountID  *uuid.UUID     `json:"account_id"`
	GrantType  string         `json:"grant_type"`
	ObjectType string         `json:"object_type"`
	ObjectID   *string        `json:"object_id"`
	Conditions map[string]any `json:"conditions"`
	ValidFrom  *time.Time     `json:"valid_from"`
	ValidUntil *time.Time     `json:"valid_until"`
}

func (h *handler) grantPermission(c *fiber.Ctx) error {
	var req userPermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, rbac.ErrInvalidInput)
	}
	account, err := writeScope(c, req.AccountID)
	if err != nil {
		return respondError(c, err)
	}
	in := rbac.UserPermissionInput{
		UserID:     req.UserID,
		Permission: req.Permission,
		AccountID:  account,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		Conditions: req.Conditions,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		GrantedBy:  actor(c),
	}

	var up *rbac.UserPermission
	switch rbac.GrantType(req.GrantType) {
	case "", rbac.Grant:
		up, err = h.svc.GrantPermission(c.UserContext(), in)
	case rbac.Deny:
		up, err = h.svc.DenyPermission(c.UserContext(), in)
	default:
		return respondError(c, rbac.ErrInvalidInput)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(up)
}

func (h *handler) auditLogs(c *fiber.Ctx) error {
	filter := rbac.AuditFilter{
		Action: c.Query("action"),
		Limit:  c.QueryInt("limit", 100),
	}
	if raw := c.Query("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return respondError(c, rbac.ErrInvalidInput)
		}
		filter.ActorID = &id
	}
	logs, err := h.svc.ListAuditLogs(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"audit_logs": logs})
}
