package routes

import (
	"context"
	"time"

	rbac "github.com/bohemiyan/tenantrbac"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether backing services are reachable.
type HealthFunc func(ctx context.Context) error

// Setup registers the HTTP surface. metrics and health may be nil.
func Setup(app *fiber.App, svc *rbac.RBAC, metrics *rbac.Metrics, health HealthFunc) {
	h := &handler{svc: svc}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1", svc.HeaderIdentity())

	api.Get("/me/permissions", svc.RequireMember(), h.myPermissions)
	api.Get("/me/roles", svc.RequireMember(), h.myRoles)
	api.Get("/check/:codename", svc.RequireMember(), h.check)
	api.Get("/accounts/:account_id/permissions", svc.RequireMember(), h.myPermissions)

	api.Post("/permissions", svc.RequirePermission("manage_permissions"), h.createPermission)
	api.Post("/roles", svc.RequirePermission("create_roles"), h.createRole)
	api.Post("/roles/:role_id/permissions", svc.RequirePermission("edit_roles"), h.addRolePermission)
	api.Post("/user-roles", svc.RequirePermission("edit_members"), h.assignRole)
	api.Post("/user-permissions", svc.RequirePermission("manage_permissions"), h.grantPermission)
	api.Get("/audit-logs", svc.RequirePermission("view_permissions"), h.auditLogs)
}
