package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bohemiyan/tenantrbac/internal/routes"
	"github.com/bohemiyan/tenantrbac/zapLogger"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		defer rt.close()

		app := fiber.New(fiber.Config{AppName: rt.cfg.AppName})
		app.Use(zapLogger.FiberLoggingMiddleware(rt.logFile))

		var health routes.HealthFunc
		if rt.pg != nil {
			health = func(ctx context.Context) error {
				if err := rt.pg.Ping(ctx); err != nil {
					return err
				}
				if rt.redis != nil {
					return rt.redis.Ping(ctx).Err()
				}
				return nil
			}
		}
		routes.Setup(app, rt.svc, rt.metrics, health)

		go func() {
			<-ctx.Done()
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				zapLogger.Log.Errorf("shutdown: %v", err)
			}
		}()

		addr := fmt.Sprintf(":%d", rt.cfg.AppPort)
		zapLogger.Log.Infof("Server started on port %d", rt.cfg.AppPort)
		return app.Listen(addr)
	},
}
