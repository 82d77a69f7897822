package main

import (
	"fmt"

	rbac "github.com/bohemiyan/tenantrbac"
	"github.com/bohemiyan/tenantrbac/zapLogger"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the RBAC tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.gormDB.WithContext(cmd.Context()).AutoMigrate(rbac.Models()...); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		if err := rt.svc.ValidateRoleHierarchy(cmd.Context()); err != nil {
			return err
		}
		zapLogger.Log.Info("Migration completed")
		return nil
	},
}
