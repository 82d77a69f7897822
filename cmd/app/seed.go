package main

import (
	"errors"
	"fmt"

	rbac "github.com/bohemiyan/tenantrbac"
	"github.com/spf13/cobra"
)

var superuserName string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the default permissions and roles",
	Long:  `Creates the default permission catalogue and system roles. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.svc.SeedDefaults(cmd.Context()); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
		fmt.Printf("Seeded %d permissions\n", len(rbac.DefaultPermissionCodenames()))

		if superuserName != "" {
			user, err := rt.svc.CreateUser(cmd.Context(), superuserName, "", true)
			if err != nil && !errors.Is(err, rbac.ErrAlreadyExists) {
				return err
			}
			if user != nil {
				fmt.Println("Created superuser:", user.ID)
			}
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&superuserName, "superuser", "", "also create a superuser with this username")
}
