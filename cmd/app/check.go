package main

import (
	"fmt"
	"time"

	rbac "github.com/bohemiyan/tenantrbac"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	checkUser    string
	checkAccount string
	checkAt      string
	checkRole    bool
)

var checkCmd = &cobra.Command{
	Use:   "check <codename>",
	Short: "Evaluate a permission (or role with --role) for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		user, err := rt.svc.LoadUser(cmd.Context(), checkUser)
		if err != nil {
			return fmt.Errorf("user %s: %w", checkUser, err)
		}

		var opts []rbac.CheckOption
		if checkAccount != "" {
			id, err := uuid.Parse(checkAccount)
			if err != nil {
				return fmt.Errorf("invalid account: %w", err)
			}
			opts = append(opts, rbac.InAccount(id))
		}
		if checkAt != "" {
			at, err := time.Parse(time.RFC3339, checkAt)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			opts = append(opts, rbac.At(at))
		}

		var allowed bool
		if checkRole {
			allowed, err = rt.svc.HasRole(cmd.Context(), user, args[0], opts...)
		} else {
			allowed, err = rt.svc.HasPermission(cmd.Context(), user, rbac.ByCodename(args[0]), opts...)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %t\n", user.Username, args[0], allowed)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkUser, "user", "", "user id")
	checkCmd.Flags().StringVar(&checkAccount, "account", "", "account id")
	checkCmd.Flags().StringVar(&checkAt, "at", "", "evaluation instant (RFC3339)")
	checkCmd.Flags().BoolVar(&checkRole, "role", false, "check a role codename instead of a permission")
	_ = checkCmd.MarkFlagRequired("user")
}
