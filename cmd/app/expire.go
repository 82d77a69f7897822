package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark role assignments whose validity window has closed as expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer rt.close()

		n, err := rt.svc.ExpireUserRoles(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d role assignments\n", n)
		return nil
	},
}
