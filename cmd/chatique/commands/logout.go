package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// logout: wipe every stored key, in memory and on disk.
func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Wipe all stored key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Session.Logout(); err != nil {
				return err
			}
			fmt.Println("all key material cleared")
			return nil
		},
	}
}
