package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			return a.Migrate()
		},
	}
}
