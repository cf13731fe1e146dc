package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openStore(!statusOnly, !statusOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			applied, pending, err := s.db.GetMigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if statusOnly {
				fmt.Fprintf(out, "Applied: %d\nPending: %d\n", len(applied), len(pending))
				for _, m := range pending {
					fmt.Fprintf(out, "  %s %s\n", m.Version, m.Name)
				}
				return nil
			}

			if len(pending) == 0 {
				fmt.Fprintln(out, "Schema is up to date")
				return nil
			}
			if err := s.db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			for _, m := range pending {
				fmt.Fprintf(out, "Applied %s %s\n", m.Version, m.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "Only report applied and pending migrations")
	return cmd
}
