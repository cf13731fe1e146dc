package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/overlay-core/internal/overlay"
)

func newScenesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scenes",
		Short: "List scenes with their draft and live state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, s, err := ctx.loadRegistry(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			scenes := registry.Scenes()
			if len(scenes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scenes")
				return nil
			}

			rows := make([][]string, 0, len(scenes))
			for _, sc := range scenes {
				report := overlay.ComputeSyncStatus(sc.Draft, sc.Live)
				rows = append(rows, []string{
					sc.ID,
					sc.Name,
					yesNo(sc.Visible),
					strconv.Itoa(len(sc.Draft)),
					strconv.Itoa(len(sc.Live)),
					syncLabel(report.SceneSynced),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Visible", "Draft", "Live", "Sync"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func syncLabel(synced bool) string {
	if synced {
		return "synced"
	}
	return "unpublished changes"
}
