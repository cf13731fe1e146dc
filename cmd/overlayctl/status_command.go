package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/overlay-core/internal/overlay"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <scene-id>",
		Short: "Show per-layer sync status for a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, s, err := ctx.loadRegistry(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			scene, err := registry.Scene(args[0])
			if errors.Is(err, overlay.ErrSceneNotFound) {
				return fmt.Errorf("scene %s not found", args[0])
			}
			if err != nil {
				return err
			}
			report := overlay.ComputeSyncStatus(scene.Draft, scene.Live)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scene:   %s (%s)\n", scene.Name, scene.ID)
			fmt.Fprintf(out, "Visible: %s\n", yesNo(scene.Visible))
			fmt.Fprintf(out, "Sync:    %s\n\n", syncLabel(report.SceneSynced))

			if len(scene.Draft) == 0 {
				fmt.Fprintln(out, "Draft is empty")
			} else {
				rows := make([][]string, 0, len(scene.Draft))
				for i, l := range scene.Draft {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						l.ID,
						l.Label,
						string(l.Template),
						string(report.Statuses[l.ID]),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Layer", "Label", "Template", "Status"},
					rows,
					[]columnAlignment{alignRight},
				))
			}

			if len(report.DeletedFromDraft) > 0 {
				fmt.Fprintln(out, "\nLive layers deleted from draft:")
				rows := make([][]string, 0, len(report.DeletedFromDraft))
				for _, l := range report.DeletedFromDraft {
					rows = append(rows, []string{l.ID, l.Label, string(l.Template), l.SourceID})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Layer", "Label", "Template", "Source"},
					rows,
					nil,
				))
			}
			return nil
		},
	}
}
