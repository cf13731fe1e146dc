package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/overlay-core/internal/overlay"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <scene-id>",
		Short: "Copy a scene's draft to live while the server is stopped",
		Long: "Publish replaces the scene's live layers with its draft in one transaction.\n" +
			"It takes the database writer lock and fails while overlayd is running;\n" +
			"use the sync-to-live command through the server instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, s, err := ctx.loadRegistry(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			live, err := registry.Publish(cmd.Context(), args[0])
			if errors.Is(err, overlay.ErrSceneNotFound) {
				return fmt.Errorf("scene %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("publishing scene: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s: %d live layers\n", args[0], len(live))
			return nil
		},
	}
}
