package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recommerce/daemon"
)

func buildImageCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "build-image",
		Short: "Rebuild the experiment image and remove the one it replaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			driver := daemon.NewDriver(cfg)
			defer driver.Close()

			id, err := driver.EnsureImage(cmd.Context(), cfg.Image.Tag, true)
			if err != nil {
				return fmt.Errorf("build image %s: %w", cfg.Image.Tag, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Image.Tag, id)
			return nil
		},
	}
}
