package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/colorcal/colorcal/pkg/result"
)

func NewCleanupCommand() *cobra.Command {
	var basename string

	cmd := &cobra.Command{
		Use:     "cleanup <working-dir>",
		Short:   "Remove intermediate files left by a calibration",
		Long:    `Remove the intermediate files of a calibration from its working directory. The profile is kept.`,
		GroupID: gAdvanced,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			removed, err := result.Cleanup(dir, basename)
			for _, p := range removed {
				cmd.Printf("removed %s\n", p)
			}
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				cmd.Println("Nothing to remove.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&basename, "basename", "calibration", "file name stem of the artifacts")
	return cmd
}
