package cmd

import (
	"github.com/spf13/cobra"

	"github.com/khaledhikmat/vs-face/mode"
)

var recognitionsCmd = &cobra.Command{
	Use:   "recognitions",
	Short: "List recorded face matches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, mode.Recognitions, false, mode.Options{Out: cmd.OutOrStdout()}, nil)
	},
}

func init() {
	rootCmd.AddCommand(recognitionsCmd)
}
