package cmd

import (
	"github.com/spf13/cobra"

	"github.com/khaledhikmat/vs-face/mode"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, mode.Identities, false, mode.Options{Out: cmd.OutOrStdout()}, nil)
	},
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
}
