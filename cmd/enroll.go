package cmd

import (
	"github.com/spf13/cobra"

	"github.com/khaledhikmat/vs-face/mode"
	"github.com/khaledhikmat/vs-face/service/vision"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <folder>",
	Short: "Enroll identities from images named name|id.jpg",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, mode.Enroll, true, mode.Options{
			Folder: args[0],
			Loader: vision.LoadImage,
		}, nil)
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
