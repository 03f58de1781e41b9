// cbuild clean [path]
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cbuild-dev/cbuild/internal/orchestrator"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [project path]",
	Short: "Remove the build directory for a profile",
	Long:  `Remove <project>/build/<profile> recursively. A missing directory is not an error.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		code := orchestrator.Clean(orchestrator.Options{
			ProjectDir:    targetDir(args),
			Configuration: flagProfile,
		})
		os.Exit(code)
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringVarP(&flagProfile, "profile", "p", "debug", "Build configuration (profile) to clean")
}
