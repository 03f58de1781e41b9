// cbuild deps fetch [path]
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cbuild-dev/cbuild/internal/depmgr"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage third-party dependencies declared in the manifest",
}

var depsFetchCmd = &cobra.Command{
	Use:   "fetch [project path]",
	Short: "Fetch every [dependencies] entry into the project's vendor directory",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectDir := targetDir(args)
		m, err := manifest.Load(projectDir)
		if err != nil {
			msg.Fatal("%v", err)
		}
		if len(m.Dependencies) == 0 {
			msg.Info("no dependencies declared")
			return
		}
		if err := depmgr.FetchAll(m, projectDir); err != nil {
			msg.Fatal("%v", err)
		}
		msg.Info("fetched %d dependencies", len(m.Dependencies))
	},
}

func init() {
	rootCmd.AddCommand(depsCmd)
	depsCmd.AddCommand(depsFetchCmd)
}
