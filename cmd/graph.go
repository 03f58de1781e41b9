// cbuild graph [path]
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbuild-dev/cbuild/internal/headerscan"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
	"github.com/cbuild-dev/cbuild/internal/sourceset"
)

var graphCmd = &cobra.Command{
	Use:   "graph [project path]",
	Short: "Print each resolved source's direct quoted #include targets",
	Long:  `Informational only: a non-recursive, single-pass scan. Never consulted by the build engine itself.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectDir := targetDir(args)
		m, err := manifest.Load(projectDir)
		if err != nil {
			msg.Fatal("%v", err)
		}
		sources, err := sourceset.Resolve(m, projectDir)
		if err != nil {
			msg.Fatal("%v", err)
		}

		var all []string
		for _, files := range sources {
			all = append(all, files...)
		}

		graph, err := headerscan.Graph(all)
		if err != nil {
			msg.Fatal("%v", err)
		}

		for src, includes := range graph {
			fmt.Println(src)
			for _, inc := range includes {
				fmt.Println("  " + inc)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
