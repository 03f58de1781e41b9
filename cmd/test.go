// cbuild test [path]
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/cbuild-dev/cbuild/internal/layout"
	"github.com/cbuild-dev/cbuild/internal/manifest"
	"github.com/cbuild-dev/cbuild/internal/msg"
	"github.com/cbuild-dev/cbuild/internal/orchestrator"
	"github.com/cbuild-dev/cbuild/internal/runner"
)

var testCmd = &cobra.Command{
	Use:   "test [project path]",
	Short: "Build the project then run every test target",
	Long:  `Build the project, then exec each [[targets.test]] artifact in manifest order.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectDir := targetDir(args)

		if code := orchestrator.Build(context.Background(), orchestrator.Options{
			ProjectDir:    projectDir,
			Configuration: flagProfile,
			Jobs:          flagJobs,
			Incremental:   resolveIncremental(),
			Verbose:       flagVerbose,
		}); code != 0 {
			os.Exit(code)
		}

		m, err := manifest.Load(projectDir)
		if err != nil {
			msg.Fatal("%v", err)
		}
		tests := m.TargetsByKind(manifest.KindTest)
		if len(tests) == 0 {
			msg.Info("project has no test targets")
			return
		}

		planner := layout.New(projectDir, flagProfile)
		failures := 0
		for _, t := range tests {
			msg.Info("running test: %s", t.Name)
			code, err := runner.Run(context.Background(), planner.TestExecutablePath(t.Name), nil, planner.LibDir())
			if err != nil {
				msg.Error("%v", err)
				failures++
				continue
			}
			if code != 0 {
				msg.Error("test %s exited with code %d", t.Name, code)
				failures++
			}
		}
		if failures > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
	addBuildFlags(testCmd)
}
