// cbuild run [path] [-- args...]
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

var runCmd = &cobra.Command{
	Use:   "run [project path] -- [args...]",
	Short: "Build the project then run its first executable target",
	Long:  `Build the project, then exec the first [[targets.executable]] artifact, forwarding any arguments after "--".`,
	Args:  cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		projectArgs, runArgs := args, []string(nil)
		if dash := cmd.ArgsLenAtDash(); dash >= 0 {
			projectArgs, runArgs = args[:dash], args[dash:]
		} else if len(args) > 0 {
			projectArgs, runArgs = args[:1], args[1:]
		}
		projectDir := targetDir(projectArgs)

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
		exes := m.TargetsByKind(manifest.KindExecutable)
		if len(exes) == 0 {
			msg.Fatal("project has no executable target to run")
		}

		planner := layout.New(projectDir, flagProfile)
		exitCode, err := runner.Run(context.Background(), planner.ExecutablePath(exes[0].Name), runArgs, planner.LibDir())
		if err != nil {
			msg.Fatal("%v", err)
		}
		os.Exit(exitCode)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addBuildFlags(runCmd)
}
