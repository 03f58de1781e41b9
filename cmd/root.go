// cbuild [path], cbuild build [path]
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cbuild-dev/cbuild/internal/orchestrator"
)

var (
	flagProfile       string
	flagJobs          int
	flagVerbose       bool
	flagIncremental   bool
	flagNoIncremental bool
)

func resolveIncremental() bool {
	if flagNoIncremental {
		return false
	}
	return flagIncremental
}

func targetDir(args []string) string {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func doBuild(cmd *cobra.Command, args []string) {
	code := orchestrator.Build(context.Background(), orchestrator.Options{
		ProjectDir:    targetDir(args),
		Configuration: flagProfile,
		Jobs:          flagJobs,
		Incremental:   resolveIncremental(),
		Verbose:       flagVerbose,
	})
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:   "cbuild [project path]",
	Short: "A declarative build orchestrator for C/C++ projects",
	Long:  `cbuild compiles and links C/C++ projects described by a cbuild.toml manifest.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [project path]",
	Short: "Build the project",
	Long:  `Build the project. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagProfile, "profile", "p", "debug", "Build configuration (profile) to use")
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Number of parallel compile workers (0 = host CPU count)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print fully-assembled compiler and linker command lines")
	cmd.Flags().BoolVar(&flagIncremental, "incremental", true, "Skip recompiling sources whose content hash is unchanged")
	cmd.Flags().BoolVar(&flagNoIncremental, "no-incremental", false, "Recompile every resolved source regardless of hash state")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
