package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	region     string
	profile    string
	dbPath     string
	policyDirs []string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codeseeder",
		Short: "AWS CodeSeeder - Remote function execution on AWS CodeBuild",
		Long: `AWS CodeSeeder dispatches registered functions to AWS CodeBuild and
returns their results to the calling process.

Features:
  - Seedkit environments provisioned via CloudFormation
  - Typed seedkit configs via CUE with Starlark env expressions
  - Bundled source and arguments uploaded through S3
  - Live build log and phase streaming
  - Deploy policy enforcement via OPA
  - Local deployment and job history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "seedkit.cue", "seedkit configuration file")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (defaults to the environment)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared-config profile")
	rootCmd.PersistentFlags().StringVar(&dbPath, "history-db", "", "history database path (default ~/.codeseeder/history.db)")
	rootCmd.PersistentFlags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories (.rego/.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newMirrorCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
