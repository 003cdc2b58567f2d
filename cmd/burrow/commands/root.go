package commands

import (
	"fmt"

	"github.com/dyluth/burrow/internal/config"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - multi-device dump coordinator",
	Long: `Burrow collects diagnostic dumps from a fleet of devices.

A dump request opens an issue. Burrow extracts each target device's dump
with bounded concurrency, records every device's outcome in the issue's
manifest, and hands the result to artifact storage, either directly for
automated triggers or through the operator's UI for manual ones.

Components talk over Redis Pub/Sub, so a crash monitor or test runner can
request dumps from a running 'burrow serve'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to burrow.yml")
}
