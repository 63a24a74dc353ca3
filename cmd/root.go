// Package cmd wires the terminus CLI: serve (default), version, doctor,
// and onboard, matching vanducng-goclaw/cmd/root.go's cobra shape.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "terminus",
	Short: "Terminus — the execution engine of an AI-driven DevOps agent",
	Long: "Terminus decomposes a natural-language goal into a plan, translates each " +
		"step into a shell command, executes it in a restricted sandbox, streams " +
		"structured progress events, and re-plans automatically on failure.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $TERMINUS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(onboardCmd())
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("TERMINUS_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
