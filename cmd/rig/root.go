package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rig",
	Short: "Behavioral rig control and acquisition",
	Long: `rig drives a two-alternative evidence-accumulation task: it delivers
lateralized air-puff trains, scores lick responses, rewards correct choices and
advances the subject through a training ladder while streaming analog and
camera data into one session file per run.

Commands:
  run      Run one session
  inspect  Summarize or dump a session file
  levels   Print the training ladder
  ctl      Send a command to a running session`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: built-in parameters)")
}

// loadConfig reads --config over the defaults, or the defaults alone, with
// RIG_* environment overrides applied. Validation is left to the caller.
func loadConfig() (config.Config, error) {
	if cfgFile == "" {
		return config.ApplyEnv(config.Default()), nil
	}
	return config.Load(cfgFile)
}
