package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tickvm/internal/cli"
	"github.com/aretw0/tickvm/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "tickvm",
	Short: "tickvm runs sandboxed, deterministic game logic",
	Long: `tickvm loads guest bytecode modules and advances them one tick at a time.
Runs can be snapshotted, resumed, forked and served over HTTP.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the tickvm.yaml configuration")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// setup loads the configuration and builds the logger shared by commands.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := cli.NewLogger(cfg.LogLevel, debug)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
