package main

import (
	"context"
	"fmt"
	"os"
	// Users may sign in with any IANA zone; do not depend on the host database.
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/franckalain/pockettrainer/internal/config"
	"github.com/franckalain/pockettrainer/internal/logging"
)

var configPath string

// rootCmd runs the server when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "pockettrainer",
	Short: "Body scan capture and analysis service",
	Long: `Pocket Trainer drives a four-angle body scan from the phone over a websocket,
asks the vision provider for body measurements and keeps one progress record per
user per day.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default from "+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "keep records and photos in memory instead of SQLite")
	rootCmd.AddCommand(serveCmd, progressCmd)
}

// loadConfig reads the config and installs the logger it describes.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.Log.Level
	if cfg.Server.Debug {
		level = "debug"
	}
	logger := logging.Setup(logging.LoggerSetupParams{
		LogFileName:   cfg.Log.File,
		LogToStdout:   cfg.Log.Stdout,
		LogLevel:      level,
		LogFormatJSON: cfg.Log.JSON,
	})
	return cfg, logger, nil
}
