package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aellingwood/ucimg/internal/config"
	"github.com/aellingwood/ucimg/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "ucimg",
	Short: "Serve markdown images from the Uploadcare CDN",
	Long: "ucimg renders a tree of markdown documents to HTML, uploading every local\n" +
		"image to Uploadcare and replacing it with responsive CDN markup.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file (YAML or TOML)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the file named by --config. Validation is left to the
// commands that need a buildable configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger for cfg, writing to the command's error
// stream. --verbose forces debug level.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = "debug"
	}
	return logging.New(level, cfg.Log.Format, cmd.ErrOrStderr())
}
