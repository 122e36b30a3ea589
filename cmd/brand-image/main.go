package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/menta2k/brandimage"
	"github.com/menta2k/brandimage/internal/config"
	"github.com/menta2k/brandimage/internal/logging"
)

// Global flags
var (
	configFlag    string
	logLevelFlag  string
	logFormatFlag string
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

// rootCmd is the main Cobra command for the brand-image CLI.
var rootCmd = &cobra.Command{
	Use:   "brand-image",
	Short: "Crop, compress and upload club logos and cover photos",
	Long: `brand-image turns source images into WebP logos (1:1, 512px) and covers
(16:9, up to 1600px) that fit a fixed byte budget, and uploads them to the
configured storage backend.

Configuration is read from a JSON file (see "brand-image config init"),
then overridden by BRANDIMAGE_* environment variables. A .env file in the
working directory is loaded first.

Examples:
  brand-image encode --kind logo crest.png
  brand-image encode --kind cover --out ./out photos/
  brand-image upload --entity club-42 --cover stadium.jpg --crop 0,120,1920,1080
  brand-image upload --entity club-42 --logo crest.png --cover stadium.jpg
  brand-image detect --log-level debug stadium.jpg
  brand-image optimize --kind logo old-logo.webp
  brand-image serve --addr :8080`,
	Version:       brandimage.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load(configFlag)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Logging.Level = logLevelFlag
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Logging.Format = logFormatFlag
		}
		logging.Init(loaded.Logging.Level, loaded.Logging.Format)

		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", config.GetConfigPath(), "Path to the JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "console", "Log format: console or json")

	rootCmd.AddCommand(encodeCmd, uploadCmd, optimizeCmd, detectCmd, serveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
