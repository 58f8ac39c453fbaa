package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Brownie44l1/imgclass/internal/config"
	"github.com/Brownie44l1/imgclass/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "imgclass",
	Short: "Transfer learning image classifier",
	Long: `imgclass trains a classification head on top of a pretrained backbone.

Images are read from an assets directory whose subdirectories name the
classes. Bottleneck features are cached in the workspace directory so later
runs only train the head.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openBackbone loads the feature extractor named in the config.
func openBackbone() (model.Extractor, error) {
	b := cfg.Backbone
	return model.Open(b.Arch, b.ModelPath, b.MetadataPath, b.LibraryPath, b.ImageSize)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "imgclass.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(trainCmd, predictCmd, serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
