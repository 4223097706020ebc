package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/go-piper-preprocess/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:          "piperprep",
		Short:        "Preprocess speech corpora into Piper training datasets",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newPreprocessCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newCheckPhonemesCmd())
	cmd.AddCommand(newCleanCacheCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Audio.SampleRate == 0 {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}

// cacheDir returns the configured cache directory or <output>/cache.
func cacheDir(cfg config.Config) (string, error) {
	if cfg.Paths.CacheDir != "" {
		return cfg.Paths.CacheDir, nil
	}
	if cfg.Paths.OutputDir == "" {
		return "", errors.New("paths.output_dir or paths.cache_dir is required")
	}
	return filepath.Join(cfg.Paths.OutputDir, "cache"), nil
}
