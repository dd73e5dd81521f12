package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/levelsync/internal/config"
	"github.com/zjrosen/levelsync/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	configErr error

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "levelsync",
	Short: "Content replication registry and host-authoritative session sync",
	Long: `levelsync registers content-package templates against a fixed baseline,
gates session readiness on singleton spawns and keeps flow, weather, size
and persisted override values identical between a host and its clients.

Use 'levelsync simulate' to run a host and clients through a session on the
in-process fabric, or 'levelsync registry:list' to inspect what a set of
content packages registers.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/levelsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write logs to $LEVELSYNC_LOG (default: debug.log)")
}

func initConfig() {
	cfg, configErr = config.Load(viper.GetViper(), cfgFile)
}

func setup(_ *cobra.Command, _ []string) error {
	if configErr != nil {
		return fmt.Errorf("loading config: %w", configErr)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logging if debug mode enabled (via flag or env var)
	if os.Getenv("LEVELSYNC_DEBUG") == "" && !debugFlag {
		return nil
	}
	logPath := os.Getenv("LEVELSYNC_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "levelsync starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

// configPath returns the file settings are written back to.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return config.LocalPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
