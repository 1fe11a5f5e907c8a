package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/config"
	"github.com/arkilian/framekit/internal/logging"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configFile string
	dataDir    string
	logLevel   string
	devLogs    bool
}

func (o *globalOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "", "Configuration file (YAML, TOML or JSON)")
	fs.StringVar(&o.dataDir, "data-dir", "", "Base directory for all data files")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&o.devLogs, "dev-logs", false, "Human readable console logs")
}

// loadConfig layers defaults, the config file, FRAMEKIT_* variables and
// flags, in increasing priority.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configFile != "" {
		loaded, err := config.LoadFromFile(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.devLogs {
		cfg.Logging.Development = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "framekit",
		Short:         "Reorder, organize and serve data frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	opts.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newTransformCommand(opts))
	rootCmd.AddCommand(newTransformersCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
