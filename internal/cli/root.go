// Package cli implements the rasad command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
)

type options struct {
	configPath string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "rasad",
		Short:         "Social media monitoring collector",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.Path("config.yml"), "path to the YAML config file")

	root.AddCommand(
		newRunCommand(opts),
		newCollectOnceCommand(opts),
		newMigrateCommand(opts),
		newAccountsCommand(opts),
		newSchedulesCommand(opts),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (o *options) load() (config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return cfg, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// app loads the config and wires every component.
func (o *options) app(ctx context.Context) (*App, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, log)
}
