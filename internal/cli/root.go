// Package cli implements the extask command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petrijr/extask/internal/config"
	"github.com/petrijr/extask/internal/telemetry"
	"github.com/petrijr/extask/internal/tracing"
)

// RootOptions holds global flags and the state shared by all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	Config *config.Config
	Logger *slog.Logger

	shutdownTracing func(context.Context) error
}

// NewRootCommand creates the root command of the extask binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "extask",
		Short: "External task worker and embedded coordinator",
		Long: `extask fetches and locks external tasks from a coordinator, runs a
handler per task and reports the outcome. It can also serve an embedded
coordinator over the external task REST API for local development.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.teardown(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the config file (default ./extask.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "override log.format (json|text)")

	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewCoordinatorCommand(opts))

	return cmd
}

func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}

	logger, err := telemetry.SetupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cmd.ErrOrStderr(), cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		o.shutdownTracing = shutdown
	}

	o.Config = cfg
	o.Logger = logger
	return nil
}

func (o *RootOptions) teardown(ctx context.Context) error {
	if o.shutdownTracing == nil {
		return nil
	}
	shutdown := o.shutdownTracing
	o.shutdownTracing = nil
	return shutdown(context.WithoutCancel(ctx))
}
