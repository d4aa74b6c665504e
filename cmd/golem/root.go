package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leandroluk/golem/v2/config"
	"github.com/leandroluk/golem/v2/core"
	"github.com/spf13/cobra"
)

// appKey stores the loaded *app in the command context.
type appKey struct{}

// app is the state shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "golem",
		Short: "golem - operate golem connections",
		Long: `golem checks the connections declared in golem.yaml and manages
tables and collections through their schema services.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{cfg: cfg, logger: logger}))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./golem.yaml)")
	rootCmd.PersistentFlags().StringP("connection", "c", "", "connection name (default: the configured default)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(newPingCommand())
	rootCmd.AddCommand(newSchemaCommand())
	return rootCmd
}

func appFrom(cmd *cobra.Command) (*app, error) {
	a, ok := cmd.Context().Value(appKey{}).(*app)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return a, nil
}

// connect resolves the selected connection and connects it. The caller
// closes the returned connection.
func connect(cmd *cobra.Command) (core.Connection, error) {
	a, err := appFrom(cmd)
	if err != nil {
		return nil, err
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	connectionList, err := config.Build(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	registry, err := core.NewRegistry(a.cfg.Default, connectionList...)
	if err != nil {
		return nil, err
	}
	conn, err := registry.Resolve(a.cfg.Default)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(cmd.Context()); err != nil {
		return nil, err
	}
	return conn, nil
}

func closeQuietly(cmd *cobra.Command, conn core.Connection) {
	if err := conn.Close(context.WithoutCancel(cmd.Context())); err != nil {
		if a, aerr := appFrom(cmd); aerr == nil {
			a.logger.Warn("close failed", slog.String("connection", conn.Name()), slog.Any("error", err))
		}
	}
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to the selected connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeQuietly(cmd, conn)
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s (%s)\n", conn.Name(), conn.Driver())
			return nil
		},
	}
}
