package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/orderflow/internal/config"
	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/pkg/api"
)

var errMemoryStorage = errors.New("memory storage is private to the serving process; choose a durable --storage")

// openReader opens the configured storage for read-only inspection.
func openReader(ctx context.Context, cfg config.Config) (api.StatusReader, func() error, error) {
	if cfg.Storage == config.StorageMemory {
		return nil, nil, errMemoryStorage
	}
	b := newBackends(cfg)
	p, err := b.Persistence(ctx)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return engine.NewEngine(p), b.Close, nil
}

func newStatusCommand() *cobra.Command {
	return newInspectCommand("status <instance-id>", "Show the status of an order",
		func(ctx context.Context, r api.StatusReader, id string, cmd *cobra.Command, format string) error {
			inst, err := r.GetStatus(ctx, id)
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), inst, format)
		})
}

func newHistoryCommand() *cobra.Command {
	return newInspectCommand("history <instance-id>", "Show the recorded history of an order",
		func(ctx context.Context, r api.StatusReader, id string, cmd *cobra.Command, format string) error {
			events, err := r.History(ctx, id)
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), events, format)
		})
}

type inspectFunc func(ctx context.Context, r api.StatusReader, id string, cmd *cobra.Command, format string) error

func newInspectCommand(use, short string, fn inspectFunc) *cobra.Command {
	v := viper.New()
	var format string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validFormat(format) {
				return errInvalidFormat(format)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			r, closeFn, err := openReader(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			return fn(cmd.Context(), r, args[0], cmd, format)
		},
	}
	cobra.CheckErr(config.SetupFlags(cmd, v))
	cmd.Flags().StringVar(&format, "format", formatText, "output format (text|json)")
	return cmd
}
