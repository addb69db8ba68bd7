package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/invoice-ingest/internal/app"
	"github.com/dvloznov/invoice-ingest/internal/config"
	"github.com/dvloznov/invoice-ingest/internal/logger"
)

// options are the flags shared by every command.
type options struct {
	configFile string
	userID     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "invoice-cli",
		Short:         "Ingest credit card invoices and manage uploads",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.userID, "user", os.Getenv("INVOICE_USER_ID"), "Caller identity (or set INVOICE_USER_ID)")

	root.AddCommand(
		newIngestCmd(opts),
		newReviewCmd(opts),
		newUndoCmd(opts),
		newUploadsCmd(opts),
		newBillingMonthCmd(),
		newSyncNotionCmd(opts),
	)
	return root
}

// setup loads the configuration and returns a context carrying the logger.
func setup(cmd *cobra.Command, opts *options) (context.Context, *config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	return logger.WithContext(cmd.Context(), log), cfg, nil
}

// withServices runs fn with services built from the configuration and closes
// them afterwards.
func withServices(cmd *cobra.Command, opts *options, fn func(ctx context.Context, svc *app.Services) error) error {
	ctx, cfg, err := setup(cmd, opts)
	if err != nil {
		return err
	}

	svc, err := app.NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed to close services")
		}
	}()

	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
