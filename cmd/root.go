// Package cmd implements the unfurl command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/config"
	"github.com/JakeFAU/unfurl/internal/logging"
	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/server"
	"github.com/JakeFAU/unfurl/pkg/unfurl"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitCanceled = 130
)

// usageError marks configuration mistakes.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// clientFactory builds the unfurl client. Tests replace it.
type clientFactory func(cfg config.Config, logger *zap.Logger) (unfurler, error)

type unfurler interface {
	Unfurl(ctx context.Context, rawURL string) (*unfurl.CrawlResult, error)
	Page(ctx context.Context, rawURL string) (unfurl.Metadata, error)
}

func defaultClient(cfg config.Config, logger *zap.Logger) (unfurler, error) {
	return unfurl.New(
		unfurl.WithOpts(cfg.Opts()),
		unfurl.WithLogger(logger),
		unfurl.WithBrowserPath(cfg.Discovery.ExecPath),
	)
}

// newRootCmd creates the root command. Results are written to stdout as
// JSON; logs go to stderr.
func newRootCmd(stdout io.Writer, newClient clientFactory) *cobra.Command {
	var (
		cfgFile string
		single  bool
	)
	cmd := &cobra.Command{
		Use:   "unfurl [flags] <url>",
		Short: "Resolve a URL and its same-origin subpages into page metadata",
		Long: `unfurl discovers the same-origin links on a seed page, then fetches,
parses, enriches (oEmbed), and normalizes each linked page into a metadata
record. The crawl result is printed as JSON.

Flags may also be set in a config file (--config) or through UNFURL_*
environment variables, e.g. UNFURL_CRAWL_MAX_PAGES=20.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return &usageError{err: err}
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return &usageError{err: err}
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			if cfg.Metrics.Addr != "" {
				srv := server.New(logger.Named("server"))
				if _, err := srv.Start(cfg.Metrics.Addr); err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				defer func() {
					if err := srv.Shutdown(context.Background()); err != nil {
						logger.Warn("metrics server shutdown failed", zap.Error(err))
					}
				}()
			}

			client, err := newClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("init unfurl: %w", err)
			}

			ctx := cmd.Context()
			if single {
				md, err := client.Page(ctx, args[0])
				if err != nil {
					return fmt.Errorf("unfurl page: %w", err)
				}
				return writeJSON(stdout, md)
			}

			res, err := client.Unfurl(ctx, args[0])
			if res != nil {
				if werr := writeJSON(stdout, res); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fmt.Errorf("unfurl: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.Flags().BoolVar(&single, "page", false, "unfurl only the given page, without crawling")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var uerr *usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &uerr), errors.Is(err, model.ErrBadOptions):
		return ExitUsage
	case errors.Is(err, context.Canceled):
		return ExitCanceled
	default:
		return ExitFailure
	}
}

// Execute runs the command line and returns the exit status. SIGINT and
// SIGTERM cancel the crawl; completed pages are still printed.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdout, defaultClient).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unfurl: %v\n", err)
	}
	return exitCode(err)
}
