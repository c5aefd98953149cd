// Package main は metaclean コマンドのエントリーポイントです。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/meta-clean/internal/cleaner"
	"github.com/yourusername/meta-clean/internal/config"
	"github.com/yourusername/meta-clean/internal/logging"
	"github.com/yourusername/meta-clean/internal/pdf"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app はサブコマンド間で共有する設定とロガーです。
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "metaclean",
		Short:         "Remove author metadata from Office documents and PDFs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(newCleanCmd(a), newServeCmd(a), newWorkerCmd(a))
	return root
}

func (a *app) newCleaner() *cleaner.Cleaner {
	return cleaner.New(cleaner.Options{
		Logger: a.logger,
		PDF: pdf.Options{
			TempDir:    a.cfg.TempDir,
			Attempts:   a.cfg.PDFMaxAttempts,
			RetryDelay: a.cfg.PDFRetryDelay,
		},
	})
}
