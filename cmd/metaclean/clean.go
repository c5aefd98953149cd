package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/meta-clean/internal/cleaner"
)

func newCleanCmd(a *app) *cobra.Command {
	var (
		output     string
		attempts   int
		retryDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clean [flags] FILE|DIR...",
		Short: "Write metadata-free copies of documents into an output folder",
		Long: `clean writes "<name>_meta_clean<ext>" for every .docx, .xlsx, .pptx and .pdf
file given. Directories are expanded to the supported files they contain.
Files are processed one after another; a failure is reported and the next
file is processed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("output") {
				a.cfg.OutputDir = output
			}
			if cmd.Flags().Changed("attempts") {
				a.cfg.PDFMaxAttempts = attempts
			}
			if cmd.Flags().Changed("retry-delay") {
				a.cfg.PDFRetryDelay = retryDelay
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if strings.TrimSpace(a.cfg.OutputDir) == "" {
				return errors.New("no output folder selected: use --output or OUTPUT_DIR")
			}
			outDir, err := filepath.Abs(a.cfg.OutputDir)
			if err != nil {
				return fmt.Errorf("invalid output folder: %w", err)
			}

			inputs := cleaner.Expand(args)
			if len(inputs) == 0 {
				return errors.New("no files selected")
			}
			for i, in := range inputs {
				if abs, err := filepath.Abs(in); err == nil {
					inputs[i] = abs
				}
			}

			out := cmd.OutOrStdout()
			outcomes, err := a.newCleaner().CleanAll(cmd.Context(), inputs, outDir, func(o cleaner.Outcome) {
				if o.Err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", o.Input, o.Err)
					return
				}
				fmt.Fprintf(out, "ok   %s -> %s\n", o.Input, o.Output)
			})
			if err != nil {
				return fmt.Errorf("cleaning interrupted after %d files: %w", len(outcomes), err)
			}

			if failed := cleaner.Failed(outcomes); failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(outcomes))
			}
			fmt.Fprintf(out, "metadata cleaning completed (%d files)\n", len(outcomes))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output folder; overrides OUTPUT_DIR")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "total PDF save attempts")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 500*time.Millisecond, "delay between PDF save attempts")
	return cmd
}
