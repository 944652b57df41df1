package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-clave/keydetect"
	"github.com/RyanBlaney/sonido-clave/transcode"
)

type analyzeOptions struct {
	suppressLowEnd bool
	jsonOutput     bool
	candidates     bool
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Estimate the key of an audio file (- reads from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("suppress-low-end") && !cmd.Flags().Changed("stage-mode") {
				opts.suppressLowEnd = root.cfg.Analysis.SuppressLowEnd
			}
			return runAnalyze(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.suppressLowEnd, "suppress-low-end", false, "ignore content below C3 (stage rumble, bass amplification)")
	cmd.Flags().BoolVar(&opts.suppressLowEnd, "stage-mode", false, "alias for --suppress-low-end")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.candidates, "candidates", false, "also print the runner-up keys")

	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions, input string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stderr := cmd.ErrOrStderr()

	estimator, err := keydetect.NewEstimator(root.cfg, nil)
	if err != nil {
		printError(stderr, "cannot start analyzer", err)
		return err
	}

	src, err := resolveSource(cmd.InOrStdin(), input)
	if err != nil {
		printError(stderr, "cannot read input", err)
		return err
	}

	filter := keydetect.FilterConfig{SuppressLowEnd: opts.suppressLowEnd}
	est, err := estimator.EstimateKey(ctx, src, filter)

	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		printError(stderr, "source not found", err)
		return err
	case errors.Is(err, transcode.ErrFFmpegUnavailable):
		printError(stderr, "cannot decode this format, install ffmpeg or set decoder.ffmpeg_path", err)
		return err
	case errors.As(err, new(*transcode.DecodeError)):
		printError(stderr, "file unreadable", err)
		return err
	case errors.Is(err, context.Canceled):
		printError(stderr, "analysis interrupted", err)
		return err
	case err != nil:
		printError(stderr, "analysis failed", err)
		return err
	}

	if opts.jsonOutput {
		return renderJSON(out, src, filter, est)
	}
	renderText(out, est, opts.candidates)
	return nil
}

// resolveSource turns the CLI argument into a typed source
func resolveSource(stdin io.Reader, input string) (keydetect.Source, error) {
	if input != "-" {
		return keydetect.FileSource(input), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return keydetect.Source{}, fmt.Errorf("reading stdin: %w", err)
	}
	return keydetect.BufferSource("stdin", data), nil
}
