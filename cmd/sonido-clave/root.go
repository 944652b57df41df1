package main

import (
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-clave/config"
	"github.com/RyanBlaney/sonido-clave/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sonido-clave",
		Short: "Estimate the musical key of short audio clips",
		Long: `sonido-clave estimates the key (tonic and major/minor mode) of a short
audio clip by trimming silence, isolating the harmonic content, folding a
constant-Q spectrum into 12 pitch classes and correlating the result with
reference key profiles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}

// load reads .env, the config file and environment, then applies the log level
func (o *rootOptions) load(stderr io.Writer) error {
	// A missing .env is normal
	_ = godotenv.Load()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		printError(stderr, "configuration error", err)
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		printError(stderr, "configuration error", err)
		return err
	}
	logging.SetLevel(level)

	o.cfg = cfg
	return nil
}

func printError(w io.Writer, msg string, err error) {
	fmt.Fprintf(w, "%s %s: %v\n", errorColor.Sprint("error:"), msg, err)
}
