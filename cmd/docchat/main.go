package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/config"
	"github.com/go-go-golems/docchat/pkg/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	settings  config.Settings
	logCloser io.Closer
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "docchat",
		Short:         "Websocket chat relay for conversations about images and PDFs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(opts.configPath, os.Getenv)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				s.Log.Level = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				s.Log.Format = opts.logFormat
			}
			if cmd.Flags().Changed("log-file") {
				s.Log.File = opts.logFile
			}
			closer, err := logging.Setup(s.Log)
			if err != nil {
				return errors.Wrap(err, "setup logging")
			}
			opts.settings = s
			opts.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("DOCCHAT_CONFIG"), "YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "auto", "auto, console or json")
	pf.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(newServeCommand(opts), newClientCommand(opts), newEventsCommand(opts))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("docchat failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
