// Command questd serves the purpose quest wizard and its backend, and runs
// the wizard from a terminal.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gabrielmiguelok/questkit/internal/config"
	"github.com/gabrielmiguelok/questkit/pkg/logging"
)

var version = "0.1.0"

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	devLog     bool

	cfg    config.Config
	logger *logging.ZapLogger
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "questd",
		Short:         "Purpose quest wizard server and tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.devLog, "dev-log", false, "human readable development logs")

	root.AddCommand(
		newServeCmd(opts),
		newResolveCmd(),
		newTemplateCmd(),
		newFillCmd(opts),
	)
	return root
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.devLog {
		cfg.Log.Development = true
		cfg.Log.JSON = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}
