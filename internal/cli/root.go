// Package cli implements the asyncinit command.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkock/asyncinit/internal/config"
	"github.com/mkock/asyncinit/internal/logging"
)

// app carries what PersistentPreRunE prepares for the subcommands.
type app struct {
	configFile string
	debug      bool

	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root cobra command for the asyncinit CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "asyncinit",
		Short: "Run asynchronous initialization units in priority tiers",
		Long: "asyncinit plans and runs simulated startups described by a YAML manifest: units sharing a priority run " +
			"concurrently, priorities run in ascending order, and an interrupt cancels the whole run.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (YAML)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newPlanCmd(a),
		newRunCmd(a),
		newResolveCmd(a),
	)

	return root
}

// setup loads the configuration, letting flags that were set override it, and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}

	bindings := map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"metrics.addr":   "metrics-addr",
		"run.stop_grace": "stop-grace",
		"resolve.dirs":   "dir",
	}
	for key, name := range bindings {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	a.v = v
	a.cfg = cfg
	a.logger = logging.FromConfig(cfg.Logging, a.debug, cmd.ErrOrStderr())
	return nil
}
