package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vyuha/vyuha-explorer/internal/config"
)

var version = "0.3.0"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "vyuha",
		Short: "vyuha — interactive fleet knowledge graph explorer",
		Long: brand.Sprint("vyuha") + " serves a fleet knowledge graph and explores it one neighbourhood at a time\n" +
			subtle.Sprint("Configuration: defaults < --config YAML < VYUHA_* env < flags"),
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	cmd.SetVersionTemplate("vyuha {{ .Version }}\n")
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("VYUHA_CONFIG"), "path to YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(a),
		newEmbedCmd(a),
		newExploreCmd(a),
	)
	return cmd
}

// load resolves configuration and installs the logger. The server logs to
// stdout like any service; the interactive commands keep stdout for their
// own output.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}

	out := cmd.ErrOrStderr()
	if cmd.Name() == "serve" {
		out = cmd.OutOrStdout()
	}
	initLogger(cfg.LogLevel, out)
	a.cfg = cfg
	return nil
}
