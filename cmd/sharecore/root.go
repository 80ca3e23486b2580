package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/sharecore/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries the settings shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logJSON    bool
	logFile    string

	cfg     *config.Config
	logDest *os.File
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sharecore",
		Short: "Share directories and download files over TCP",
		Long: `sharecore serves the files below a set of shared directories to any
sharecore client on the network, and downloads files from other servers.

Interrupted downloads resume from where they stopped when the same file is
requested into the same destination again.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "settings file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "log in JSON format")
	root.PersistentFlags().StringVar(&a.logFile, "log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		newServeCmd(a),
		newListCmd(a),
		newGetCmd(a),
		newDiscoverCmd(a),
	)
	return root
}

// setup loads the settings and configures logging. Client commands log only
// warnings unless a level is given, so log lines do not break up their
// output.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnvironment()

	level := cfg.LogLevel
	switch {
	case a.logLevel != "":
		level = a.logLevel
	case cmd.Name() != "serve":
		level = "warn"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(parsed)

	if a.logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if a.logFile != "" {
		f, err := os.OpenFile(a.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logrus.SetOutput(f)
		a.logDest = f
	}

	a.cfg = cfg
	return nil
}

func (a *app) teardown() error {
	if a.logDest == nil {
		return nil
	}
	logrus.SetOutput(os.Stderr)
	err := a.logDest.Close()
	a.logDest = nil
	return err
}
