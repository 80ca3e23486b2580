package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/sharecore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long serve waits for running transfers on exit.
const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		port     int
		shares   []string
		metrics  string
		announce bool
		watch    bool
		noSave   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shared directories",
		Long: `Serve the shared directories until interrupted. The listen port and the
shared directory list are written back to the settings file on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.ListenPort = port
			}
			cfg.SharedDirectories = append(cfg.SharedDirectories, shares...)
			if flags.Changed("metrics") {
				cfg.MetricsAddress = metrics
			}
			if flags.Changed("announce") {
				cfg.Announce = announce
			}
			if flags.Changed("watch") {
				cfg.WatchDirectories = watch
			}

			node, err := sharecore.New(cfg)
			if err != nil {
				return err
			}
			logTransfers(node)

			if err := node.Start(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			waitErr := make(chan error, 1)
			go func() { waitErr <- node.Wait() }()

			var runErr error
			select {
			case <-ctx.Done():
				logrus.WithFields(logrus.Fields{
					"function": "serve",
				}).Info("Interrupted")
			case runErr = <-waitErr:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := node.Shutdown(shutdownCtx); err != nil && runErr == nil {
				runErr = err
			}

			if !noSave {
				if err := node.Config().Save(a.configPath); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "serve",
						"path":     a.configPath,
						"error":    err.Error(),
					}).Warn("Failed to save settings")
				}
			}
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", 0, "listen port (default from settings)")
	flags.StringSliceVarP(&shares, "share", "s", nil, "directory to share, repeatable")
	flags.StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&announce, "announce", false, "announce the server on the local network")
	flags.BoolVar(&watch, "watch", true, "rescan shared directories when they change")
	flags.BoolVar(&noSave, "no-save", false, "do not write settings on exit")
	return cmd
}

func logTransfers(node *sharecore.Node) {
	node.OnTransferStarted(func(id sharecore.WorkerID, file sharecore.FileInfo, peer string) {
		logrus.WithFields(logrus.Fields{
			"id":   id.String(),
			"file": file.RelativePath,
			"size": file.Size,
			"peer": peer,
		}).Info("Transfer started")
	})
	node.OnTransferCompleted(func(id sharecore.WorkerID) {
		logrus.WithFields(logrus.Fields{
			"id": id.String(),
		}).Info("Transfer completed")
	})
	node.OnTransferAborted(func(id sharecore.WorkerID, bytes uint64) {
		logrus.WithFields(logrus.Fields{
			"id":    id.String(),
			"bytes": bytes,
		}).Info("Transfer aborted")
	})
}
