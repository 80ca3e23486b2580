package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/opd-ai/sharecore"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [address]",
		Short: "List the files a server shares",
		Long: `List the files a server shares. Without an address the server_address
from the settings file is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := sharecore.New(a.cfg)
			if err != nil {
				return err
			}
			defer node.Shutdown(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			snap, err := fetchListing(ctx, node, firstArg(args))
			if err != nil {
				return err
			}
			return printListing(cmd.OutOrStdout(), snap)
		},
	}
}

// fetchListing requests a listing and waits for the answer.
func fetchListing(ctx context.Context, node *sharecore.Node, addr string) (*sharecore.Snapshot, error) {
	listings := make(chan *sharecore.Snapshot, 1)
	failures := make(chan error, 1)
	node.OnListReceived(func(id sharecore.WorkerID, snap *sharecore.Snapshot) {
		listings <- snap
	})
	node.OnTransferFailed(func(id sharecore.WorkerID, err error) {
		failures <- err
	})
	defer node.OnListReceived(nil)
	defer node.OnTransferFailed(nil)

	if _, err := node.RequestList(addr); err != nil {
		return nil, err
	}

	select {
	case snap := <-listings:
		return snap, nil
	case err := <-failures:
		return nil, fmt.Errorf("list failed: %w", err)
	case <-ctx.Done():
		return nil, errors.New("interrupted")
	}
}

func printListing(out io.Writer, snap *sharecore.Snapshot) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE")
	for _, f := range snap.Entries() {
		fmt.Fprintf(tw, "%s\t%d\n", f.RelativePath, f.Size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d files, %d bytes\n", snap.Len(), snap.TotalSize())
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
