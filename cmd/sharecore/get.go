package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/opd-ai/sharecore"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// ErrDownloadAborted is returned when a download stops before completion.
var ErrDownloadAborted = errors.New("download aborted")

func newGetCmd(a *app) *cobra.Command {
	var (
		out   string
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "get [address] path",
		Short: "Download a shared file",
		Long: `Download one file by its listed path. Interrupting the download keeps the
partial file; running the same command again resumes it.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, path := "", args[0]
			if len(args) == 2 {
				addr, path = args[0], args[1]
			}

			node, err := sharecore.New(a.cfg)
			if err != nil {
				return err
			}
			defer node.Shutdown(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			snap, err := fetchListing(ctx, node, addr)
			if err != nil {
				return err
			}
			file, ok := snap.Lookup(path)
			if !ok {
				return fmt.Errorf("%s is not shared by the server", path)
			}

			dest := out
			if dest == "" {
				dest, err = node.DownloadPath(file)
				if err != nil {
					return err
				}
			}

			var bar *progressbar.ProgressBar
			if !quiet {
				bar = progressbar.NewOptions64(
					int64(file.Size),
					progressbar.OptionSetDescription(file.Name),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionShowBytes(true),
					progressbar.OptionSetWidth(30),
					progressbar.OptionThrottle(65*time.Millisecond),
					progressbar.OptionShowCount(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprintln(cmd.ErrOrStderr())
					}),
				)
			}

			err = download(ctx, node, addr, file, dest, bar)
			if errors.Is(err, ErrDownloadAborted) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: run the same command again to resume\n", err)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", dest, file.Size)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file (default: download directory and listed name)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show a progress bar")
	return cmd
}

// download runs one download to completion. Cancelling ctx aborts it and
// waits for the abort to be reported.
func download(ctx context.Context, node *sharecore.Node, addr string, file sharecore.FileInfo, dest string, bar *progressbar.ProgressBar) error {
	done := make(chan error, 1)
	node.OnTransferProgress(func(id sharecore.WorkerID, bytes uint64, speed float64) {
		if bar != nil {
			bar.Set64(int64(bytes))
		}
	})
	node.OnTransferCompleted(func(id sharecore.WorkerID) {
		done <- nil
	})
	node.OnTransferAborted(func(id sharecore.WorkerID, bytes uint64) {
		done <- fmt.Errorf("%w at %d of %d bytes", ErrDownloadAborted, bytes, file.Size)
	})
	node.OnTransferFailed(func(id sharecore.WorkerID, err error) {
		done <- err
	})

	id, err := node.RequestDownload(addr, file, dest)
	if err != nil {
		return err
	}

	interrupted := ctx.Done()
	for {
		select {
		case err := <-done:
			if bar != nil {
				if err == nil {
					bar.Finish()
				} else {
					bar.Exit()
				}
			}
			return err
		case <-interrupted:
			interrupted = nil
			if err := node.RequestAbort(id); err != nil {
				return err
			}
		}
	}
}
