package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/opd-ai/sharecore/discovery"
	"github.com/spf13/cobra"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find servers announced on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			peers, err := discovery.Browse(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(peers) == 0 {
				fmt.Fprintln(out, "no servers found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tADDRESS\tFILES\tVERSION")
			for _, p := range peers {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.Instance, p.Addr, p.Files, p.Version)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "how long to listen for announcements")
	return cmd
}
