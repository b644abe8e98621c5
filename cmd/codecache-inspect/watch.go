package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd(opts *options) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the target's metrics on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := dumpOnce(ctx, opts); err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
				select {
				case <-ticker.C:
					continue
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}
