// Command codecache-inspect polls a running process's Prometheus /metrics
// endpoint for six of the seven series codecache/metrics.go registers (all
// but the per-component lock_wait_seconds gauge),
// and prints them either as pretty text or JSON. Its snapshot/watch/pprof
// shape follows the teacher's cmd/arena-cache-inspect/main.go; the payload
// differs because codecache exposes Prometheus metrics rather than a custom
// JSON debug endpoint.
//
// The target process is expected to serve:
//   GET /metrics                        – Prometheus text exposition.
//   GET /debug/pprof/{heap,goroutine}   – standard net/http/pprof handlers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "codecache-inspect:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "codecache-inspect",
		Short:   "Inspect a running codecache loader's cache metrics",
		Version: version,
	}
	root.PersistentFlags().StringVar(&opts.target, "target", "http://localhost:7070", "base URL of the target process")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "emit machine-readable JSON instead of a text table")

	root.AddCommand(newSnapshotCmd(opts), newWatchCmd(opts), newPprofCmd(opts))
	return root
}

type options struct {
	target string
	json   bool
}
