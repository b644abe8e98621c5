package main

// pprof.go downloads a heap or goroutine profile from the target's standard
// net/http/pprof handlers, following the teacher's downloadProfile helper
// verbatim in shape.

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func newPprofCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pprof {heap|goroutine}",
		Short: "Download a pprof profile from the target and save it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := args[0]
			if profile != "heap" && profile != "goroutine" {
				return fmt.Errorf("unsupported profile %q (want heap or goroutine)", profile)
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = profile + ".pprof"
			}
			return downloadProfile(cmd.Context(), opts.target, profile, out)
		},
	}
	cmd.Flags().String("out", "", "output file (default: <profile>.pprof)")
	return cmd
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Fprintf(cmdOut, "%s profile saved to %s\n", name, path)
	return nil
}
