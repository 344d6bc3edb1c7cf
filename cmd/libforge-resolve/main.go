// libforge-resolve resolves a verified precompiled library for a crate,
// printing the library path on success. It is the command-line surface over
// the resolution engine; build tooling shells out to it before deciding
// whether to compile locally.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stax/libforge-go/internal/config"
	"github.com/stax/libforge-go/internal/logging"
	"github.com/stax/libforge-go/internal/resolve"
)

// Version is set at build time via -ldflags.
var Version = "v0.0.1-alpha"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps outcomes to exit codes: 0 for a resolved
// library or a clean fallback decision, 1 for resolution failures, 2 for
// argument and configuration mistakes.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return 2
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		crateDir string
		buildID  string
		target   string
		cacheDir string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:           "libforge-resolve",
		Short:         "Resolve a verified precompiled library for a crate",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Nop()
			if verbose {
				logger = logging.NewWriterLogger(stderr)
			}

			res := resolve.New(logger).Resolve(cmd.Context(), resolve.Options{
				CrateDir: crateDir,
				BuildID:  buildID,
				Target:   target,
				CacheDir: cacheDir,
			})
			switch res.Kind {
			case resolve.KindDownloaded:
				fmt.Fprintln(stdout, res.LibraryPath)
				return nil
			case resolve.KindFallback:
				fmt.Fprintf(stdout, "fallback: %s\n", res.Reason)
				return nil
			default:
				code := 1
				if errors.Is(res.Err, config.ErrInvalid) {
					code = 2
				}
				return &exitError{code: code, err: res.Err}
			}
		},
	}

	cmd.Flags().StringVar(&crateDir, "crate-dir", ".", "crate directory holding Cargo.toml")
	cmd.Flags().StringVar(&buildID, "build-id", "", "build identity to resolve (default: hash crate inputs)")
	cmd.Flags().StringVar(&target, "target", "", "target triple (default: detect host)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default: user cache)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")

	cmd.AddCommand(newVerifyCmd(stdout))
	return cmd
}

// exitError carries a specific exit code up to run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "resolution failed"
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }
