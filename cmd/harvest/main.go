package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitStorageError     = 5
	ExitValidationFailed = 7
)

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	// Anything else came from cobra's own argument handling.
	color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
	return ExitInvalidArgs
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	output     string
	logLevel   string
	quiet      bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "harvest",
		Short: "Acquire trusted images into a labeled, audited dataset",
		Long: `harvest downloads images from trusted sources, validates every file
before it is kept, and files accepted images under
<output>/<label>/<partition>/ with hash, metadata and audit ledgers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&g.output, "output", "o", "", "Dataset root directory")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "Suppress per-image progress lines")

	root.AddCommand(
		newRunCmd(g),
		newFetchCmd(g),
		newVerifyCmd(g),
		newReportCmd(g),
	)
	return root
}
