package scan

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Verdict is the outcome of scanning one file.
type Verdict string

const (
	Clean       Verdict = "Clean"
	Infected    Verdict = "Infected"
	Unavailable Verdict = "Unavailable"
)

// DefaultTimeout bounds a single scanner invocation.
const DefaultTimeout = 30 * time.Second

// ErrUnknownScanner is returned by New for an unrecognised scanner name.
var ErrUnknownScanner = errors.New("scan: unknown scanner")

// Scanner inspects a file on disk with an external malware engine.
// Unavailable means no engine could run; callers treat it as a pass.
// A non-nil error means the engine ran but gave no usable verdict.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, path string) (Verdict, error)
}

// runFunc executes a command and returns its exit code and combined output.
// err is set only when the command could not be started or waited on.
type runFunc func(ctx context.Context, name string, args ...string) (int, []byte, error)

func execRun(ctx context.Context, name string, args ...string) (int, []byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), out, nil
	}
	if err != nil {
		return -1, out, err
	}
	return 0, out, nil
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// New returns the scanner registered under name: "auto", "defender",
// "clamav" or "none".
func New(name string) (Scanner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return Auto(), nil
	case "defender":
		return NewDefender(), nil
	case "clamav":
		return NewClamAV(), nil
	case "none":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScanner, name)
}

// Auto picks Windows Defender on Windows, ClamAV when clamscan is on PATH,
// and Nop otherwise.
func Auto() Scanner {
	if runtime.GOOS == "windows" {
		return NewDefender()
	}
	if lookPath(clamscanBinary) {
		return NewClamAV()
	}
	return Nop{}
}

// Nop never scans and always reports Unavailable.
type Nop struct{}

func (Nop) Name() string { return "none" }

func (Nop) Scan(context.Context, string) (Verdict, error) { return Unavailable, nil }
