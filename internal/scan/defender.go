package scan

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Defender runs a quick Windows Defender scan over a single file through
// PowerShell's Start-MpScan. Exit code 0 is clean, anything else is a
// detection.
type Defender struct {
	Timeout time.Duration

	goos string
	run  runFunc
}

// NewDefender returns a Defender using the host OS and DefaultTimeout.
func NewDefender() *Defender {
	return &Defender{Timeout: DefaultTimeout, goos: runtime.GOOS, run: execRun}
}

func (d *Defender) Name() string { return "Windows Defender" }

func (d *Defender) Scan(ctx context.Context, path string) (Verdict, error) {
	if d.goos != "windows" {
		return Unavailable, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	script := fmt.Sprintf(`Start-MpScan -ScanPath "%s" -ScanType QuickScan`, strings.ReplaceAll(path, `"`, "`\""))
	code, _, err := d.run(ctx, "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("scan: defender timed out: %w", ctx.Err())
		}
		// powershell missing or not startable
		return Unavailable, nil
	}
	if code != 0 {
		return Infected, nil
	}
	return Clean, nil
}
