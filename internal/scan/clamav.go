package scan

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const clamscanBinary = "clamscan"

// ClamAV runs clamscan over a single file. Exit code 0 is clean, 1 is a
// detection, anything else is a scanner error.
type ClamAV struct {
	Binary  string
	Timeout time.Duration

	run runFunc
}

// NewClamAV returns a ClamAV scanner using clamscan from PATH.
func NewClamAV() *ClamAV {
	return &ClamAV{Binary: clamscanBinary, Timeout: DefaultTimeout, run: execRun}
}

func (c *ClamAV) Name() string { return "ClamAV" }

func (c *ClamAV) Scan(ctx context.Context, path string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	code, out, err := c.run(ctx, c.Binary, "--no-summary", "--stdout", path)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("scan: clamav timed out: %w", ctx.Err())
		}
		return Unavailable, nil
	}

	switch code {
	case 0:
		return Clean, nil
	case 1:
		return Infected, nil
	default:
		return "", fmt.Errorf("scan: clamav exit %d: %s", code, strings.TrimSpace(string(out)))
	}
}
