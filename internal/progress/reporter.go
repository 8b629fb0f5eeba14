package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// Quiet suppresses per-candidate lines; Finish still prints.
	Quiet bool
}

// Reporter prints one line per candidate outcome and a closing summary.
// Safe for concurrent use.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	accepted  atomic.Int32
	rejected  atomic.Int32
	bytes     atomic.Int64
	startTime time.Time
	now       func() time.Time
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	r := &Reporter{opts: opts, now: time.Now}
	r.startTime = r.now()
	return r
}

func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "[harvest] "+format+"\n", args...)
}

// Begin announces a source being harvested for a label.
func (r *Reporter) Begin(source, label string, limit int) {
	if r == nil || r.opts.Quiet {
		return
	}
	r.printf("Scraping %s for %q (limit %d)", source, label, limit)
}

// Accepted records a committed asset.
func (r *Reporter) Accepted(relPath string, size int64) {
	if r == nil {
		return
	}
	r.accepted.Add(1)
	r.bytes.Add(size)
	if !r.opts.Quiet {
		r.printf("✓ %s (%s)", relPath, formatBytes(size))
	}
}

// Rejected records a candidate that did not make it into the dataset.
func (r *Reporter) Rejected(url, reason string) {
	if r == nil {
		return
	}
	r.rejected.Add(1)
	if !r.opts.Quiet {
		r.printf("✗ %s: %s", url, reason)
	}
}

// Skipped reports a source that could not be queried at all.
func (r *Reporter) Skipped(source, reason string) {
	if r == nil || r.opts.Quiet {
		return
	}
	r.printf("✗ %s skipped: %s", source, reason)
}

// Counts returns accepted and rejected counts and accepted bytes so far.
func (r *Reporter) Counts() (accepted, rejected int, bytes int64) {
	return int(r.accepted.Load()), int(r.rejected.Load()), r.bytes.Load()
}

// Finish prints the closing summary line.
func (r *Reporter) Finish() {
	if r == nil {
		return
	}
	accepted, rejected, bytes := r.Counts()
	r.printf("Done: %d accepted (%s) | %d rejected | %s",
		accepted, formatBytes(bytes), rejected, formatDuration(r.now().Sub(r.startTime)))
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string such as "50MB" or
// "512 KiB". Units are binary: KB and KiB both mean 1024.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.Replace(s, "IB", "B", 1)

	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative byte size: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}
