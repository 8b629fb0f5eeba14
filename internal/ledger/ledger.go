package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ligustah/harvest/internal/logger"
	"github.com/ligustah/harvest/pkg/dataset"
)

// Ledger headers. Files are created with the header as their first row.
var (
	HashHeader     = []string{"filename", "sha256", "md5", "file_size", "scan_status", "timestamp"}
	MetadataHeader = []string{"image_id", "relative_path", "source", "label", "partition", "download_date", "url", "title", "description"}
)

// TimeFormat is used for every timestamp the ledger writes.
const TimeFormat = time.RFC3339

// Ledger appends to the hash ledger, metadata ledger and audit log of a
// dataset. Every write opens the file in append mode, so nothing already
// written is ever rewritten. Write failures are logged and swallowed.
// Safe for concurrent use.
type Ledger struct {
	hashPath     string
	metadataPath string
	auditPath    string

	mu  sync.Mutex
	now func() time.Time
}

// New returns a ledger writing to the layout's ledger files.
func New(l *dataset.Layout) *Ledger {
	return &Ledger{
		hashPath:     l.HashLedgerPath(),
		metadataPath: l.MetadataPath(),
		auditPath:    l.AuditLogPath(),
		now:          time.Now,
	}
}

// Init creates the CSV ledgers with their headers if they do not exist.
func (lg *Ledger) Init() error {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if err := ensureHeader(lg.hashPath, HashHeader); err != nil {
		return err
	}
	return ensureHeader(lg.metadataPath, MetadataHeader)
}

// RecordHash appends one row to the hash ledger. A zero Timestamp is
// replaced with the current time.
func (lg *Ledger) RecordHash(rec dataset.HashRecord) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = lg.now()
	}
	row := []string{
		rec.RelativePath,
		rec.SHA256,
		rec.MD5,
		strconv.FormatInt(rec.Size, 10),
		rec.ScanStatus,
		rec.Timestamp.Format(TimeFormat),
	}
	if err := appendRow(lg.hashPath, HashHeader, row); err != nil {
		logger.Error("hash ledger write failed", "path", rec.RelativePath, "err", err)
	}
}

// RecordMetadata appends one row to the metadata ledger. A zero
// DownloadDate is replaced with the current time.
func (lg *Ledger) RecordMetadata(rec dataset.MetadataRecord) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if rec.DownloadDate.IsZero() {
		rec.DownloadDate = lg.now()
	}
	row := []string{
		rec.ImageID,
		rec.RelativePath,
		rec.Source,
		rec.Label,
		string(rec.Partition),
		rec.DownloadDate.Format(TimeFormat),
		rec.URL,
		rec.Title,
		rec.Description,
	}
	if err := appendRow(lg.metadataPath, MetadataHeader, row); err != nil {
		logger.Error("metadata ledger write failed", "path", rec.RelativePath, "err", err)
	}
}

// RecordEvent appends one "[timestamp] text" line to the audit log.
func (lg *Ledger) RecordEvent(text string) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	f, err := os.OpenFile(lg.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("audit log open failed", "err", err)
		return
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "[%s] %s\n", lg.now().Format(TimeFormat), text); err != nil {
		logger.Error("audit log write failed", "err", err)
	}
}

// RecordEventf formats and appends an audit line.
func (lg *Ledger) RecordEventf(format string, args ...any) {
	lg.RecordEvent(fmt.Sprintf(format, args...))
}

func ensureHeader(path string, header []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("ledger: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("ledger: write header %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

func appendRow(path string, header, row []string) error {
	if err := ensureHeader(path, header); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
