package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ligustah/harvest/pkg/dataset"
)

// VerifyResult contains the results of checking a dataset against its
// hash ledger.
type VerifyResult struct {
	Valid          bool     // true if every recorded file exists with matching hash
	Records        int      // rows in the hash ledger
	Missing        int      // recorded files not on disk
	HashMismatches int      // recorded files whose content changed
	Unrecorded     int      // images on disk with no hash record
	Duplicates     int      // paths recorded more than once
	StagingFiles   int      // leftover staging files
	Errors         []string // detailed messages
}

// Verify re-hashes every file named in the hash ledger and compares it to
// the recorded digest. It also reports images on disk that have no record,
// paths recorded twice, and leftover staging files.
//
// Returns an error only if the ledger cannot be read, the dataset cannot be
// scanned, or ctx is cancelled. Integrity problems are reported in the
// result with Valid=false.
func Verify(ctx context.Context, l *dataset.Layout) (*VerifyResult, error) {
	records, err := ReadHashRecords(l.HashLedgerPath())
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Valid:   true,
		Records: len(records),
		Errors:  make([]string, 0),
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if seen[rec.RelativePath] {
			result.Valid = false
			result.Duplicates++
			result.Errors = append(result.Errors, fmt.Sprintf("recorded more than once: %s", rec.RelativePath))
			continue
		}
		seen[rec.RelativePath] = true

		d, err := Hash(l.Abs(rec.RelativePath))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				result.Valid = false
				result.Missing++
				result.Errors = append(result.Errors, fmt.Sprintf("missing: %s", rec.RelativePath))
				continue
			}
			return nil, fmt.Errorf("ledger: verify %s: %w", rec.RelativePath, err)
		}

		if d.SHA256 != rec.SHA256 || d.Size != rec.Size {
			result.Valid = false
			result.HashMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("hash mismatch: %s (recorded %s, actual %s)", rec.RelativePath, short(rec.SHA256), short(d.SHA256)))
		}
	}

	inv, err := dataset.Scan(l)
	if err != nil {
		return nil, err
	}
	for _, rel := range inv.Files {
		if !seen[rel] {
			result.Valid = false
			result.Unrecorded++
			result.Errors = append(result.Errors, fmt.Sprintf("unrecorded: %s", rel))
		}
	}

	if n := len(inv.StagingFiles); n > 0 {
		result.Valid = false
		result.StagingFiles = n
		for _, s := range inv.StagingFiles {
			result.Errors = append(result.Errors, fmt.Sprintf("leftover staging file: %s", s))
		}
	}

	return result, nil
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
