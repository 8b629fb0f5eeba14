package mirror

import (
	"context"
	"fmt"

	"github.com/ligustah/harvest/pkg/dataset"
)

// VerifyResult contains the results of checking a mirror against the hash
// ledger.
type VerifyResult struct {
	Valid          bool
	Objects        int
	Missing        int
	SizeMismatches int
	HashMismatches int
	Errors         []string
}

// Verify checks that every recorded asset exists in the bucket with the
// recorded size and sha256 metadata. Object contents are not downloaded.
//
// Missing or mismatched objects are reported in the result with
// Valid=false; errors are returned only for bucket access failures and
// cancellation.
func (p *Publisher) Verify(ctx context.Context, records []dataset.HashRecord) (*VerifyResult, error) {
	result := &VerifyResult{
		Valid:   true,
		Objects: len(records),
		Errors:  make([]string, 0),
	}

	for _, rec := range records {
		key := p.Key(rec.RelativePath)

		attrs, err := p.bucket.Attributes(ctx, key)
		if err != nil {
			if isNotExist(err) {
				result.Valid = false
				result.Missing++
				result.Errors = append(result.Errors, fmt.Sprintf("missing: %s", key))
				continue
			}
			return nil, fmt.Errorf("mirror: check %s: %w", key, err)
		}

		if attrs.Size != rec.Size {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("size mismatch: %s (expected %d, got %d)", key, rec.Size, attrs.Size))
		}
		if got := attrs.Metadata[MetaSHA256]; got != rec.SHA256 {
			result.Valid = false
			result.HashMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("sha256 mismatch: %s", key))
		}
	}

	return result, nil
}
