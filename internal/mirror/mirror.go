package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/harvest/internal/validate"
	"github.com/ligustah/harvest/pkg/dataset"
)

// Object metadata keys written with every mirrored asset.
const (
	MetaSHA256    = "sha256"
	MetaImageID   = "image_id"
	MetaLabel     = "label"
	MetaPartition = "partition"
)

// LedgerDir is the prefix-relative directory ledger copies are written to.
const LedgerDir = "ledgers"

// ErrChecksumMismatch is returned when a local file no longer matches the
// hash it was accepted with.
var ErrChecksumMismatch = errors.New("mirror: checksum mismatch")

// Publisher copies accepted assets and ledgers into a blob bucket under
// <prefix>/<relative_path>.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
	layout *dataset.Layout
	owned  bool
}

// Open opens the bucket at bucketURL (any gocloud URL: s3://, gs://,
// file://, mem://). The returned publisher owns the bucket.
func Open(ctx context.Context, bucketURL, prefix string, layout *dataset.Layout) (*Publisher, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("mirror: open bucket: %w", err)
	}
	p := New(bkt, prefix, layout)
	p.owned = true
	return p, nil
}

// New wraps an already open bucket.
func New(bucket *blob.Bucket, prefix string, layout *dataset.Layout) *Publisher {
	return &Publisher{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		layout: layout,
	}
}

// Close closes the bucket if the publisher opened it.
func (p *Publisher) Close() error {
	if p.owned {
		return p.bucket.Close()
	}
	return nil
}

// Key returns the object key for a dataset relative path.
func (p *Publisher) Key(rel string) string {
	if p.prefix == "" {
		return rel
	}
	return path.Join(p.prefix, rel)
}

// PublishAsset uploads an accepted asset. An object that already carries
// the same sha256 is left alone. The upload is aborted if the bytes read
// from disk do not hash to asset.SHA256.
func (p *Publisher) PublishAsset(ctx context.Context, asset dataset.AcceptedAsset) (string, error) {
	key := p.Key(asset.RelativePath)

	attrs, err := p.bucket.Attributes(ctx, key)
	if err == nil && attrs.Metadata[MetaSHA256] == asset.SHA256 {
		return key, nil
	}
	if err != nil && !isNotExist(err) {
		return "", fmt.Errorf("mirror: stat %s: %w", key, err)
	}

	f, err := os.Open(p.layout.Abs(asset.RelativePath))
	if err != nil {
		return "", fmt.Errorf("mirror: open asset: %w", err)
	}
	defer f.Close()

	opts := &blob.WriterOptions{
		ContentType: validate.MIME(validate.Format(asset.Format)),
		Metadata: map[string]string{
			MetaSHA256:    asset.SHA256,
			MetaImageID:   asset.ImageID,
			MetaLabel:     asset.Label,
			MetaPartition: string(asset.Partition),
		},
	}
	if err := p.upload(ctx, key, f, opts, asset.SHA256); err != nil {
		return "", err
	}
	return key, nil
}

// PublishLedgers uploads the current ledger files to <prefix>/ledgers/.
// Ledgers that do not exist yet are skipped.
func (p *Publisher) PublishLedgers(ctx context.Context) error {
	for _, local := range []string{p.layout.MetadataPath(), p.layout.HashLedgerPath(), p.layout.AuditLogPath()} {
		f, err := os.Open(local)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("mirror: open ledger: %w", err)
		}

		key := p.Key(path.Join(LedgerDir, filepath.Base(local)))
		ct := "text/csv"
		if strings.HasSuffix(local, ".log") {
			ct = "text/plain"
		}
		err = p.upload(ctx, key, f, &blob.WriterOptions{ContentType: ct}, "")
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// upload streams r to key. When want is set the write is aborted unless the
// streamed bytes hash to it.
func (p *Publisher) upload(ctx context.Context, key string, r io.Reader, opts *blob.WriterOptions, want string) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := p.bucket.NewWriter(wctx, key, opts)
	if err != nil {
		return fmt.Errorf("mirror: create writer %s: %w", key, err)
	}

	h := sha256.New()
	if _, err := io.Copy(w, io.TeeReader(r, h)); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("mirror: write %s: %w", key, err)
	}

	if want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			// cancelling before Close discards the object
			cancel()
			w.Close()
			return fmt.Errorf("%w: %s (want %s, got %s)", ErrChecksumMismatch, key, want, got)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("mirror: commit %s: %w", key, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
