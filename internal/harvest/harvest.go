package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ligustah/harvest/internal/catalog"
	"github.com/ligustah/harvest/internal/discovery"
	"github.com/ligustah/harvest/internal/fetch"
	"github.com/ligustah/harvest/internal/ledger"
	"github.com/ligustah/harvest/internal/logger"
	"github.com/ligustah/harvest/internal/mirror"
	"github.com/ligustah/harvest/internal/progress"
	"github.com/ligustah/harvest/internal/split"
	"github.com/ligustah/harvest/internal/validate"
	"github.com/ligustah/harvest/pkg/dataset"
)

// DefaultMaxConsecutiveFailures is the number of network failures in a row
// after which a source is abandoned for the rest of the run.
const DefaultMaxConsecutiveFailures = 10

// Guard decides whether a URL may be fetched.
type Guard interface {
	Check(rawURL string) error
}

// Stager downloads a URL into the staging area.
type Stager interface {
	Stage(ctx context.Context, url, imageID string) (*fetch.Staged, error)
}

// Validator checks a staged file. It removes the file on failure.
type Validator interface {
	Run(ctx context.Context, path string) (*validate.Result, error)
}

// Options configures a Harvester. Guard, Stager, Validator, Ledger,
// Assigner and Layout are required.
type Options struct {
	Guard     Guard
	Stager    Stager
	Validator Validator
	Ledger    *ledger.Ledger
	Assigner  *split.Assigner
	Layout    *dataset.Layout

	// Catalog indexes accepted assets and rejects duplicate content
	// across runs. Optional.
	Catalog *catalog.Store

	// Mirror publishes accepted assets to object storage. Optional.
	Mirror *mirror.Publisher

	// Progress prints per-candidate lines. Optional.
	Progress *progress.Reporter

	// TrainFraction is used by Acquire when no partition is given.
	TrainFraction float64

	// MaxConsecutiveFailures abandons a source after this many network
	// failures in a row. Set to 0 for the default, negative to disable.
	MaxConsecutiveFailures int
}

// Request asks for up to Limit accepted images of Label from Source.
type Request struct {
	Source discovery.Source
	Label  string
	Limit  int
}

// Harvester runs candidates through the acquisition pipeline and commits
// the ones that pass. Candidates are processed one at a time.
type Harvester struct {
	opts Options

	mu   sync.Mutex
	seen map[string]string // sha256 -> relative path, for this process
	now  func() time.Time
}

// New creates a Harvester.
func New(opts Options) (*Harvester, error) {
	switch {
	case opts.Guard == nil:
		return nil, errors.New("harvest: guard is required")
	case opts.Stager == nil:
		return nil, errors.New("harvest: stager is required")
	case opts.Validator == nil:
		return nil, errors.New("harvest: validator is required")
	case opts.Ledger == nil:
		return nil, errors.New("harvest: ledger is required")
	case opts.Assigner == nil:
		return nil, errors.New("harvest: assigner is required")
	case opts.Layout == nil:
		return nil, errors.New("harvest: layout is required")
	}
	if opts.MaxConsecutiveFailures == 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Harvester{
		opts: opts,
		seen: make(map[string]string),
		now:  time.Now,
	}, nil
}

// Run processes every request in order. Quota counters are reset first, so
// the train/unseen split is computed per run. Each label stops accepting
// once the sum of its requests' limits is reached.
//
// Individual candidate failures never end the run. The returned error is
// non-nil only when ctx is cancelled; the Summary is valid either way.
func (h *Harvester) Run(ctx context.Context, reqs []Request) (*Summary, error) {
	h.opts.Assigner.Reset()
	sum := newSummary()

	quota := make(map[string]int)
	for _, r := range reqs {
		quota[r.Label] += r.Limit
	}

	h.opts.Ledger.RecordEventf("Run started: %d source requests", len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			h.opts.Ledger.RecordEvent("Run cancelled")
			return sum, err
		}
		h.runRequest(ctx, req, quota[req.Label], sum)
	}

	h.opts.Ledger.RecordEventf("Run finished: %d accepted, %d rejected", sum.AcceptedTotal(), sum.RejectedTotal())
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (h *Harvester) runRequest(ctx context.Context, req Request, quota int, sum *Summary) {
	src := req.Source
	name := src.Name()

	if sum.Accepted[req.Label] >= quota {
		return
	}
	h.opts.Progress.Begin(name, req.Label, req.Limit)

	if !h.opts.Layout.HasLabel(req.Label) {
		h.skip(sum, name, fmt.Sprintf("unknown label %q", req.Label))
		return
	}
	if err := h.opts.Guard.Check(src.PageURL()); err != nil {
		h.skip(sum, name, fmt.Sprintf("untrusted source page %s", src.PageURL()))
		return
	}

	candidates, err := src.Candidates(ctx, req.Label, req.Limit)
	if err != nil {
		h.skip(sum, name, fmt.Sprintf("discovery failed: %v", err))
		return
	}
	logger.Info("candidates discovered", "source", name, "label", req.Label, "count", len(candidates))

	failures := 0
	for _, c := range candidates {
		if ctx.Err() != nil || sum.Accepted[req.Label] >= quota {
			return
		}
		if c.Label == "" {
			c.Label = req.Label
		}

		out := h.acquire(ctx, c, "", quota)
		sum.add(out)

		if out.Kind != KindNetwork {
			failures = 0
			continue
		}
		failures++
		if limit := h.opts.MaxConsecutiveFailures; limit > 0 && failures >= limit {
			h.skip(sum, name, fmt.Sprintf("%d consecutive network failures", failures))
			return
		}
	}
}

func (h *Harvester) skip(sum *Summary, source, reason string) {
	sum.Skipped = append(sum.Skipped, source+": "+reason)
	h.opts.Ledger.RecordEventf("Skipped source %s: %s", source, reason)
	logger.Warn("source skipped", "source", source, "reason", reason)
	h.opts.Progress.Skipped(source, reason)
}

// Acquire runs a single candidate through the pipeline. An empty partition
// selects one by hashing the URL with TrainFraction, so the same URL always
// lands in the same partition.
func (h *Harvester) Acquire(ctx context.Context, c dataset.Candidate, p dataset.Partition) Outcome {
	return h.acquire(ctx, c, p, 0)
}

// acquire processes one candidate. With an empty partition and a positive
// requestedTotal the quota assigner picks the partition.
func (h *Harvester) acquire(ctx context.Context, c dataset.Candidate, p dataset.Partition, requestedTotal int) Outcome {
	if c.ImageID == "" {
		c.ImageID = dataset.ImageID(c.Metadata.Source, c.Label, c.URL)
	}
	out := Outcome{URL: c.URL, Label: c.Label, ImageID: c.ImageID}

	if !h.opts.Layout.HasLabel(c.Label) {
		return h.reject(out, &dataset.LayoutError{Value: c.Label, Err: dataset.ErrUnknownLabel})
	}
	if err := h.opts.Guard.Check(c.URL); err != nil {
		return h.reject(out, err)
	}

	staged, err := h.opts.Stager.Stage(ctx, c.URL, c.ImageID)
	if err != nil {
		return h.reject(out, err)
	}

	res, err := h.opts.Validator.Run(ctx, staged.Path)
	if err != nil {
		return h.reject(out, err)
	}

	digest, err := ledger.Hash(staged.Path)
	if err != nil {
		return h.reject(out, err)
	}

	if err := h.checkDuplicate(ctx, digest.SHA256); err != nil {
		return h.reject(out, err)
	}

	assigned := false
	if p == "" {
		if requestedTotal > 0 {
			p = h.opts.Assigner.Assign(c.Label, requestedTotal)
			assigned = true
		} else {
			p = split.BucketFor(c.URL, h.opts.TrainFraction, h.opts.Layout.Partitions())
		}
	}

	abs, rel, err := h.opts.Layout.Resolve(c.Label, p, c.ImageID+res.Extension)
	if err == nil {
		err = commit(staged.Path, abs)
	}
	if err != nil {
		if assigned {
			h.opts.Assigner.Release(c.Label, p)
		}
		return h.reject(out, err)
	}

	asset := dataset.AcceptedAsset{
		ImageID:      c.ImageID,
		RelativePath: rel,
		Label:        c.Label,
		Partition:    p,
		Format:       string(res.Format),
		SHA256:       digest.SHA256,
		Size:         digest.Size,
		Scrubbed:     res.Scrubbed,
		CreatedAt:    h.now(),
	}
	out.Asset = &asset
	h.remember(digest.SHA256, rel)

	h.opts.Ledger.RecordHash(dataset.HashRecord{
		RelativePath: rel,
		SHA256:       digest.SHA256,
		MD5:          digest.MD5,
		Size:         digest.Size,
		ScanStatus:   string(res.ScanStatus),
		Timestamp:    asset.CreatedAt,
	})
	h.opts.Ledger.RecordEventf("Accepted %s as %s (sha256 %s, scan %s, %s)",
		c.URL, rel, digest.SHA256, res.ScanStatus, res.ScrubNote)
	h.opts.Ledger.RecordMetadata(dataset.MetadataRecord{
		ImageID:      c.ImageID,
		RelativePath: rel,
		Source:       c.Metadata.Source,
		Label:        c.Label,
		Partition:    p,
		DownloadDate: asset.CreatedAt,
		URL:          c.URL,
		Title:        c.Metadata.Title,
		Description:  c.Metadata.Description,
	})

	h.index(ctx, asset, c)

	logger.Info("asset accepted", "path", rel, "size", digest.Size, "format", res.Format, "scan", res.ScanStatus)
	h.opts.Progress.Accepted(rel, digest.Size)
	return out
}

// reject records exactly one audit line for a failed candidate and makes
// sure its staging file is gone.
func (h *Harvester) reject(out Outcome, err error) Outcome {
	os.Remove(h.opts.Layout.StagingPath(out.ImageID))

	out.Err = err
	out.Kind = Classify(err)
	out.Reason = err.Error()

	h.opts.Ledger.RecordEventf("Rejected %s (%s): %s", out.URL, out.Kind, out.Reason)
	logger.Warn("candidate rejected", "url", out.URL, "kind", out.Kind, "err", err)
	h.opts.Progress.Rejected(out.URL, out.Reason)
	return out
}

func (h *Harvester) checkDuplicate(ctx context.Context, sha string) error {
	h.mu.Lock()
	rel, ok := h.seen[sha]
	h.mu.Unlock()
	if ok {
		return fmt.Errorf("%w: matches %s", ErrDuplicate, rel)
	}

	if h.opts.Catalog == nil {
		return nil
	}
	existing, found, err := h.opts.Catalog.LookupSHA256(ctx, sha)
	if err != nil {
		return fmt.Errorf("harvest: catalog lookup: %w", err)
	}
	if found {
		return fmt.Errorf("%w: matches %s", ErrDuplicate, existing.RelativePath)
	}
	return nil
}

func (h *Harvester) remember(sha, rel string) {
	h.mu.Lock()
	h.seen[sha] = rel
	h.mu.Unlock()
}

// index adds a committed asset to the catalog and mirror. Failures here
// are logged and audited but do not undo the commit.
func (h *Harvester) index(ctx context.Context, asset dataset.AcceptedAsset, c dataset.Candidate) {
	if h.opts.Catalog != nil {
		entry := catalog.Entry{AcceptedAsset: asset, Source: c.Metadata.Source, URL: c.URL}
		if err := h.opts.Catalog.Insert(ctx, entry); err != nil {
			logger.Error("catalog insert failed", "path", asset.RelativePath, "err", err)
			h.opts.Ledger.RecordEventf("Catalog insert failed for %s: %v", asset.RelativePath, err)
		}
	}

	if h.opts.Mirror == nil {
		return
	}
	key, err := h.opts.Mirror.PublishAsset(ctx, asset)
	if err != nil {
		logger.Error("mirror upload failed", "path", asset.RelativePath, "err", err)
		h.opts.Ledger.RecordEventf("Mirror upload failed for %s: %v", asset.RelativePath, err)
		return
	}
	if h.opts.Catalog != nil {
		if err := h.opts.Catalog.SetMirrored(ctx, asset.ImageID, key); err != nil {
			logger.Warn("catalog mirror update failed", "image_id", asset.ImageID, "err", err)
		}
	}
}

// commit moves a validated staging file to its final path. An existing
// file at the destination is never replaced.
func commit(staged, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrDuplicate, filepath.Base(dest))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("harvest: create partition dir: %w", err)
	}
	if err := os.Rename(staged, dest); err != nil {
		return fmt.Errorf("harvest: commit: %w", err)
	}
	return nil
}
