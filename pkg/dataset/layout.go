package dataset

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ErrUnknownLabel and ErrUnknownPartition are wrapped by LayoutError.
var (
	ErrUnknownLabel     = errors.New("dataset: unknown label")
	ErrUnknownPartition = errors.New("dataset: unknown partition")
	ErrInvalidFilename  = errors.New("dataset: invalid filename")
)

// LayoutError reports a path that cannot be placed in the layout.
type LayoutError struct {
	Value string
	Err   error
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Value)
}

func (e *LayoutError) Unwrap() error { return e.Err }

// Layout maps labels and partitions onto directories:
//
//	{root}/{label}/{partition}/{image_id}{ext}
//	{root}/.staging/{image_id}.tmp
type Layout struct {
	root       string
	labels     []string
	partitions []Partition
}

// NewLayout creates a layout. Empty label or partition sets fall back to
// the defaults.
func NewLayout(root string, labels []string, partitions []Partition) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("dataset: root is required")
	}
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	if len(partitions) == 0 {
		partitions = DefaultPartitions
	}
	for _, l := range labels {
		if !validSegment(l) {
			return nil, &LayoutError{Value: l, Err: ErrUnknownLabel}
		}
	}
	for _, p := range partitions {
		if !validSegment(string(p)) {
			return nil, &LayoutError{Value: string(p), Err: ErrUnknownPartition}
		}
	}
	return &Layout{
		root:       filepath.Clean(root),
		labels:     slices.Clone(labels),
		partitions: slices.Clone(partitions),
	}, nil
}

// Root returns the dataset root directory.
func (l *Layout) Root() string { return l.root }

// Labels returns the configured labels.
func (l *Layout) Labels() []string { return slices.Clone(l.labels) }

// Partitions returns the configured partitions.
func (l *Layout) Partitions() []Partition { return slices.Clone(l.partitions) }

// HasLabel reports whether label is configured.
func (l *Layout) HasLabel(label string) bool { return slices.Contains(l.labels, label) }

// HasPartition reports whether p is configured.
func (l *Layout) HasPartition(p Partition) bool { return slices.Contains(l.partitions, p) }

// Init creates every label/partition directory and the staging directory.
func (l *Layout) Init() error {
	for _, label := range l.labels {
		for _, p := range l.partitions {
			if err := os.MkdirAll(filepath.Join(l.root, label, string(p)), 0o755); err != nil {
				return fmt.Errorf("dataset: create %s/%s: %w", label, p, err)
			}
		}
	}
	if err := os.MkdirAll(l.StagingDir(), 0o755); err != nil {
		return fmt.Errorf("dataset: create staging dir: %w", err)
	}
	return nil
}

// StagingDir returns the directory staging files are written to. It lives
// under the root so that committing is a same-filesystem rename.
func (l *Layout) StagingDir() string {
	return filepath.Join(l.root, StagingDir)
}

// StagingPath returns the staging path for an image id.
func (l *Layout) StagingPath(imageID string) string {
	return filepath.Join(l.StagingDir(), imageID+StagingSuffix)
}

// Resolve returns the absolute and relative path for a file placed under
// label and partition. The relative path always uses forward slashes.
func (l *Layout) Resolve(label string, p Partition, filename string) (abs, rel string, err error) {
	if !l.HasLabel(label) {
		return "", "", &LayoutError{Value: label, Err: ErrUnknownLabel}
	}
	if !l.HasPartition(p) {
		return "", "", &LayoutError{Value: string(p), Err: ErrUnknownPartition}
	}
	if !validSegment(filename) {
		return "", "", &LayoutError{Value: filename, Err: ErrInvalidFilename}
	}
	rel = path.Join(label, string(p), filename)
	return filepath.Join(l.root, filepath.FromSlash(rel)), rel, nil
}

// Abs converts a ledger relative path to an absolute path under the root.
func (l *Layout) Abs(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// MetadataPath returns the metadata ledger path.
func (l *Layout) MetadataPath() string { return filepath.Join(l.root, MetadataFile) }

// HashLedgerPath returns the hash ledger path.
func (l *Layout) HashLedgerPath() string { return filepath.Join(l.root, HashLedgerFile) }

// AuditLogPath returns the audit log path.
func (l *Layout) AuditLogPath() string { return filepath.Join(l.root, AuditLogFile) }

// CatalogPath returns the catalog database path.
func (l *Layout) CatalogPath() string { return filepath.Join(l.root, CatalogFile) }

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}
