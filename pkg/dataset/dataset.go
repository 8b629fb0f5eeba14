package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Partition is a dataset split an accepted asset is placed in.
type Partition string

const (
	// PartitionTrain holds assets used for training.
	PartitionTrain Partition = "train"
	// PartitionUnseen holds assets withheld from training.
	PartitionUnseen Partition = "unseen"
)

// Default class labels and partitions.
var (
	DefaultLabels     = []string{"silicosis", "healthy"}
	DefaultPartitions = []Partition{PartitionTrain, PartitionUnseen}
)

// Ledger and index file names under the dataset root.
const (
	MetadataFile   = "metadata.csv"
	HashLedgerFile = "file_hashes.csv"
	AuditLogFile   = "security_audit.log"
	CatalogFile    = "catalog.db"
	StagingDir     = ".staging"
	StagingSuffix  = ".tmp"
)

// SourceMetadata is provenance supplied by the discovery source.
type SourceMetadata struct {
	Source      string // human-readable source name, e.g. "OpenI (NIH)"
	PageURL     string // page or API URL the candidate was found on
	Title       string
	Description string
}

// Candidate is a discovered image URL eligible for download.
type Candidate struct {
	URL      string
	Label    string
	ImageID  string // optional; derived from the URL when empty
	Metadata SourceMetadata
}

// AcceptedAsset is a file that passed every validation stage and was
// committed to its final path.
type AcceptedAsset struct {
	ImageID      string
	RelativePath string // label/partition/filename, slash separated
	Label        string
	Partition    Partition
	Format       string
	SHA256       string
	Size         int64
	Scrubbed     bool
	CreatedAt    time.Time
}

// HashRecord is one row of the hash ledger.
type HashRecord struct {
	RelativePath string
	SHA256       string
	MD5          string
	Size         int64
	ScanStatus   string
	Timestamp    time.Time
}

// MetadataRecord is one row of the metadata ledger.
type MetadataRecord struct {
	ImageID      string
	RelativePath string
	Source       string
	Label        string
	Partition    Partition
	DownloadDate time.Time
	URL          string
	Title        string
	Description  string
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases s and collapses every run of characters outside
// [a-z0-9] into a single underscore.
func Slug(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "_")
	return strings.Trim(s, "_")
}

// ImageID derives a stable identifier for an image URL:
// <prefix>_<label>_<first 12 hex digits of sha256(url)>.
// The same URL always maps to the same id, so a rerun cannot place one
// image under two names.
func ImageID(prefix, label, url string) string {
	sum := sha256.Sum256([]byte(url))
	parts := make([]string, 0, 3)
	if p := Slug(prefix); p != "" {
		parts = append(parts, p)
	}
	if l := Slug(label); l != "" {
		parts = append(parts, l)
	}
	parts = append(parts, hex.EncodeToString(sum[:6]))
	return strings.Join(parts, "_")
}
