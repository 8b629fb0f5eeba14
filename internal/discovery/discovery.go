// Package discovery finds candidate image URLs on trusted sources.
package discovery

import (
	"context"

	harvesthttp "github.com/ligustah/harvest/internal/http"
	"github.com/ligustah/harvest/pkg/dataset"
)

// Source lists candidate images for a label.
type Source interface {
	// Name is the human-readable source name recorded in metadata.
	Name() string
	// PageURL is the page or API endpoint queried; it must pass the
	// allowlist before Candidates is called.
	PageURL() string
	// Candidates returns at most limit candidates for label.
	Candidates(ctx context.Context, label string, limit int) ([]dataset.Candidate, error)
}

// Getter fetches a page body. *http.Client satisfies it.
type Getter interface {
	GetBytes(ctx context.Context, url string) ([]byte, *harvesthttp.Response, error)
}

// HostChecker reports whether a URL is on a trusted host.
type HostChecker interface {
	IsAllowed(rawURL string) bool
}
