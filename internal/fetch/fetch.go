// Package fetch downloads candidate images into the dataset staging area.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"

	harvesthttp "github.com/ligustah/harvest/internal/http"
	"github.com/ligustah/harvest/internal/validate"
	"github.com/ligustah/harvest/pkg/dataset"
)

// Staged is a downloaded file waiting for validation.
type Staged struct {
	Path        string
	URL         string
	ContentType string
	Size        int64
}

// Remove deletes the staged file. Missing files are ignored.
func (s *Staged) Remove() {
	if s != nil {
		os.Remove(s.Path)
	}
}

// Stager streams responses into <root>/.staging/<image_id>.tmp.
type Stager struct {
	client *harvesthttp.Client
	layout *dataset.Layout
}

// NewStager creates a stager writing into the layout's staging directory.
func NewStager(client *harvesthttp.Client, layout *dataset.Layout) *Stager {
	return &Stager{client: client, layout: layout}
}

// Stage downloads url into the staging file for imageID.
//
// No file is created when the request fails, the declared size is over the
// limit, or the response declares the disallowed container format. A body
// that grows past the limit while streaming fails with http.ErrTooLarge and
// the partial file is removed.
func (s *Stager) Stage(ctx context.Context, url, imageID string) (*Staged, error) {
	resp, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if validate.DeclaredDisallowed(resp.ContentType, url) {
		return nil, &validate.Rejection{
			Stage: validate.StageDisallowed,
			Err:   fmt.Errorf("%w: declared content type %q", validate.ErrDisallowedFormat, resp.ContentType),
		}
	}

	if err := os.MkdirAll(s.layout.StagingDir(), 0o755); err != nil {
		return nil, fmt.Errorf("fetch: create staging dir: %w", err)
	}

	path := s.layout.StagingPath(imageID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fetch: create staging file: %w", err)
	}

	limit := s.client.MaxBodySize()
	src := &bodyReader{r: io.LimitReader(resp.Body, limit+1)}
	n, copyErr := io.Copy(f, src)
	switch {
	case copyErr != nil && src.err != nil:
		copyErr = harvesthttp.ClassifyTransportError(copyErr)
	case copyErr != nil:
		copyErr = fmt.Errorf("fetch: write staging file: %w", copyErr)
	case n > limit:
		copyErr = fmt.Errorf("%w: body exceeds %d bytes", harvesthttp.ErrTooLarge, limit)
	}
	if copyErr == nil {
		copyErr = f.Sync()
	}
	if closeErr := f.Close(); copyErr == nil && closeErr != nil {
		copyErr = fmt.Errorf("fetch: close staging file: %w", closeErr)
	}
	if copyErr != nil {
		os.Remove(path)
		return nil, copyErr
	}

	return &Staged{
		Path:        path,
		URL:         url,
		ContentType: resp.ContentType,
		Size:        n,
	}, nil
}

// bodyReader remembers read failures so they can be told apart from write
// failures after io.Copy.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}
