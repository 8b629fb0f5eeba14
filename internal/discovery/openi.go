package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/ligustah/harvest/pkg/dataset"
)

// OpenI search defaults.
const (
	OpenIBaseURL    = "https://openi.nlm.nih.gov/api/search"
	OpenIImageURL   = "https://openi.nlm.nih.gov/imgs/%s/large.jpg"
	OpenISourceName = "OpenI (NIH)"
	OpenICollection = "CXR"
)

// OpenI queries the NIH Open-i search API, which answers in XML with one
// <document> element per hit.
type OpenI struct {
	Client     Getter
	BaseURL    string // defaults to OpenIBaseURL
	ImageURL   string // printf pattern taking the uid; defaults to OpenIImageURL
	Query      string
	Collection string // defaults to OpenICollection
}

type openIDocument struct {
	UID   string `xml:"uid"`
	Title string `xml:"title"`
	Rank  string `xml:"rank"`
}

func (o *OpenI) Name() string { return OpenISourceName }

// PageURL returns the search endpoint without query parameters.
func (o *OpenI) PageURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	return OpenIBaseURL
}

func (o *OpenI) searchURL(limit int) string {
	collection := o.Collection
	if collection == "" {
		collection = OpenICollection
	}
	q := url.Values{}
	q.Set("query", o.Query)
	q.Set("collection", collection)
	q.Set("pagesize", strconv.Itoa(limit))

	base := o.PageURL()
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// Candidates runs one search and maps each document with a uid onto its
// large image URL. Documents without a uid are skipped.
func (o *OpenI) Candidates(ctx context.Context, label string, limit int) ([]dataset.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	searchURL := o.searchURL(limit)
	body, _, err := o.Client.GetBytes(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("openi search: %w", err)
	}

	docs, err := parseOpenI(body)
	if err != nil {
		return nil, fmt.Errorf("openi search: %w", err)
	}

	pattern := o.ImageURL
	if pattern == "" {
		pattern = OpenIImageURL
	}

	var out []dataset.Candidate
	for _, d := range docs {
		if len(out) >= limit {
			break
		}
		uid := strings.TrimSpace(d.UID)
		if uid == "" {
			continue
		}
		title := strings.TrimSpace(d.Title)
		if title == "" {
			title = "Unknown"
		}
		out = append(out, dataset.Candidate{
			URL:   fmt.Sprintf(pattern, url.PathEscape(uid)),
			Label: label,
			Metadata: dataset.SourceMetadata{
				Source:      OpenISourceName,
				PageURL:     searchURL,
				Title:       title,
				Description: "NIH OpenI - " + title,
			},
		})
	}
	return out, nil
}

// parseOpenI collects every <document> element regardless of nesting.
func parseOpenI(body []byte) ([]openIDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false

	var docs []openIDocument
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(se.Name.Local, "document") {
			continue
		}
		var d openIDocument
		if err := dec.DecodeElement(&d, &se); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}
