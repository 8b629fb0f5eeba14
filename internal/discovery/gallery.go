package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/ligustah/harvest/internal/logger"
	"github.com/ligustah/harvest/pkg/dataset"
)

// Gallery scrapes <img> elements from a single HTML page.
type Gallery struct {
	Client     Getter
	Hosts      HostChecker // image URLs failing this are skipped
	URL        string
	Selector   string // "img", "img.xray" or ".xray"; defaults to "img"
	SourceName string
}

func (g *Gallery) Name() string { return g.SourceName }

func (g *Gallery) PageURL() string { return g.URL }

// Candidates fetches the page and returns the first limit matching images
// that resolve to a trusted host.
func (g *Gallery) Candidates(ctx context.Context, label string, limit int) ([]dataset.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	base, err := url.Parse(g.URL)
	if err != nil {
		return nil, fmt.Errorf("gallery: parse page url: %w", err)
	}
	sel, err := parseSelector(g.Selector)
	if err != nil {
		return nil, err
	}

	body, _, err := g.Client.GetBytes(ctx, g.URL)
	if err != nil {
		return nil, fmt.Errorf("gallery %s: %w", g.SourceName, err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gallery %s: parse html: %w", g.SourceName, err)
	}

	var out []dataset.Candidate
	for _, n := range sel.match(doc) {
		if len(out) >= limit {
			break
		}
		src := attr(n, "src")
		if src == "" {
			src = attr(n, "data-src")
		}
		if src == "" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(src))
		if err != nil {
			continue
		}
		imgURL := base.ResolveReference(ref).String()
		if g.Hosts != nil && !g.Hosts.IsAllowed(imgURL) {
			logger.Warn("skipping image from untrusted host", "source", g.SourceName, "url", imgURL)
			continue
		}

		title := attr(n, "alt")
		if title == "" {
			title = attr(n, "title")
		}
		if title == "" {
			title = "No description"
		}
		out = append(out, dataset.Candidate{
			URL:   imgURL,
			Label: label,
			Metadata: dataset.SourceMetadata{
				Source:      g.SourceName,
				PageURL:     g.URL,
				Title:       title,
				Description: title,
			},
		})
	}
	return out, nil
}

// selector is the subset of CSS the gallery accepts: an optional tag name
// followed by zero or more .class parts.
type selector struct {
	tag     string
	classes []string
}

func parseSelector(s string) (selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return selector{tag: "img"}, nil
	}
	if strings.ContainsAny(s, " >+~[]#:,") {
		return selector{}, fmt.Errorf("gallery: unsupported selector %q", s)
	}
	parts := strings.Split(s, ".")
	sel := selector{tag: strings.ToLower(parts[0])}
	for _, c := range parts[1:] {
		if c == "" {
			return selector{}, fmt.Errorf("gallery: unsupported selector %q", s)
		}
		sel.classes = append(sel.classes, c)
	}
	return sel, nil
}

func (s selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	have := strings.Fields(attr(n, "class"))
	for _, want := range s.classes {
		found := false
		for _, c := range have {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// match returns matching nodes in document order.
func (s selector) match(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if s.matches(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
