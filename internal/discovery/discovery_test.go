package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ligustah/harvest/internal/guard"
	harvesthttp "github.com/ligustah/harvest/internal/http"
)

const openIResponse = `<?xml version="1.0" encoding="UTF-8"?>
<response>
  <list>
    <document><uid>CXR1_1_IM-0001</uid><title>Normal chest</title><rank>1</rank></document>
    <document><title>No uid here</title></document>
    <document><uid>CXR2_1_IM-0002</uid><rank>2</rank></document>
    <document><uid>CXR3_1_IM-0003</uid><title>Third</title></document>
  </list>
</response>`

func TestOpenICandidates(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(openIResponse))
	}))
	defer server.Close()

	src := &OpenI{
		Client:   harvesthttp.NewClient(harvesthttp.DefaultOptions(), nil),
		BaseURL:  server.URL + "/api/search",
		ImageURL: server.URL + "/imgs/%s/large.jpg",
		Query:    "normal",
	}

	cands, err := src.Candidates(context.Background(), "healthy", 2)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}

	if gotQuery.Get("query") != "normal" || gotQuery.Get("collection") != "CXR" || gotQuery.Get("pagesize") != "2" {
		t.Errorf("unexpected query %v", gotQuery)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].URL != server.URL+"/imgs/CXR1_1_IM-0001/large.jpg" {
		t.Errorf("unexpected url %q", cands[0].URL)
	}
	if cands[0].Label != "healthy" || cands[0].Metadata.Source != OpenISourceName {
		t.Errorf("unexpected candidate %+v", cands[0])
	}
	if cands[0].Metadata.Title != "Normal chest" || cands[0].Metadata.Description != "NIH OpenI - Normal chest" {
		t.Errorf("unexpected metadata %+v", cands[0].Metadata)
	}
	if cands[1].Metadata.Title != "Unknown" {
		t.Errorf("expected Unknown title for untitled document, got %q", cands[1].Metadata.Title)
	}
}

func TestOpenIDefaults(t *testing.T) {
	o := &OpenI{Query: "silicosis"}
	if o.PageURL() != OpenIBaseURL {
		t.Errorf("unexpected page url %q", o.PageURL())
	}
	u := o.searchURL(5)
	if !strings.HasPrefix(u, OpenIBaseURL+"?") || !strings.Contains(u, "query=silicosis") || !strings.Contains(u, "pagesize=5") {
		t.Errorf("unexpected search url %q", u)
	}
}

func TestOpenISearchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := &OpenI{Client: harvesthttp.NewClient(harvesthttp.DefaultOptions(), nil), BaseURL: server.URL}
	_, err := src.Candidates(context.Background(), "healthy", 5)
	if !errors.Is(err, harvesthttp.ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
}

func TestParseOpenIMalformed(t *testing.T) {
	if _, err := parseOpenI([]byte("<response><document><uid>x")); err == nil {
		t.Error("expected parse error")
	}
}

const galleryPage = `<html><body>
  <img class="xray" src="/images/a.jpg" alt="Chest A">
  <img class="xray wide" data-src="b.png" title="Chest B">
  <img class="logo" src="/logo.png">
  <img class="xray" src="https://evil.example.com/c.jpg">
  <img class="xray">
  <img class="xray" src="/images/d.jpg">
</body></html>`

func newGallery(t *testing.T, selector string) (*Gallery, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(galleryPage))
	}))
	t.Cleanup(server.Close)

	host := strings.TrimPrefix(server.URL, "http://")
	host = host[:strings.LastIndex(host, ":")]
	return &Gallery{
		Client:     harvesthttp.NewClient(harvesthttp.DefaultOptions(), nil),
		Hosts:      guard.New([]string{host}),
		URL:        server.URL + "/gallery/index.html",
		Selector:   selector,
		SourceName: "Test Gallery",
	}, server.URL
}

func TestGalleryCandidates(t *testing.T) {
	g, base := newGallery(t, "img.xray")

	cands, err := g.Candidates(context.Background(), "silicosis", 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}

	want := []string{
		base + "/images/a.jpg",
		base + "/gallery/b.png",
		base + "/images/d.jpg",
	}
	if len(cands) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(cands), cands)
	}
	for i, w := range want {
		if cands[i].URL != w {
			t.Errorf("candidate %d: got %q, want %q", i, cands[i].URL, w)
		}
	}
	if cands[0].Metadata.Title != "Chest A" || cands[1].Metadata.Title != "Chest B" || cands[2].Metadata.Title != "No description" {
		t.Errorf("unexpected titles %q %q %q", cands[0].Metadata.Title, cands[1].Metadata.Title, cands[2].Metadata.Title)
	}
	if cands[0].Metadata.Source != "Test Gallery" || cands[0].Label != "silicosis" {
		t.Errorf("unexpected candidate %+v", cands[0])
	}
}

func TestGalleryLimitAndSelectors(t *testing.T) {
	g, _ := newGallery(t, "img")
	cands, err := g.Candidates(context.Background(), "healthy", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Errorf("expected limit of 2, got %d", len(cands))
	}

	g.Selector = ".wide"
	cands, err = g.Candidates(context.Background(), "healthy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || !strings.HasSuffix(cands[0].URL, "/gallery/b.png") {
		t.Errorf("unexpected candidates for .wide: %+v", cands)
	}

	g.Selector = "div > img"
	if _, err := g.Candidates(context.Background(), "healthy", 10); err == nil {
		t.Error("expected unsupported selector error")
	}
}
