package guard

import (
	"errors"
	"sort"
	"testing"
)

func TestIsAllowed(t *testing.T) {
	a := New([]string{"trusted.org", "NIH.gov."})

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"exact host", "https://trusted.org/a.jpg", true},
		{"subdomain", "https://sub.trusted.org/a.jpg", true},
		{"deep subdomain", "http://a.b.trusted.org/a.jpg", true},
		{"with port", "https://trusted.org:8443/a.jpg", true},
		{"upper case host", "https://SUB.Trusted.ORG/a.jpg", true},
		{"normalised entry", "https://openi.nlm.nih.gov/imgs/x/large.jpg", true},
		{"suffix attack", "https://trusted.org.evil.com/a.jpg", false},
		{"prefix attack", "https://eviltrusted.org/a.jpg", false},
		{"unrelated host", "https://example.com/a.jpg", false},
		{"userinfo", "https://trusted.org@evil.com/a.jpg", false},
		{"userinfo on trusted", "https://user@trusted.org/a.jpg", false},
		{"ftp scheme", "ftp://trusted.org/a.jpg", false},
		{"no scheme", "trusted.org/a.jpg", false},
		{"empty", "", false},
		{"malformed", "http://[::1", false},
		{"no host", "https:///a.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.IsAllowed(tt.url); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	a := New(DefaultHosts)

	if err := a.Check("https://openi.nlm.nih.gov/api/search"); err != nil {
		t.Errorf("expected trusted URL to pass, got %v", err)
	}

	err := a.Check("https://example.com/x.jpg")
	if !errors.Is(err, ErrUntrustedHost) {
		t.Errorf("expected ErrUntrustedHost, got %v", err)
	}
}

func TestAdd(t *testing.T) {
	a := New(nil)
	if a.IsAllowed("https://example.org/") {
		t.Fatal("empty allowlist should reject everything")
	}

	a.Add("https://Example.org/gallery")
	a.Add("  ")

	if !a.IsAllowed("https://img.example.org/1.png") {
		t.Error("expected host added from URL form to be trusted")
	}

	hosts := a.Hosts()
	sort.Strings(hosts)
	if len(hosts) != 1 || hosts[0] != "example.org" {
		t.Errorf("unexpected hosts: %v", hosts)
	}
}

func TestNewStripsPorts(t *testing.T) {
	a := New([]string{"nih.gov:8443", "Images.Example.org.:80", "[::1]:9000"})

	for _, u := range []string{
		"https://nih.gov/a.jpg",
		"https://openi.nih.gov:8443/a.jpg",
		"http://images.example.org/a.png",
		"http://[::1]:9000/a.png",
	} {
		if !a.IsAllowed(u) {
			t.Errorf("expected %s to be allowed", u)
		}
	}

	hosts := a.Hosts()
	sort.Strings(hosts)
	want := []string{"::1", "images.example.org", "nih.gov"}
	if len(hosts) != len(want) {
		t.Fatalf("unexpected hosts: %v", hosts)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Errorf("hosts[%d] = %q, want %q", i, hosts[i], want[i])
		}
	}
}
