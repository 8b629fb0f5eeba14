package guard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
)

// ErrUntrustedHost is returned by Check when a URL's host is not covered by
// the allowlist.
var ErrUntrustedHost = errors.New("guard: host not in allowlist")

// DefaultHosts are the trusted hosts used when none are configured.
var DefaultHosts = []string{
	"openi.nlm.nih.gov",
	"nlm.nih.gov",
	"nih.gov",
}

// Allowlist decides whether a URL may be fetched.
// It is safe for concurrent use and supports runtime updates.
type Allowlist struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

// New creates an allowlist from host names. Entries are normalised to
// lower case; ports, schemes and empty entries are ignored.
func New(hosts []string) *Allowlist {
	a := &Allowlist{hosts: make(map[string]struct{})}
	for _, h := range hosts {
		a.addWithoutLock(h)
	}
	return a
}

// Add adds a trusted host.
func (a *Allowlist) Add(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addWithoutLock(host)
}

// Hosts returns the trusted hosts in no particular order.
func (a *Allowlist) Hosts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.hosts))
	for h := range a.hosts {
		out = append(out, h)
	}
	return out
}

// IsAllowed reports whether rawURL points at a trusted host or one of its
// subdomains. Malformed URLs and non-HTTP schemes are never allowed.
func (a *Allowlist) IsAllowed(rawURL string) bool {
	host, ok := hostOf(rawURL)
	if !ok {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.hosts[host]; ok {
		return true
	}
	// Walk parent domains: a.b.example.org -> b.example.org -> example.org
	for i := strings.IndexByte(host, '.'); i != -1; i = strings.IndexByte(host, '.') {
		host = host[i+1:]
		if _, ok := a.hosts[host]; ok {
			return true
		}
	}
	return false
}

// Check is IsAllowed returning an error that names the rejected URL.
func (a *Allowlist) Check(rawURL string) error {
	if a.IsAllowed(rawURL) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUntrustedHost, rawURL)
}

func (a *Allowlist) addWithoutLock(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return
	}
	if strings.Contains(host, "://") {
		if h, ok := hostOf(host); ok {
			host = h
		} else {
			return
		}
	} else if h, _, err := net.SplitHostPort(host); err == nil {
		host = strings.TrimSuffix(h, ".")
	}
	if host == "" {
		return
	}
	a.hosts[host] = struct{}{}
}

func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if u.User != nil {
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", false
	}
	return host, true
}
