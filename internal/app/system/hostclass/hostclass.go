// Package hostclass classifies an inbound request hostname as the platform
// domain, a tenant subdomain, or a tenant's custom domain.
//
// Classification is a pure function of the hostname string. It never fails:
// anything that cannot be attributed to a tenant falls back to PlatformDomain
// so the visitor lands on the platform site instead of an error.
package hostclass

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

// Kind is how a request reached the platform.
type Kind int

const (
	PlatformDomain Kind = iota
	TenantSubdomain
	CustomDomain
)

func (k Kind) String() string {
	switch k {
	case TenantSubdomain:
		return "tenant_subdomain"
	case CustomDomain:
		return "custom_domain"
	default:
		return "platform_domain"
	}
}

// Classification is the result of classifying one hostname.
type Classification struct {
	Kind Kind
	// Key is the tenant label (first DNS label). Empty for PlatformDomain.
	Key string
	// Host is the normalized hostname (lowercase, no port, no trailing dot).
	// Custom-domain lookups use it verbatim.
	Host string
	// Legacy is set when a multi-label name under the root was accepted for
	// compatibility (a.b.church-os.com -> a).
	Legacy bool
}

// Classifier holds the platform's domain configuration.
type Classifier struct {
	root     string
	platform map[string]struct{}
	devRoots []string
}

// Config configures a Classifier.
type Config struct {
	// RootDomain is the platform's root domain, e.g. "church-os.com".
	RootDomain string
	// PlatformHosts are extra exact hostnames that mean "the platform".
	// The root, "www."+root, "localhost" and "127.0.0.1" are always included.
	PlatformHosts []string
	// DevRoots are loopback roots whose single-label children map straight to
	// tenant keys ("stpauls.localhost"). Defaults to ["localhost"].
	DevRoots []string
}

// New builds a Classifier from cfg.
func New(cfg Config) *Classifier {
	root := Normalize(cfg.RootDomain)
	c := &Classifier{
		root:     root,
		platform: make(map[string]struct{}),
	}
	for _, h := range []string{root, "www." + root, "localhost", "127.0.0.1"} {
		if h != "" && h != "www." {
			c.platform[h] = struct{}{}
		}
	}
	for _, h := range cfg.PlatformHosts {
		if h = Normalize(h); h != "" {
			c.platform[h] = struct{}{}
		}
	}
	devRoots := cfg.DevRoots
	if len(devRoots) == 0 {
		devRoots = []string{"localhost"}
	}
	for _, d := range devRoots {
		if d = Normalize(d); d != "" {
			c.devRoots = append(c.devRoots, d)
		}
	}
	return c
}

// Classify applies the classification rules to host.
func (c *Classifier) Classify(host string) Classification {
	h := Normalize(host)
	platform := Classification{Kind: PlatformDomain, Host: h}

	if h == "" {
		return platform
	}

	// 1. exact platform hosts
	if _, ok := c.platform[h]; ok {
		return platform
	}

	// IP literals never name a tenant.
	if net.ParseIP(h) != nil {
		return platform
	}

	// 5. development hosts bypass the root-domain rules
	for _, dev := range c.devRoots {
		if label, ok := strings.CutSuffix(h, "."+dev); ok {
			if !strings.Contains(label, ".") && validLabel(label) {
				return Classification{Kind: TenantSubdomain, Key: label, Host: h}
			}
			return platform
		}
	}

	// 2 and 3. names under the platform root
	if c.root != "" {
		if prefix, ok := strings.CutSuffix(h, "."+c.root); ok {
			first, rest, multi := strings.Cut(prefix, ".")
			if !validLabel(first) {
				return platform
			}
			if !multi {
				return Classification{Kind: TenantSubdomain, Key: first, Host: h}
			}
			if rest == "" {
				return platform
			}
			return Classification{Kind: TenantSubdomain, Key: first, Host: h, Legacy: true}
		}
	}

	// 4. anything else with a separator is a custom domain
	if first, _, ok := strings.Cut(h, "."); ok && validLabel(first) {
		return Classification{Kind: CustomDomain, Key: first, Host: h}
	}

	return platform
}

// Normalize lowercases host and strips any port and trailing dot.
func Normalize(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return ""
	}
	if strings.HasPrefix(h, "[") {
		// bracketed IPv6, optionally with port
		if end := strings.Index(h, "]"); end != -1 {
			return h[1:end]
		}
		return h
	}
	if idx := strings.LastIndex(h, ":"); idx != -1 && strings.Count(h, ":") == 1 {
		h = h[:idx]
	}
	return strings.TrimSuffix(h, ".")
}

// validLabel reports whether s is a usable tenant key: [a-z0-9-], not
// starting or ending with a hyphen.
func validLabel(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' {
			continue
		}
		return false
	}
	return true
}

/*─────────────────────────────────────────────────────────────────────────────*
| Memo                                                                         |
*─────────────────────────────────────────────────────────────────────────────*/

// DefaultMemoLimit bounds the number of distinct hostnames a Memo remembers.
// Host headers are client-controlled.
const DefaultMemoLimit = 10000

// Memo memoizes classifications per exact input string. Safe for concurrent
// use. Entries are never invalidated: classification depends only on the
// string and the Classifier's fixed configuration.
type Memo struct {
	c     *Classifier
	limit int64
	size  atomic.Int64
	seen  sync.Map // string -> Classification
}

// NewMemo wraps c with a per-hostname memo holding at most limit entries
// (DefaultMemoLimit if limit <= 0). Once full, new hostnames are classified
// without being remembered.
func NewMemo(c *Classifier, limit int) *Memo {
	if limit <= 0 {
		limit = DefaultMemoLimit
	}
	return &Memo{c: c, limit: int64(limit)}
}

// Classify returns the memoized classification for host.
func (m *Memo) Classify(host string) Classification {
	if v, ok := m.seen.Load(host); ok {
		return v.(Classification)
	}
	cl := m.c.Classify(host)
	if m.size.Load() < m.limit {
		if _, loaded := m.seen.LoadOrStore(host, cl); !loaded {
			m.size.Add(1)
		}
	}
	return cl
}
