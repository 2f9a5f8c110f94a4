// Package registry holds the validated, immutable table of proxied sites.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"

	"legacy-site-proxy/internal/config"
)

// Site is one proxied origin, resolved and validated. A Site never
// changes after New returns; callers may share it across goroutines.
type Site struct {
	Prefix           string
	OriginHost       string
	OriginPathPrefix string // normalized: no leading or trailing slash, may be empty
	EncodingName     string // canonical charset name, e.g. "windows-1256"

	enc encoding.Encoding
}

// PathBase returns the origin-side base path with a trailing slash:
// "/{originPathPrefix}/" or "/" when the path prefix is empty.
func (s *Site) PathBase() string {
	if s.OriginPathPrefix == "" {
		return "/"
	}
	return "/" + s.OriginPathPrefix + "/"
}

// Decode converts raw origin bytes to UTF-8 using the site's charset.
func (s *Site) Decode(raw []byte) (string, error) {
	out, err := s.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Registry maps proxy path prefixes to their sites. It is built once
// at startup and read-only afterwards; config changes require restart.
type Registry struct {
	sites    []*Site
	byPrefix map[string]*Site
	hosts    map[string]bool
}

// New validates the configured site table and builds the registry.
func New(cfg *config.Config) (*Registry, error) {
	if len(cfg.Sites) == 0 {
		return nil, errors.New("registry: no sites configured")
	}

	reserved := reservedPrefixes(cfg)
	r := &Registry{
		byPrefix: make(map[string]*Site, len(cfg.Sites)),
		hosts:    make(map[string]bool, len(cfg.Sites)),
	}

	for _, sc := range cfg.Sites {
		site, err := newSite(sc)
		if err != nil {
			return nil, fmt.Errorf("registry: site %q: %w", sc.Prefix, err)
		}
		if reserved[site.Prefix] {
			return nil, fmt.Errorf("registry: prefix %q conflicts with a reserved route", site.Prefix)
		}
		if _, dup := r.byPrefix[site.Prefix]; dup {
			return nil, fmt.Errorf("registry: duplicate prefix %q", site.Prefix)
		}
		r.byPrefix[site.Prefix] = site
		r.sites = append(r.sites, site)
		r.hosts[site.OriginHost] = true
	}

	// Prefix containment would make link rewriting ambiguous: a value
	// starting with "/ab" also starts with "/a".
	for i, a := range r.sites {
		for _, b := range r.sites[i+1:] {
			if strings.HasPrefix(a.Prefix, b.Prefix) || strings.HasPrefix(b.Prefix, a.Prefix) {
				return nil, fmt.Errorf("registry: prefixes %q and %q overlap", a.Prefix, b.Prefix)
			}
		}
	}

	return r, nil
}

// newSite validates one configured site and resolves its encoding.
func newSite(sc config.Site) (*Site, error) {
	prefix := strings.TrimSpace(sc.Prefix)
	if prefix == "" {
		return nil, errors.New("prefix is required")
	}
	if strings.ContainsAny(prefix, "/?#") {
		return nil, fmt.Errorf("prefix %q must be a single path segment", prefix)
	}

	host := strings.TrimSpace(sc.OriginHost)
	if host == "" {
		return nil, errors.New("origin_host is required")
	}
	if strings.Contains(host, "://") || strings.Contains(host, "/") {
		return nil, fmt.Errorf("origin_host %q must be a bare host, not a URL", host)
	}

	label := strings.TrimSpace(sc.Encoding)
	if label == "" {
		return nil, errors.New("encoding is required")
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", label)
	}

	return &Site{
		Prefix:           prefix,
		OriginHost:       host,
		OriginPathPrefix: strings.Trim(sc.OriginPathPrefix, "/"),
		EncodingName:     name,
		enc:              enc,
	}, nil
}

// reservedPrefixes returns the first path segments claimed by fixed routes.
func reservedPrefixes(cfg *config.Config) map[string]bool {
	reserved := map[string]bool{
		"healthz": true,
		"proxy":   true,
	}
	seg := strings.TrimPrefix(cfg.Metrics.Path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if seg == "" {
		seg = "metrics"
	}
	reserved[seg] = true
	return reserved
}

// Lookup returns the site registered under the given path prefix.
func (r *Registry) Lookup(prefix string) (*Site, bool) {
	s, ok := r.byPrefix[prefix]
	return s, ok
}

// Sites returns all sites in configuration order. Callers must not
// modify the returned slice.
func (r *Registry) Sites() []*Site {
	return r.sites
}

// KnownHost reports whether the host belongs to a configured site.
// Outbound requests to any other host are refused.
func (r *Registry) KnownHost(host string) bool {
	return r.hosts[host]
}
