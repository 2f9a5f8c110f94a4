// Package service implements request translation and response relaying.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"legacy-site-proxy/internal/client"
	"legacy-site-proxy/internal/metrics"
	"legacy-site-proxy/internal/model"
	"legacy-site-proxy/internal/registry"
	"legacy-site-proxy/internal/rewrite"
)

// ErrUnknownSite is returned when the first path segment matches no
// configured site.
var ErrUnknownSite = errors.New("no site configured for path prefix")

// DecodeError reports an origin body that could not be converted to
// UTF-8 with the site's configured charset.
type DecodeError struct {
	Prefix   string
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response as %s: %v", e.Prefix, e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// forbiddenHeaders never cross the proxy in either direction. They
// describe the connection hop, not the resource, so relaying them
// corrupts framing.
var forbiddenHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"transfer-encoding": true,
	"keep-alive":        true,
	"upgrade":           true,
	"expect":            true,
	"proxy-connection":  true,
}

// ProxyService translates inbound requests into origin requests and
// relays the responses back, rewriting HTML along the way.
type ProxyService struct {
	client   *client.OriginClient
	reg      *registry.Registry
	rewriter *rewrite.Rewriter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is
// optional; pass nil to disable rewrite metrics recording.
func NewProxyService(c *client.OriginClient, reg *registry.Registry, rw *rewrite.Rewriter, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		reg:      reg,
		rewriter: rw,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Forward translates an inbound request, sends it to the origin, and
// post-processes the response. The caller is responsible for closing
// the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	out, site, err := s.Translate(pr)
	if err != nil {
		return nil, err
	}
	return s.Relay(pr.Ctx, out, site)
}

// Translate resolves the inbound path prefix against the registry and
// builds the outbound origin request. The remainder of the path is
// appended to the origin base verbatim, trailing slash included, and
// the query string passes through untouched.
func (s *ProxyService) Translate(pr *model.ProxyRequest) (*model.OutboundRequest, *registry.Site, error) {
	prefix, remainder := splitSitePath(pr.Path)
	if prefix == "" {
		return nil, nil, ErrUnknownSite
	}
	site, ok := s.reg.Lookup(prefix)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSite, prefix)
	}

	target := "http://" + site.OriginHost + originPath(site, remainder)
	if pr.RawQuery != "" {
		target += "?" + pr.RawQuery
	}

	header := s.buildOriginHeaders(pr, site)

	var body io.Reader
	if pr.Method != http.MethodGet && pr.Method != http.MethodHead {
		body = pr.Body
	}

	s.logger.Debug("translated request",
		"site", site.Prefix,
		"method", pr.Method,
		"target", target,
	)

	return &model.OutboundRequest{
		Method: pr.Method,
		URL:    target,
		Host:   site.OriginHost,
		Header: header,
		Body:   body,
	}, site, nil
}

// splitSitePath returns the first path segment and the verbatim
// remainder, leading slash included. The remainder defaults to "/" so
// "/st" and "/st/" both reach the site's origin base.
func splitSitePath(path string) (prefix, remainder string) {
	trimmed := strings.TrimPrefix(path, "/")
	prefix, rest, found := strings.Cut(trimmed, "/")
	if !found || rest == "" {
		return prefix, "/"
	}
	return prefix, "/" + rest
}

// originPath joins the site's origin path prefix with the remainder.
func originPath(site *registry.Site, remainder string) string {
	if site.OriginPathPrefix == "" {
		return remainder
	}
	return "/" + site.OriginPathPrefix + remainder
}

// buildOriginHeaders copies the inbound headers minus the forbidden
// set, the proxy-space referer, and browser fetch-metadata headers
// that would expose the proxy to the origin. Accept-Encoding is also
// dropped so the transport negotiates gzip itself and hands back a
// decompressed body the rewriter can work on.
func (s *ProxyService) buildOriginHeaders(pr *model.ProxyRequest, site *registry.Site) http.Header {
	dst := make(http.Header)
	for key, vals := range pr.Header {
		lower := strings.ToLower(key)
		if forbiddenHeaders[lower] || lower == "referer" || lower == "accept-encoding" || strings.HasPrefix(lower, "sec-fetch-") {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = vals
	}

	dst.Set("Referer", s.rebuildReferer(pr.Header.Get("Referer"), site))
	switch pr.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		dst.Set("Origin", "http://"+site.OriginHost)
	}
	return dst
}

// rebuildReferer repairs referers that point into the proxy's URL
// space so the origin sees a URL from its own domain. A referer whose
// first path segment is any configured prefix is rebuilt against that
// site's origin; anything else collapses to the current site's origin
// base.
func (s *ProxyService) rebuildReferer(inbound string, site *registry.Site) string {
	fallback := "http://" + site.OriginHost + site.PathBase()
	if inbound == "" {
		return fallback
	}
	u, err := url.Parse(inbound)
	if err != nil {
		return fallback
	}

	prefix, remainder := splitSitePath(u.Path)
	ref, ok := s.reg.Lookup(prefix)
	if !ok {
		return fallback
	}

	rebuilt := "http://" + ref.OriginHost + originPath(ref, remainder)
	if u.RawQuery != "" {
		rebuilt += "?" + u.RawQuery
	}
	return rebuilt
}

// Relay sends the outbound request and post-processes the response:
// redirect locations are folded back into proxy space, HTML bodies are
// decoded and link-rewritten, everything else streams through as-is.
// The caller is responsible for closing the response body.
func (s *ProxyService) Relay(ctx context.Context, out *model.OutboundRequest, site *registry.Site) (*model.ProxyResponse, error) {
	if !s.reg.KnownHost(out.Host) {
		return nil, fmt.Errorf("origin host %q is not configured", out.Host)
	}

	resp, err := s.client.DoStream(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("reach origin %s: %w", site.OriginHost, err)
	}

	header := filterResponseHeaders(resp.Header)
	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		header.Set("Location", rewriteLocation(loc, site))
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return &model.ProxyResponse{
			StatusCode: resp.StatusCode,
			Header:     header,
			Body:       resp.Body,
		}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read origin response: %w", err)
	}

	text, err := site.Decode(raw)
	if err != nil {
		return nil, &DecodeError{Prefix: site.Prefix, Encoding: site.EncodingName, Err: err}
	}

	rewritten := s.rewriter.Rewrite(text, site)
	if s.metrics != nil {
		s.metrics.PagesRewritten.WithLabelValues(site.Prefix).Inc()
	}

	header.Set("Content-Type", "text/html; charset=utf-8")
	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(rewritten)),
	}, nil
}

// rewriteLocation folds an origin redirect back into proxy space so
// the browser's next request re-enters the proxy. Locations outside
// the current site's origin base pass through untouched.
func rewriteLocation(loc string, site *registry.Site) string {
	for _, scheme := range []string{"http://", "https://"} {
		pre := scheme + site.OriginHost + site.PathBase()
		if strings.HasPrefix(loc, pre) {
			return "/" + site.Prefix + "/" + loc[len(pre):]
		}
	}
	return loc
}

// isHTML reports whether the content type denotes an HTML body.
func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// filterResponseHeaders drops the forbidden set from origin response
// headers before they are relayed to the client.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forbiddenHeaders[strings.ToLower(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	return dst
}
