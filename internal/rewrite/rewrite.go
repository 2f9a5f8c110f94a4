// Package rewrite folds origin HTML links back into the proxy's URL
// space so a browser session never escapes to the real origin hosts.
package rewrite

import (
	"regexp"
	"strings"

	"legacy-site-proxy/internal/registry"
)

// attrPattern matches quoted href/src attribute values in either quote
// style. Unquoted values are rare in the proxied sites and pass
// through unchanged.
var attrPattern = regexp.MustCompile(`(?i)(href|src)=("[^"]*"|'[^']*')`)

// metaCharsetPattern detects an existing UTF-8 charset declaration.
var metaCharsetPattern = regexp.MustCompile(`(?i)<meta\s+charset=["']?utf-8`)

// headClosePattern locates the closing head tag for charset insertion.
var headClosePattern = regexp.MustCompile(`(?i)</head>`)

const charsetMeta = `<meta charset="utf-8">`

// Rewriter rewrites HTML pages for every site in the registry.
type Rewriter struct {
	reg *registry.Registry
}

func NewRewriter(reg *registry.Registry) *Rewriter {
	return &Rewriter{reg: reg}
}

// Rewrite runs the full pipeline for a page served under the given
// site. The stage order is load-bearing: origin-rooted paths must
// shrink to proxy paths before the root-relative stage prefixes
// whatever is left, and values produced by earlier stages must pass
// later stages unchanged. Running Rewrite twice yields the same
// output as running it once.
func (rw *Rewriter) Rewrite(html string, site *registry.Site) string {
	html = rw.insertCharsetMeta(html)
	html = rw.rewriteAbsolute(html)
	html = rw.rewriteOriginRooted(html, site)
	html = rw.rewriteRootRelative(html, site)
	html = rw.rewriteRelative(html, site)
	return html
}

// replaceAttrValues rewrites every quoted href/src value through fn,
// preserving the attribute name and quote style.
func replaceAttrValues(html string, fn func(string) string) string {
	return attrPattern.ReplaceAllStringFunc(html, func(m string) string {
		sub := attrPattern.FindStringSubmatch(m)
		quoted := sub[2]
		quote := quoted[:1]
		val := quoted[1 : len(quoted)-1]
		return sub[1] + "=" + quote + fn(val) + quote
	})
}

// insertCharsetMeta declares the body's new encoding. Decoded pages
// are served as UTF-8, so any original charset declaration is wrong;
// the inserted tag wins because later declarations override earlier
// ones only in header form, while meta scanning stops at the first
// charset found. Pages without a head section are left alone.
func (rw *Rewriter) insertCharsetMeta(html string) string {
	if metaCharsetPattern.MatchString(html) {
		return html
	}
	loc := headClosePattern.FindStringIndex(html)
	if loc == nil {
		return html
	}
	return html[:loc[0]] + charsetMeta + html[loc[0]:]
}

// rewriteAbsolute maps absolute links into any configured site's proxy
// space. The proxied sites link to each other with full URLs, so every
// registry entry participates here, not just the current one.
func (rw *Rewriter) rewriteAbsolute(html string) string {
	return replaceAttrValues(html, func(val string) string {
		for _, s := range rw.reg.Sites() {
			for _, scheme := range []string{"http://", "https://"} {
				pre := scheme + s.OriginHost + s.PathBase()
				if strings.HasPrefix(val, pre) {
					return "/" + s.Prefix + "/" + val[len(pre):]
				}
			}
		}
		return val
	})
}

// rewriteOriginRooted maps links rooted at the current site's origin
// path prefix, the form the origin's own templates emit. Skipped when
// the prefix is empty: the pattern would collapse to "/" and swallow
// every root-relative link, including protocol-relative ones.
func (rw *Rewriter) rewriteOriginRooted(html string, site *registry.Site) string {
	if site.OriginPathPrefix == "" {
		return html
	}
	pre := "/" + site.OriginPathPrefix + "/"
	return replaceAttrValues(html, func(val string) string {
		if strings.HasPrefix(val, pre) {
			return "/" + site.Prefix + "/" + val[len(pre):]
		}
		return val
	})
}

// rewriteRootRelative prefixes remaining root-relative links with the
// current site's proxy prefix. Values already inside any configured
// proxy prefix are finished products of the earlier stages (or of a
// previous Rewrite pass) and must not be prefixed again;
// protocol-relative values count as absolute.
func (rw *Rewriter) rewriteRootRelative(html string, site *registry.Site) string {
	return replaceAttrValues(html, func(val string) string {
		if !strings.HasPrefix(val, "/") || strings.HasPrefix(val, "//") {
			return val
		}
		for _, s := range rw.reg.Sites() {
			if underPrefix(val, s.Prefix) {
				return val
			}
		}
		return "/" + site.Prefix + val
	})
}

// underPrefix reports whether val lies inside the proxy path for
// prefix: "/{prefix}" exactly, or followed by a path, query, or
// fragment boundary. "/smiles" is not under the prefix "sm".
func underPrefix(val, prefix string) bool {
	p := "/" + prefix
	if !strings.HasPrefix(val, p) {
		return false
	}
	rest := val[len(p):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// rewriteRelative prefixes plain relative values, everything that is
// neither absolute nor root-relative, with the current site's proxy
// base. The origin resolves such links against the page URL; routing
// them through the proxy base keeps that resolution stable.
func (rw *Rewriter) rewriteRelative(html string, site *registry.Site) string {
	return replaceAttrValues(html, func(val string) string {
		if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") ||
			strings.HasPrefix(val, "//") || strings.HasPrefix(val, "/") {
			return val
		}
		return "/" + site.Prefix + "/" + val
	})
}
