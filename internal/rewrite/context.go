// Package rewrite turns references inside fetched documents into links that
// re-enter the proxy, and builds the runtime script injected into HTML pages.
//
// Rewriting is done with text patterns over attribute and declaration syntax,
// not a parsed tree. It tolerates malformed markup but misses references it
// cannot see (unquoted attributes, computed URLs); the injected <base> element
// and the runtime script cover what the patterns miss.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// Endpoint paths served by the proxy.
const (
	NavigatePath = "/api/proxy"
	ResourcePath = "/api/resource"
)

// Markers set on elements whose references already route through the proxy.
const (
	LinkMarker = "data-proxy-link"
	FormMarker = "data-proxy-form"
)

// BridgeMessageType is the type field of navigation messages posted to the
// embedding window.
const BridgeMessageType = "PROXY_NAVIGATION"

// Endpoint selects which proxy endpoint a ProxyLink targets.
type Endpoint int

const (
	// Navigate re-enters HTML rewriting.
	Navigate Endpoint = iota
	// Resource serves raw bytes or rewritten scripts.
	Resource
)

func (e Endpoint) path() string {
	if e == Resource {
		return ResourcePath
	}
	return NavigatePath
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// excludedPrefixes are references that never leave the page or never hit the network.
var excludedPrefixes = []string{"#", "mailto:", "tel:", "javascript:"}

// Context carries what a single rewrite pass needs to resolve references.
// It lives for one request only.
type Context struct {
	// Base is the document URL relative references resolve against.
	Base *url.URL
	// Origin is scheme://host[:port] of Base.
	Origin string
	// PublicBase is the absolute origin the proxy itself is reached at.
	PublicBase string
	// Forward is the forwarding proxy carried into every produced link.
	Forward string
}

// NewContext derives a Context from the URL that produced a document.
func NewContext(doc *url.URL, publicBase, forward string) *Context {
	return &Context{
		Base:       doc,
		Origin:     doc.Scheme + "://" + doc.Host,
		PublicBase: strings.TrimRight(publicBase, "/"),
		Forward:    forward,
	}
}

// Resolve returns the absolute target URL for ref using the three-case rule:
// absolute http(s) references are kept, root-relative ones are joined to the
// origin, anything else is resolved against the document URL. ok is false for
// references that must be left alone (fragments, mailto, tel, javascript,
// other schemes, unparsable input).
func (c *Context) Resolve(ref string) (abs string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	lower := strings.ToLower(ref)
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return ref, true
	case strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//"):
		return c.Origin + ref, true
	case schemePattern.MatchString(ref):
		return "", false
	}

	u, err := c.Base.Parse(ref)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// Link builds a ProxyLink for an absolute target URL.
func (c *Context) Link(e Endpoint, target string) string {
	var b strings.Builder
	b.WriteString(c.PublicBase)
	b.WriteString(e.path())
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(target))
	if c.Forward != "" {
		b.WriteString("&proxy=")
		b.WriteString(url.QueryEscape(c.Forward))
	}
	return b.String()
}

// Proxy resolves ref and wraps it in a ProxyLink.
func (c *Context) Proxy(e Endpoint, ref string) (string, bool) {
	abs, ok := c.Resolve(ref)
	if !ok || c.isProxied(abs) {
		return "", false
	}
	return c.Link(e, abs), true
}

// isProxied reports whether abs already points at one of our endpoints.
func (c *Context) isProxied(abs string) bool {
	if c.PublicBase == "" {
		return false
	}
	return strings.HasPrefix(abs, c.PublicBase+NavigatePath+"?") ||
		strings.HasPrefix(abs, c.PublicBase+ResourcePath+"?")
}
