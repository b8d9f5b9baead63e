package rewrite

import (
	"html"
	"regexp"
	"strings"
)

var (
	// tagPattern matches an opening tag that carries attributes.
	tagPattern = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9:-]*)(\s[^<>]*)>`)
	// attrPattern matches a quoted href, src or style attribute inside a tag.
	attrPattern = regexp.MustCompile(`(?i)(\s)(href|src|style)(\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	// styleBlockPattern matches an inline stylesheet.
	styleBlockPattern = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style\s*>)`)
	// cssURLPattern matches a url(...) reference in CSS, quoted or not.
	cssURLPattern = regexp.MustCompile(`(?i)\burl\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]+))\s*\)`)

	headOpenPattern  = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)
	headClosePattern = regexp.MustCompile(`(?i)</head\s*>`)
)

// navigableTags are elements whose href is a page navigation rather than a
// subresource.
var navigableTags = map[string]bool{
	"a":    true,
	"area": true,
}

// frameTags load a nested document through src.
var frameTags = map[string]bool{
	"iframe": true,
	"frame":  true,
}

// HTML rewrites a document so its references re-enter the proxy, then
// injects the base element and the runtime script.
func HTML(doc string, c *Context) string {
	out := styleBlockPattern.ReplaceAllStringFunc(doc, func(block string) string {
		m := styleBlockPattern.FindStringSubmatch(block)
		return m[1] + CSS(m[2], c) + m[3]
	})
	out = tagPattern.ReplaceAllStringFunc(out, func(tag string) string {
		return rewriteTag(tag, c)
	})
	return inject(out, c)
}

// CSS rewrites url(...) references in a stylesheet fragment to the resource endpoint.
func CSS(css string, c *Context) string {
	return cssURLPattern.ReplaceAllStringFunc(css, func(decl string) string {
		m := cssURLPattern.FindStringSubmatch(decl)
		link, ok := c.Proxy(Resource, m[1]+m[2]+m[3])
		if !ok {
			return decl
		}
		return `url("` + link + `")`
	})
}

func rewriteTag(tag string, c *Context) string {
	name := strings.ToLower(tagPattern.FindStringSubmatch(tag)[1])
	if name == "base" {
		return tag
	}

	marked := false
	out := attrPattern.ReplaceAllStringFunc(tag, func(attr string) string {
		m := attrPattern.FindStringSubmatch(attr)
		lead, key, eq := m[1], m[2], m[3]
		raw := html.UnescapeString(m[4] + m[5])

		var value string
		switch strings.ToLower(key) {
		case "style":
			value = CSS(raw, c)
			if value == raw {
				return attr
			}
		case "href":
			ep := Resource
			if navigableTags[name] {
				ep = Navigate
			}
			link, ok := c.Proxy(ep, raw)
			if !ok {
				return attr
			}
			marked = marked || ep == Navigate
			value = link
		default:
			ep := Resource
			if frameTags[name] {
				ep = Navigate
			}
			link, ok := c.Proxy(ep, raw)
			if !ok {
				return attr
			}
			value = link
		}
		return lead + key + eq + `"` + html.EscapeString(value) + `"`
	})

	if marked && !strings.Contains(strings.ToLower(out), LinkMarker) {
		out = addAttr(out, LinkMarker+`="true"`)
	}
	return out
}

// addAttr appends an attribute before the tag's closing bracket.
func addAttr(tag, attr string) string {
	end := len(tag) - 1
	if strings.HasSuffix(tag, "/>") {
		end--
	}
	return strings.TrimRight(tag[:end], " \t\r\n") + " " + attr + tag[end:]
}

// inject places <base> right after the opening head tag and the runtime
// script right before the closing one. Without a head both are prepended.
func inject(doc string, c *Context) string {
	base := `<base href="` + html.EscapeString(c.Origin) + `/">`
	script := Script(c)

	open := headOpenPattern.FindStringIndex(doc)
	if open == nil {
		return script + base + doc
	}
	doc = doc[:open[1]] + base + doc[open[1]:]

	if loc := headClosePattern.FindStringIndex(doc); loc != nil {
		return doc[:loc[0]] + script + doc[loc[0]:]
	}
	// head left open: the script follows base inside it
	at := open[1] + len(base)
	return doc[:at] + script + doc[at:]
}
