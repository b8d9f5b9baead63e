package rewrite

import (
	"regexp"
	"strings"
)

var (
	// fetchCallPattern matches fetch("...") or fetch('...') with a literal first argument.
	fetchCallPattern = regexp.MustCompile(`\bfetch\s*\(\s*(?:"([^"]+)"|'([^']+)')`)
	// openCallPattern matches xhr.open("METHOD", "...") with literal arguments.
	openCallPattern = regexp.MustCompile(`\.open\s*\(\s*("[A-Za-z]+"|'[A-Za-z]+')\s*,\s*(?:"([^"]+)"|'([^']+)')`)
)

// JS rewrites literal fetch and XMLHttpRequest.open URLs in a script body to
// the navigate endpoint. Only absolute and root-relative literals are touched;
// root-relative ones resolve against the script's own origin.
func JS(src string, c *Context) string {
	src = fetchCallPattern.ReplaceAllStringFunc(src, func(call string) string {
		m := fetchCallPattern.FindStringSubmatch(call)
		link, ok := literalLink(m[1]+m[2], c)
		if !ok {
			return call
		}
		return `fetch("` + link + `"`
	})
	return openCallPattern.ReplaceAllStringFunc(src, func(call string) string {
		m := openCallPattern.FindStringSubmatch(call)
		link, ok := literalLink(m[2]+m[3], c)
		if !ok {
			return call
		}
		return `.open(` + m[1] + `, "` + link + `"`
	})
}

func literalLink(ref string, c *Context) (string, bool) {
	lower := strings.ToLower(ref)
	absolute := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
	rootRelative := strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//")
	if !absolute && !rootRelative {
		return "", false
	}
	return c.Proxy(Navigate, ref)
}
