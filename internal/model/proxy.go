// Package model defines shared types for the proxy.
package model

import (
	"net/http"
	"net/url"
)

// Kind selects which endpoint a fetch serves. It decides the outbound
// header set, the overall timeout and the content routing.
type Kind int

const (
	// KindDocument is a navigate-endpoint fetch whose HTML is rewritten.
	KindDocument Kind = iota
	// KindResource is a resource-endpoint fetch (assets, scripts).
	KindResource
)

func (k Kind) String() string {
	if k == KindResource {
		return "resource"
	}
	return "document"
}

// ProxyQuery is an inbound navigate or resource request, before validation.
type ProxyQuery struct {
	// RawURL is the untrusted target URL from the url query parameter.
	RawURL string
	// Forward is the optional forwarding proxy from the proxy query parameter.
	Forward string
	// PublicBase is the absolute scheme://host[:port] the proxy is reached at.
	PublicBase string
}

// TargetRequest is a validated outbound fetch.
type TargetRequest struct {
	Kind    Kind
	URL     *url.URL
	Forward string
}

// FetchResult is a successful (2xx) upstream response with a decoded body.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL is the URL that produced the body, after redirects.
	FinalURL *url.URL
}

// ContentType returns the upstream Content-Type header value.
func (r *FetchResult) ContentType() string {
	return r.Header.Get("Content-Type")
}

// ProxyResponse is the response written back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
