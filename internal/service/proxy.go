// Package service implements request orchestration and content routing.
package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"

	"webrelay/internal/guard"
	"webrelay/internal/metrics"
	"webrelay/internal/model"
	"webrelay/internal/rewrite"
)

// Fetcher performs the outbound request for a validated target.
type Fetcher interface {
	Fetch(ctx context.Context, req *model.TargetRequest) (*model.FetchResult, error)
}

const (
	cacheDocument    = "no-cache, no-store, must-revalidate"
	cachePassthrough = "public, max-age=3600"
)

// forwardableResponseHeaders are upstream headers kept on passthrough responses.
var forwardableResponseHeaders = []string{
	"Content-Disposition",
	"Content-Language",
	"ETag",
	"Last-Modified",
}

// corsHeaders let rewritten pages load resources from the resource endpoint.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
}

// ProxyService validates targets, fetches them and routes the body to the
// matching rewriter.
type ProxyService struct {
	guard   *guard.Guard
	fetcher Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable route and rejection counters.
func NewProxyService(g *guard.Guard, f Fetcher, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		guard:   g,
		fetcher: f,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}
}

// Navigate serves a page: HTML is rewritten and served with the runtime
// script, anything else passes through unchanged.
func (s *ProxyService) Navigate(ctx context.Context, q *model.ProxyQuery) (*model.ProxyResponse, error) {
	res, err := s.fetch(ctx, model.KindDocument, q)
	if err != nil {
		return nil, err
	}

	contentType := s.contentType(res)
	if strings.Contains(strings.ToLower(contentType), "html") {
		return s.renderHTML(res, contentType, q), nil
	}
	return s.passthrough(res, contentType, nil), nil
}

// Resource serves a sub-resource: JavaScript is rewritten, anything else
// (HTML and CSS included) passes through byte for byte.
func (s *ProxyService) Resource(ctx context.Context, q *model.ProxyQuery) (*model.ProxyResponse, error) {
	res, err := s.fetch(ctx, model.KindResource, q)
	if err != nil {
		return nil, err
	}

	contentType := s.contentType(res)
	if isJavaScript(contentType, res) {
		return s.renderJS(res, contentType, q), nil
	}
	return s.passthrough(res, contentType, corsHeaders), nil
}

func (s *ProxyService) fetch(ctx context.Context, kind model.Kind, q *model.ProxyQuery) (*model.FetchResult, error) {
	target, err := s.guard.Validate(q.RawURL)
	if err != nil {
		reason := guard.Reason(err)
		if s.metrics != nil {
			s.metrics.GuardRejections.WithLabelValues(reason).Inc()
		}
		s.logger.Warn("target rejected", "kind", kind.String(), "reason", reason)
		return nil, err
	}

	return s.fetcher.Fetch(ctx, &model.TargetRequest{
		Kind:    kind,
		URL:     target,
		Forward: q.Forward,
	})
}

// contentType returns the upstream type, sniffing the body when it is missing.
func (s *ProxyService) contentType(res *model.FetchResult) string {
	if ct := res.ContentType(); ct != "" {
		return ct
	}
	sniffed := mimetype.Detect(res.Body).String()
	s.logger.Debug("content type sniffed", "host", res.FinalURL.Host, "type", sniffed)
	return sniffed
}

func (s *ProxyService) renderHTML(res *model.FetchResult, contentType string, q *model.ProxyQuery) *model.ProxyResponse {
	doc, err := toUTF8(res.Body, contentType)
	if err != nil {
		s.logger.Debug("charset conversion failed, rewriting raw bytes", "host", res.FinalURL.Host, "error", err)
		doc = string(res.Body)
	}

	rc := rewrite.NewContext(res.FinalURL, q.PublicBase, q.Forward)
	out := rewrite.HTML(doc, rc)
	s.route(metrics.RouteHTML)

	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", cacheDocument)
	return &model.ProxyResponse{StatusCode: http.StatusOK, Header: header, Body: []byte(out)}
}

func (s *ProxyService) renderJS(res *model.FetchResult, contentType string, q *model.ProxyQuery) *model.ProxyResponse {
	rc := rewrite.NewContext(res.FinalURL, q.PublicBase, q.Forward)
	out := rewrite.JS(string(res.Body), rc)
	s.route(metrics.RouteJS)

	header := make(http.Header)
	header.Set("Content-Type", scriptContentType(contentType))
	header.Set("Cache-Control", cachePassthrough)
	for k, v := range corsHeaders {
		header.Set(k, v)
	}
	return &model.ProxyResponse{StatusCode: http.StatusOK, Header: header, Body: []byte(out)}
}

func (s *ProxyService) passthrough(res *model.FetchResult, contentType string, extra map[string]string) *model.ProxyResponse {
	s.route(metrics.RoutePassthrough)

	header := make(http.Header)
	for _, key := range forwardableResponseHeaders {
		if v := res.Header.Get(key); v != "" {
			header.Set(key, v)
		}
	}
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", cachePassthrough)
	for k, v := range extra {
		header.Set(k, v)
	}
	return &model.ProxyResponse{StatusCode: res.StatusCode, Header: header, Body: res.Body}
}

func (s *ProxyService) route(name string) {
	if s.metrics != nil {
		s.metrics.ContentRoutes.WithLabelValues(name).Inc()
	}
}

func isJavaScript(contentType string, res *model.FetchResult) bool {
	if strings.Contains(strings.ToLower(contentType), "javascript") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(res.FinalURL.Path), ".js")
}

// scriptContentType is application/javascript, keeping the upstream charset.
func scriptContentType(upstream string) string {
	if _, params, err := mime.ParseMediaType(upstream); err == nil && params["charset"] != "" {
		return mime.FormatMediaType("application/javascript", map[string]string{"charset": params["charset"]})
	}
	return "application/javascript"
}

// toUTF8 decodes body using a BOM, the charset parameter of contentType or a
// meta declaration, in that order of precedence.
func toUTF8(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
