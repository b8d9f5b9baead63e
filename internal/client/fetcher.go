// Package client fetches target URLs on behalf of the proxy, directly or
// through a per-request forwarding proxy.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"webrelay/internal/config"
	"webrelay/internal/guard"
	"webrelay/internal/metrics"
	"webrelay/internal/model"
)

const maxRedirects = 10

// Options tunes a Fetcher.
type Options struct {
	NavigateTimeout       time.Duration
	ResourceTimeout       time.Duration
	ForwardConnectTimeout time.Duration
	ForwardBodyTimeout    time.Duration
	MaxBodyBytes          int64
	IdleConnections       int
	UserAgent             string
}

// OptionsFromConfig reads the [fetch] section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NavigateTimeout:       cfg.Fetch.NavigateTimeout(),
		ResourceTimeout:       cfg.Fetch.ResourceTimeout(),
		ForwardConnectTimeout: cfg.Fetch.ForwardConnectTimeout(),
		ForwardBodyTimeout:    cfg.Fetch.ForwardBodyTimeout(),
		MaxBodyBytes:          cfg.Fetch.MaxBodyBytes,
		IdleConnections:       cfg.Fetch.IdleConnections,
		UserAgent:             cfg.Fetch.UserAgent,
	}
}

// URLChecker validates each redirect hop before it is followed.
type URLChecker interface {
	Check(u *url.URL) error
}

// Fetcher performs the single outbound GET for a TargetRequest.
type Fetcher struct {
	opts    Options
	direct  *http.Client
	guard   URLChecker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFetcher creates a Fetcher from configuration.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewFetcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, g *guard.Guard) *Fetcher {
	return NewFetcherWithOptions(OptionsFromConfig(cfg), logger, m, g)
}

// NewFetcherWithOptions creates a Fetcher with explicit options.
func NewFetcherWithOptions(opts Options, logger *slog.Logger, m *metrics.Metrics, g URLChecker) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	f := &Fetcher{
		opts:    opts,
		guard:   g,
		logger:  logger.With("component", "fetcher"),
		metrics: m,
	}

	transport := &http.Transport{
		MaxIdleConns:        opts.IdleConnections,
		MaxIdleConnsPerHost: opts.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	f.direct = &http.Client{
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// forwardClient builds a client that dials through proxyURL. It is used for
// one request and must have CloseIdleConnections called afterwards.
func (f *Fetcher) forwardClient(proxyURL *url.URL) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyURL(proxyURL),
		TLSHandshakeTimeout: f.opts.ForwardConnectTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   f.opts.ForwardConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
}

// checkRedirect keeps the default hop limit and re-validates every hop.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, ErrTooManyRedirects)
	}
	return f.guard.Check(req.URL)
}

func (f *Fetcher) timeout(kind model.Kind) time.Duration {
	if kind == model.KindResource {
		return f.opts.ResourceTimeout
	}
	return f.opts.NavigateTimeout
}

// Fetch performs the outbound request and returns the decoded body of a 2xx
// response. Non-2xx responses become *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, req *model.TargetRequest) (*model.FetchResult, error) {
	kind := req.Kind.String()

	forward, err := ParseForwarder(req.Forward)
	if err != nil {
		f.fail(kind, metrics.FailureConfig)
		f.logger.Error("forwarding proxy rejected", "kind", kind, "error", err)
		return nil, err
	}

	ctx, cancel := context.WithTimeoutCause(ctx, f.timeout(req.Kind), ErrTimeout)
	defer cancel()
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	hc := f.direct
	if forward != nil {
		hc = f.forwardClient(forward)
		defer hc.CloseIdleConnections()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	setBrowserHeaders(httpReq.Header, req.Kind, f.opts.UserAgent)

	f.logger.Debug("upstream request",
		"kind", kind,
		"host", req.URL.Host,
		"forward", hostOf(forward),
	)

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		f.observe(kind, start)
		return nil, f.failure(ctx, req, forward, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if f.metrics != nil {
		f.metrics.UpstreamResponses.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.observe(kind, start)
		f.fail(kind, metrics.FailureHTTP)
		f.logger.Warn("upstream error status",
			"kind", kind,
			"host", resp.Request.URL.Host,
			"status", resp.StatusCode,
		)
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Excerpt:    excerpt(resp.Body, resp.Header.Get("Content-Encoding")),
		}
	}

	var body io.Reader = resp.Body
	if forward != nil && f.opts.ForwardBodyTimeout > 0 {
		idle := newIdleReader(resp.Body, f.opts.ForwardBodyTimeout, func() { abort(ErrTimeout) })
		defer idle.stop()
		body = idle
	}

	data, err := readBody(body, resp.Header.Get("Content-Encoding"), f.opts.MaxBodyBytes)
	f.observe(kind, start)
	if err != nil {
		return nil, f.failure(ctx, req, forward, err)
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &model.FetchResult{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       data,
		FinalURL:   resp.Request.URL,
	}, nil
}

// failure classifies a transport or body error.
func (f *Fetcher) failure(ctx context.Context, req *model.TargetRequest, forward *url.URL, err error) error {
	kind := req.Kind.String()
	host := req.URL.Host

	var rejected *guard.RejectError
	switch {
	case errors.As(err, &rejected):
		if f.metrics != nil {
			f.metrics.GuardRejections.WithLabelValues(rejected.Reason).Inc()
		}
		f.logger.Warn("redirect target rejected", "kind", kind, "host", host, "reason", rejected.Reason)
		return rejected
	case isTimeout(ctx, err):
		f.fail(kind, metrics.FailureTimeout)
		f.logger.Error("upstream timeout", "kind", kind, "host", host, "forward", hostOf(forward))
		return fmt.Errorf("fetch %s: %w", host, ErrTimeout)
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		f.fail(kind, metrics.FailureCanceled)
		f.logger.Debug("upstream request canceled", "kind", kind, "host", host)
		return fmt.Errorf("fetch %s: %w", host, context.Canceled)
	}

	failure := metrics.FailureNetwork
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		failure = metrics.FailureBody
	case errors.Is(err, ErrTooManyRedirects):
		failure = metrics.FailureRedirects
	}
	f.fail(kind, failure)

	nerr := &NetworkError{
		Target:       host,
		Forwarder:    hostOf(forward),
		ProxyConnect: forward != nil && isProxyConnect(err),
		Err:          err,
	}
	f.logger.Error("upstream fetch failed",
		"kind", kind,
		"host", host,
		"forward", nerr.Forwarder,
		"proxy_connect", nerr.ProxyConnect,
		"error", err,
	)
	return nerr
}

func (f *Fetcher) observe(kind string, start time.Time) {
	if f.metrics != nil {
		f.metrics.UpstreamDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (f *Fetcher) fail(kind, failure string) {
	if f.metrics != nil {
		f.metrics.UpstreamFailures.WithLabelValues(kind, failure).Inc()
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		return errors.Is(cause, ErrTimeout) || errors.Is(cause, context.DeadlineExceeded)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isProxyConnect(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "proxyconnect"
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}

// setBrowserHeaders makes the fetch look like a desktop Chrome navigation
// or subresource load.
func setBrowserHeaders(h http.Header, kind model.Kind, userAgent string) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Accept-Encoding", AcceptEncoding)
	h.Set("DNT", "1")

	if kind == model.KindResource {
		h.Set("Accept", "*/*")
		h.Set("Sec-Fetch-Dest", "empty")
		h.Set("Sec-Fetch-Mode", "no-cors")
		h.Set("Sec-Fetch-Site", "cross-site")
		return
	}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
}

// idleReader calls onIdle when no bytes arrive for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, onIdle func()) *idleReader {
	return &idleReader{r: r, timeout: timeout, timer: time.AfterFunc(timeout, onIdle)}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) stop() {
	r.timer.Stop()
}
