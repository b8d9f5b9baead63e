// Package guard rejects target URLs the proxy must never fetch.
package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"webrelay/internal/config"
)

// ErrRejected is returned for every target the guard refuses.
var ErrRejected = errors.New("invalid or blocked target URL")

// Rejection reasons, bounded for use as metric labels.
const (
	ReasonMalformed = "malformed"
	ReasonScheme    = "scheme"
	ReasonBlocked   = "blocked_host"
)

// RejectError describes why a target was refused. It matches ErrRejected.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	return ErrRejected.Error() + ": " + e.Detail
}

func (e *RejectError) Unwrap() error {
	return ErrRejected
}

func reject(reason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// defaultBlocked are hostname substrings that identify loopback, private,
// link-local and cloud metadata endpoints. Matching is by substring, so a
// public hostname that merely contains one of these tokens is rejected too.
var defaultBlocked = []string{
	"localhost",
	"127.",
	"0.0.0.0",
	"::1",
	"10.",
	"172.",
	"192.168.",
	"169.254.",
	"metadata.google.internal",
	"metadata.internal",
}

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// Guard validates target URLs before any network I/O.
type Guard struct {
	blocked []string
}

// New creates a Guard with the built-in block list plus guard.blocked_hosts.
func New(cfg *config.Config) *Guard {
	blocked := make([]string, 0, len(defaultBlocked)+len(cfg.Guard.BlockedHosts))
	blocked = append(blocked, defaultBlocked...)
	for _, h := range cfg.Guard.BlockedHosts {
		blocked = append(blocked, strings.ToLower(strings.TrimSpace(h)))
	}
	return &Guard{blocked: blocked}
}

// Validate parses raw and checks it. The returned URL is safe to fetch.
func (g *Guard) Validate(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, reject(ReasonMalformed, "empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, reject(ReasonMalformed, "malformed url")
	}
	if err := g.Check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Check applies the scheme and host rules to an already parsed URL.
// It is also used on every redirect hop.
func (g *Guard) Check(u *url.URL) error {
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return reject(ReasonScheme, "scheme %q not allowed", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return reject(ReasonMalformed, "missing host")
	}
	for _, b := range g.blocked {
		if strings.Contains(host, b) {
			return reject(ReasonBlocked, "host %q matches blocked %q", host, b)
		}
	}
	return nil
}

// Size returns the number of entries in the block list.
func (g *Guard) Size() int {
	return len(g.blocked)
}

// Reason returns the rejection reason carried by err, or "" if err is not
// a guard rejection.
func Reason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
