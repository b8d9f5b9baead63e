package client

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the overall deadline, the forwarder connect
	// timeout or the forwarder body-idle timeout expires.
	ErrTimeout = errors.New("upstream request timed out")
	// ErrForwarderConfig is returned when the forwarding proxy value cannot be
	// turned into a dispatcher.
	ErrForwarderConfig = errors.New("invalid forwarding proxy configuration")
	// ErrBodyTooLarge is returned when the decoded body exceeds fetch.max_body_bytes.
	ErrBodyTooLarge = errors.New("upstream body exceeds size limit")
	// ErrTooManyRedirects is returned when the target keeps redirecting past
	// the hop limit.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// maxExcerpt bounds the upstream body text kept on a StatusError.
const maxExcerpt = 512

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Status     string
	// Excerpt is at most maxExcerpt bytes of the upstream body.
	Excerpt string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "upstream responded " + e.Status
	}
	return fmt.Sprintf("upstream responded %d", e.StatusCode)
}

// NetworkError is a fetch that produced no HTTP response: DNS, connect, TLS,
// forwarder handshake, truncated or oversized body.
type NetworkError struct {
	Target    string
	Forwarder string
	// ProxyConnect is set when the forwarding proxy itself could not be reached.
	ProxyConnect bool
	Err          error
}

func (e *NetworkError) Error() string {
	if e.ProxyConnect {
		return fmt.Sprintf("connect to forwarding proxy %s: %v", e.Forwarder, e.Err)
	}
	if e.Forwarder != "" {
		return fmt.Sprintf("fetch %s via %s: %v", e.Target, e.Forwarder, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Hint is the explanation shown to the caller.
func (e *NetworkError) Hint() string {
	if e.ProxyConnect {
		return "Failed to connect through the forwarding proxy. The forwarding proxy may be down."
	}
	if errors.Is(e.Err, ErrTooManyRedirects) {
		return "The target site redirected too many times."
	}
	return "Failed to fetch the requested URL. The target site may be down or blocking requests."
}
