package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var forwarderSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// ParseForwarder turns a forwarding proxy value into a proxy URL. Accepted
// forms are host:port, optionally prefixed with http://, https:// or
// socks5://. A bare host:port is an HTTP proxy. An empty value returns nil.
func ParseForwarder(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForwarderConfig, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !forwarderSchemes[u.Scheme] {
		return nil, fmt.Errorf("%w: scheme %q not supported", ErrForwarderConfig, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrForwarderConfig)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %q out of range", ErrForwarderConfig, u.Port())
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("%w: unexpected path %q", ErrForwarderConfig, u.Path)
	}
	return u, nil
}
