// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Target is the parsed form of the URL passed to [*Session.Open].
type Target struct {
	// Scheme is either "http" or "https".
	Scheme string

	// Host is the ASCII host name or the IP address, without brackets.
	Host string

	// Port is the explicit port or the scheme default.
	Port uint16

	// Path is the escaped path, "/" when the URL has none.
	Path string

	// RawQuery is the query without the leading "?".
	RawQuery string
}

// ParseTarget parses an http or https URL into a [*Target].
//
// Internationalized host names are converted to their ASCII form using
// IDNA lookup rules. ASCII host names are kept as written, including
// underscores, case, and hyphens in the third and fourth positions.
func ParseTarget(rawURL string) (*Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	target := &Target{Scheme: strings.ToLower(u.Scheme)}
	switch target.Scheme {
	case "http":
		target.Port = 80
	case "https":
		target.Port = 443
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("intercept: missing host in %q", rawURL)
	}
	if target.Host, err = asciiHost(u.Hostname()); err != nil {
		return nil, err
	}

	if port := u.Port(); port != "" {
		value, err := strconv.ParseUint(port, 10, 16)
		if err != nil || value == 0 {
			return nil, fmt.Errorf("intercept: invalid port %q", port)
		}
		target.Port = uint16(value)
	}

	target.Path = u.EscapedPath()
	if target.Path == "" {
		target.Path = "/"
	}
	target.RawQuery = u.RawQuery
	return target, nil
}

func asciiHost(host string) (string, error) {
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	if isASCII(host) {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}

func isASCII(s string) bool {
	for idx := 0; idx < len(s); idx++ {
		if s[idx] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// TLS returns whether the target requires a TLS connection.
func (t *Target) TLS() bool {
	return t.Scheme == "https"
}

// DefaultPort returns 443 for https and 80 otherwise.
func (t *Target) DefaultPort() uint16 {
	if t.TLS() {
		return 443
	}
	return 80
}

// Address returns the host:port endpoint to dial.
func (t *Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// HostHeader returns the value of the Host header for this target.
//
// The port is omitted when it is the scheme default.
func (t *Target) HostHeader() string {
	if t.Port != t.DefaultPort() {
		return t.Address()
	}
	if strings.Contains(t.Host, ":") {
		return "[" + t.Host + "]"
	}
	return t.Host
}

// RequestURI returns the path followed by "?" and the query, if any.
func (t *Target) RequestURI() string {
	if t.RawQuery == "" {
		return t.Path
	}
	return t.Path + "?" + t.RawQuery
}

// String returns the URL of the target.
func (t *Target) String() string {
	return t.Scheme + "://" + t.HostHeader() + t.RequestURI()
}
