// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"crypto/x509"
	"net"
	"net/netip"
	"time"
)

const (
	// DefaultConnectTimeout bounds each dial performed by [*ConnectFunc].
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout bounds every read from a live connection.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds writing the whole request.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultReadChunkSize is the buffer size used while scanning headers.
	DefaultReadChunkSize = 8192
)

// Config holds common configuration for intercept operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// ConnectTimeout bounds each dial, whatever the Dialer. Zero means
	// that only the context passed to [*Session.Open] bounds dialing.
	//
	// Set by [NewConfig] to [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to a zero [*net.Dialer].
	Dialer Dialer

	// DNSNetwork is the protocol used to talk to DNSServer: "udp", "tcp",
	// or "tls" for DNS-over-TLS verified using the TLS fields below.
	//
	// Set by [NewConfig] to "udp".
	DNSNetwork string

	// DNSServer optionally selects a DNS server used by [*ResolveFunc]
	// instead of Resolver. The zero value means "use Resolver".
	DNSServer netip.AddrPort

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// ReadChunkSize is the number of bytes [*HeaderScanner] reads at a time.
	//
	// Set by [NewConfig] to [DefaultReadChunkSize].
	ReadChunkSize int

	// ReadTimeout is the read deadline applied before each live read.
	//
	// Set by [NewConfig] to [DefaultReadTimeout]. Zero disables the deadline,
	// which allows a misbehaving server to block header scanning forever.
	ReadTimeout time.Duration

	// Resolver maps host names to addresses when DNSServer is not set.
	//
	// Set by [NewConfig] to [net.DefaultResolver].
	Resolver Resolver

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// TLSInsecureSkipVerify disables certificate verification.
	TLSInsecureSkipVerify bool

	// TLSRootCAs optionally overrides the system root certificates.
	TLSRootCAs *x509.CertPool

	// WriteTimeout is the write deadline for sending the whole request.
	//
	// Set by [NewConfig] to [DefaultWriteTimeout].
	WriteTimeout time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		Dialer:         &net.Dialer{},
		DNSNetwork:     "udp",
		ErrClassifier:  DefaultErrClassifier,
		ReadChunkSize:  DefaultReadChunkSize,
		ReadTimeout:    DefaultReadTimeout,
		Resolver:       net.DefaultResolver,
		TimeNow:        time.Now,
		WriteTimeout:   DefaultWriteTimeout,
	}
}
