// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverstream"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/safeconn"
)

// dnsUnusedDialer is a [Dialer] that panics if DialContext is called.
//
// [*DNSConn] exchanges messages over a connection dialed by [*ConnectFunc]
// and the underlying transports must never dial on their own.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("intercept: DNS transport must not dial")
}

// DNSConn exchanges DNS messages with the server configured in
// [Config.DNSServer] over an owned UDP, TCP or TLS connection.
//
// The caller is responsible for calling Close when done.
//
// Construct via [*DNSConnFunc].
type DNSConn struct {
	conn net.Conn

	// ErrClassifier classifies errors for structured logging.
	//
	// Copied from [DNSConnFunc.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Copied from [DNSConnFunc.Logger].
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Copied from [DNSConnFunc.TimeNow].
	TimeNow func() time.Time
}

// Close closes the underlying connection.
func (c *DNSConn) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying net.Conn.
func (c *DNSConn) Conn() net.Conn {
	return c.conn
}

// Exchange sends the query and waits for the response. The protocol
// depends on the underlying connection: a [TLSConn] means DNS-over-TLS,
// otherwise its network selects DNS-over-UDP or DNS-over-TCP.
func (c *DNSConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	t0 := c.TimeNow()
	deadline, _ := ctx.Deadline()
	var rawQuery []byte
	lc := &dnsExchangeLog{
		conn:           c.conn,
		errClassifier:  c.ErrClassifier,
		logger:         c.Logger,
		serverProtocol: c.serverProtocol(),
		timeNow:        c.TimeNow,
	}

	lc.start(t0, deadline)
	resp, err := c.exchange(ctx, query, lc.queryObserver(t0, &rawQuery), lc.responseObserver(t0, &rawQuery))
	lc.done(t0, deadline, err)
	return resp, err
}

// serverProtocol returns "udp", "tcp" or "dot".
func (c *DNSConn) serverProtocol() string {
	if _, ok := c.conn.(TLSConn); ok {
		return "dot"
	}
	switch network := safeconn.Network(c.conn); network {
	case "udp", "udp4", "udp6":
		return "udp"
	case "tcp", "tcp4", "tcp6":
		return "tcp"
	default:
		return network
	}
}

func (c *DNSConn) exchange(ctx context.Context,
	query *dnscodec.Query, onQuery, onResponse func([]byte)) (*dnscodec.Response, error) {
	unspec := netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

	switch protocol := c.serverProtocol(); protocol {
	case "udp":
		txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, unspec)
		txp.ObserveRawQuery = onQuery
		txp.ObserveRawResponse = onResponse
		return txp.ExchangeWithConn(ctx, c.conn, query)

	case "tcp":
		txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), unspec)
		txp.ObserveRawQuery = onQuery
		txp.ObserveRawResponse = onResponse
		return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(c.conn), query)

	case "dot":
		txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), unspec)
		txp.ObserveRawQuery = onQuery
		txp.ObserveRawResponse = onResponse
		so := dnsoverstream.NewTLSStreamOpener(c.conn.(TLSConn)) // turns on padding and DNSSEC
		return txp.ExchangeWithStreamOpener(ctx, so, query)

	default:
		return nil, fmt.Errorf("intercept: unsupported DNS network %q", protocol)
	}
}

// dnsExchangeLog emits the events of a single DNS exchange.
type dnsExchangeLog struct {
	conn           net.Conn
	errClassifier  ErrClassifier
	logger         SLogger
	serverProtocol string
	timeNow        func() time.Time
}

func (lc *dnsExchangeLog) endpointAttrs(attrs ...any) []any {
	return append(attrs,
		slog.String("localAddr", safeconn.LocalAddr(lc.conn)),
		slog.String("protocol", safeconn.Network(lc.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(lc.conn)),
		slog.String("serverProtocol", lc.serverProtocol),
	)
}

func (lc *dnsExchangeLog) start(t0, deadline time.Time) {
	lc.logger.Info("dnsExchangeStart", lc.endpointAttrs(
		slog.Time("deadline", deadline),
		slog.Time("t", t0),
	)...)
}

func (lc *dnsExchangeLog) done(t0, deadline time.Time, err error) {
	lc.logger.Info("dnsExchangeDone", lc.endpointAttrs(
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lc.errClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", lc.timeNow()),
	)...)
}

// queryObserver stores the raw query into rqr so that the response event
// can be correlated with it.
func (lc *dnsExchangeLog) queryObserver(t0 time.Time, rqr *[]byte) func([]byte) {
	return func(rawQuery []byte) {
		lc.logger.Debug("dnsQuery", lc.endpointAttrs(
			slog.Any("dnsRawQuery", rawQuery),
			slog.Time("t", t0),
		)...)
		*rqr = rawQuery
	}
}

func (lc *dnsExchangeLog) responseObserver(t0 time.Time, rqr *[]byte) func([]byte) {
	return func(rawResp []byte) {
		lc.logger.Debug("dnsResponse", lc.endpointAttrs(
			slog.Any("dnsRawQuery", *rqr),
			slog.Any("dnsRawResponse", rawResp),
			slog.Time("t0", t0),
			slog.Time("t", lc.timeNow()),
		)...)
	}
}

// NewDNSConnFunc returns a new [*DNSConnFunc].
//
// The cfg argument contains the error classifier and the clock.
//
// The logger argument is the [SLogger] receiving dnsExchangeStart/Done
// and, at debug level, the raw query and response.
func NewDNSConnFunc(cfg *Config, logger SLogger) *DNSConnFunc {
	return &DNSConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSConnFunc wraps a [net.Conn] into a [*DNSConn].
//
// All fields are safe to modify after construction but before first use.
type DNSConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewDNSConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewDNSConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewDNSConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, *DNSConn] = &DNSConnFunc{}

// Call implements [Func]. It never fails.
func (op *DNSConnFunc) Call(ctx context.Context, conn net.Conn) (*DNSConn, error) {
	return &DNSConn{
		conn:          conn,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}, nil
}
