//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/tlsdialer.go
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/tls.go
//

package intercept

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// TLSEngine creates client [TLSConn] instances.
type TLSEngine interface {
	// Client builds a new client [TLSConn].
	Client(conn net.Conn, config *tls.Config) TLSConn

	// Name returns the engine name.
	Name() string
}

// TLSEngineStdlib implements [TLSEngine] using [tls.Client].
//
// The zero value is ready to use.
type TLSEngineStdlib struct{}

var _ TLSEngine = TLSEngineStdlib{}

// Client implements [TLSEngine].
func (TLSEngineStdlib) Client(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Client(conn, config)
}

// Name implements [TLSEngine].
func (TLSEngineStdlib) Name() string {
	return "stdlib"
}

// TLSConn abstracts over [*tls.Conn].
type TLSConn interface {
	// ConnectionState returns the connection state.
	ConnectionState() tls.ConnectionState

	// HandshakeContext performs the handshake unless interrupted by the context.
	HandshakeContext(ctx context.Context) error

	net.Conn
}

// NewTLSConfig returns the [*tls.Config] used to reach the given target.
//
// The server name is the target host, against which the certificate is
// verified. [crypto/tls] sends no SNI when the host is an IP address.
// Only HTTP/1.1 is offered via ALPN because requests are written by hand.
func NewTLSConfig(cfg *Config, target *Target) *tls.Config {
	runtimex.Assert(target != nil)
	config := &tls.Config{
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		NextProtos:         []string{"http/1.1"},
		RootCAs:            cfg.TLSRootCAs,
		ServerName:         target.Host,
	}
	return config
}

// NewTLSHandshakeFunc returns a new [*TLSHandshakeFunc] using [TLSEngineStdlib].
//
// The cfg argument contains the error classifier and the clock.
//
// The tlsConfig argument must not be nil; [NewTLSConfig] builds the one
// used by live sessions. It is cloned on each [Call].
//
// The logger argument is the [SLogger] receiving tlsHandshakeStart/Done.
func NewTLSHandshakeFunc(cfg *Config, tlsConfig *tls.Config, logger SLogger) *TLSHandshakeFunc {
	runtimex.Assert(tlsConfig != nil)
	return &TLSHandshakeFunc{
		Config:        tlsConfig,
		Engine:        TLSEngineStdlib{},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// TLSHandshakeFunc performs a TLS handshake over an existing [net.Conn].
//
// Returns either a valid [TLSConn] or an error, never both. On failure
// the connection is closed.
//
// All fields are safe to modify after construction but before first use.
type TLSHandshakeFunc struct {
	// Config contains the [*tls.Config] configuration to use.
	//
	// Set by [NewTLSHandshakeFunc] to the user-provided value.
	Config *tls.Config

	// Engine is the [TLSEngine] to use to handshake.
	//
	// Set by [NewTLSHandshakeFunc] to [TLSEngineStdlib]. Sessions replace
	// it with [Session.TLSEngine] when set.
	Engine TLSEngine

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTLSHandshakeFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTLSHandshakeFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time. It also becomes
	// the certificate verification clock.
	//
	// Set by [NewTLSHandshakeFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, TLSConn] = &TLSHandshakeFunc{}

// Call performs the handshake using a clone of Config whose clock is TimeNow.
func (op *TLSHandshakeFunc) Call(ctx context.Context, conn net.Conn) (TLSConn, error) {
	config := op.Config.Clone()
	config.Time = op.TimeNow
	tconn := op.Engine.Client(conn, config)

	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.Logger.Info("tlsHandshakeStart", op.attrs(conn, config, deadline,
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.Bool("tlsSkipVerify", config.InsecureSkipVerify),
		slog.Time("t", t0),
	)...)

	err := tconn.HandshakeContext(ctx)

	state := tconn.ConnectionState()
	op.Logger.Info("tlsHandshakeDone", op.attrs(conn, config, deadline,
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Int("tlsPeerCertsCount", len(state.PeerCertificates)),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)...)

	if err != nil {
		tconn.Close()
		return nil, err
	}
	return tconn, nil
}

func (op *TLSHandshakeFunc) attrs(conn net.Conn, config *tls.Config, deadline time.Time, attrs ...any) []any {
	return append(attrs,
		slog.Time("deadline", deadline),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("tlsEngineName", op.Engine.Name()),
		slog.String("tlsServerName", config.ServerName),
	)
}
