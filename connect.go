//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package intercept

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// Tests replace the dialer to prove that replayed sessions never dial.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewConnectFunc returns a new [*ConnectFunc].
//
// The cfg argument contains the dialer, the clock and the connect timeout.
//
// The network argument is "tcp" for live sessions and "udp" or "tcp" for
// DNS servers.
//
// The logger argument is the [SLogger] receiving connectStart/Done.
func NewConnectFunc(cfg *Config, network string, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Network:       network,
		Timeout:       cfg.ConnectTimeout,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc dials the [netip.AddrPort] produced by [*ResolveFunc].
//
// Returns either a valid [net.Conn] or an error, never both. The Timeout
// only bounds the dial: the returned connection keeps no deadline.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// Network is the network to use ("tcp" or "udp").
	//
	// Set by [NewConnectFunc] to the user-provided value.
	Network string

	// Timeout bounds the dial when positive. Zero leaves the bound to
	// the context passed to [Call].
	//
	// Set by [NewConnectFunc] from [Config.ConnectTimeout].
	Timeout time.Duration

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.Conn] = &ConnectFunc{}

// Call dials address within Timeout.
func (op *ConnectFunc) Call(ctx context.Context, address netip.AddrPort) (net.Conn, error) {
	if op.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, op.Timeout)
		defer cancel()
	}

	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	remote := address.String()
	op.Logger.Info("connectStart", op.attrs(remote, deadline,
		slog.Time("t", t0),
	)...)

	conn, err := op.Dialer.DialContext(ctx, op.Network, remote)

	op.Logger.Info("connectDone", op.attrs(remote, deadline,
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)...)

	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (op *ConnectFunc) attrs(remote string, deadline time.Time, attrs ...any) []any {
	return append(attrs,
		slog.Time("deadline", deadline),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", remote),
	)
}
