// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
//
// The cfg argument provides the clock.
//
// The logger argument is the [SLogger] receiving cancelWatchClose.
func NewCancelWatchFunc(cfg *Config, logger SLogger) *CancelWatchFunc {
	return &CancelWatchFunc{Logger: logger, TimeNow: cfg.TimeNow}
}

// CancelWatchFunc closes the connection when the context passed to
// [*Session.Open] is done, so that a cancelled test does not wait for the
// read deadline to expire in the middle of a recording.
//
// Closing the returned connection unregisters the watcher, so a session
// closed before its context is done leaks no goroutine.
type CancelWatchFunc struct {
	// Logger receives the cancelWatchClose event.
	//
	// Set by [NewCancelWatchFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewCancelWatchFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call registers a context watcher using [context.AfterFunc].
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		err := conn.Close()
		op.Logger.Info(
			"cancelWatchClose",
			slog.Any("ctxErr", context.Cause(ctx)),
			slog.Any("err", err),
			slog.String("localAddr", safeconn.LocalAddr(conn)),
			slog.String("protocol", safeconn.Network(conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
			slog.Time("t", op.TimeNow()),
		)
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}, nil
}

type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
