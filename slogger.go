// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

// SLogger abstracts the [*slog.Logger] behavior.
//
// Two levels are in use:
//   - Info for session lifecycle events (open, replay, connect, handshake,
//     header scan, fixture save, close)
//   - Debug for per-I/O events (read, write, set deadline)
//
// The [*slog.Logger] type satisfies this interface.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns the default [SLogger], which discards everything.
//
// Tests recording fixtures are usually noisy enough already. Pass a
// [*slog.Logger] to the constructors to see what is going on.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {}
