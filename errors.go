// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the parent of all the configuration errors.
//
// Use [errors.Is] with this value to check whether [*Session.Open]
// failed before performing any I/O because of missing configuration.
var ErrConfiguration = errors.New("intercept: configuration error")

// ErrNoSaveDir indicates that no valid save directory was ever set.
var ErrNoSaveDir = fmt.Errorf("%w: no valid save directory", ErrConfiguration)

// ErrNoFixtureName indicates that no fixture name was set before opening.
var ErrNoFixtureName = fmt.Errorf("%w: no fixture name set", ErrConfiguration)

// ErrInvalidRequest indicates [RequestOptions] that cannot be serialized
// without corrupting the request, such as header values containing CRLF.
var ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrConfiguration)

// ErrValidation indicates that a fixture name contains forbidden characters.
//
// The [*Registry] setters report this condition by returning false; the
// error value is used by the test helpers and by the command line tool.
var ErrValidation = errors.New("intercept: invalid fixture name")

// ErrMode indicates that [*Session.Open] was called with a mode other than read.
var ErrMode = errors.New("intercept: only read mode is supported")

// ErrConnection is matched by every [*ConnectionError] via [errors.Is].
var ErrConnection = errors.New("intercept: connection error")

// ErrUnsupportedScheme indicates a URL scheme other than http or https.
var ErrUnsupportedScheme = errors.New("intercept: unsupported URL scheme")

// ErrNotOpen indicates I/O on a session that is not streaming.
var ErrNotOpen = errors.New("intercept: session is not open")

// ErrReadOnlyBackend is returned when writing to a fixture replay backend.
var ErrReadOnlyBackend = errors.New("intercept: backend is read-only")

// ErrMalformedStatusLine indicates that the first header line is not an HTTP status line.
var ErrMalformedStatusLine = errors.New("intercept: malformed status line")

// ConnectionError wraps a failure of a live session: name resolution,
// dialing, TLS handshake, writing the request, or reading the headers.
//
// No fixture file is ever created for a session failing this way.
type ConnectionError struct {
	// Op is the failed operation (e.g., "resolve", "connect", "write").
	Op string

	// Address is the host:port we were trying to reach.
	Address string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("intercept: %s %s: %s", e.Op, e.Address, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes every [*ConnectionError] match [ErrConnection].
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
