// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a session.
//
// Every log event emitted by a [*Session] carries its span ID, so the
// events of one recording or replay can be grouped together even when a
// test suite opens many sessions against the same logger.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
