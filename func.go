// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// The live side of a [*Session] is a pipeline of Func stages (resolve,
// connect, observe, cancel-watch, optional TLS handshake, backend) chained
// using [Compose2] and friends.
//
// When a Func receives a closeable resource as input and fails, it closes
// that resource before returning, so that a failed pipeline leaks nothing.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
