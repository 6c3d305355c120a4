//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.0/internal/x/dslx/fxcore.go
//

package intercept

import "context"

// Compose2 returns a [Func] calling first and then, on success, second
// with the output of first. The first error stops the pipeline.
func Compose2[A, B, C any](first Func[A, B], second Func[B, C]) Func[A, C] {
	return &pipeline[A, B, C]{first: first, second: second}
}

type pipeline[A, B, C any] struct {
	first  Func[A, B]
	second Func[B, C]
}

func (p *pipeline[A, B, C]) Call(ctx context.Context, input A) (C, error) {
	middle, err := p.first.Call(ctx, input)
	if err != nil {
		return *new(C), err
	}
	return p.second.Call(ctx, middle)
}

// Compose3 is like [Compose2] with three stages.
func Compose3[A, B, C, D any](f1 Func[A, B], f2 Func[B, C], f3 Func[C, D]) Func[A, D] {
	return Compose2(Compose2(f1, f2), f3)
}

// Compose4 is like [Compose2] with four stages.
func Compose4[A, B, C, D, E any](f1 Func[A, B], f2 Func[B, C], f3 Func[C, D], f4 Func[D, E]) Func[A, E] {
	return Compose2(Compose3(f1, f2, f3), f4)
}

// Compose5 is like [Compose2] with five stages.
func Compose5[A, B, C, D, E, F any](
	f1 Func[A, B], f2 Func[B, C], f3 Func[C, D], f4 Func[D, E], f5 Func[E, F]) Func[A, F] {
	return Compose2(Compose4(f1, f2, f3, f4), f5)
}

// Compose6 is like [Compose2] with six stages.
func Compose6[A, B, C, D, E, F, G any](
	f1 Func[A, B], f2 Func[B, C], f3 Func[C, D], f4 Func[D, E], f5 Func[E, F], f6 Func[F, G]) Func[A, G] {
	return Compose2(Compose5(f1, f2, f3, f4, f5), f6)
}

// MapError returns a [Func] replacing each non-nil error of fn with the
// result of mapper. Successful outputs pass through unchanged.
func MapError[A, B any](fn Func[A, B], mapper func(err error) error) Func[A, B] {
	return FuncAdapter[A, B](func(ctx context.Context, input A) (B, error) {
		output, err := fn.Call(ctx, input)
		if err != nil {
			return output, mapper(err)
		}
		return output, nil
	})
}

// withConnectionError wraps the errors of the stage op of a dial towards
// address into [*ConnectionError].
func withConnectionError[A, B any](op, address string, fn Func[A, B]) Func[A, B] {
	return MapError(fn, func(err error) error {
		return &ConnectionError{Op: op, Address: address, Err: err}
	})
}
