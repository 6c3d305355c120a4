// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// httpBodyWrap wraps the body of a response read from sess.
//
// It emits httpBodyStreamStart on the first Read and httpBodyStreamDone on
// Close (only if at least one Read happened). Close reads what remains of
// stream, so that the saved fixture contains the whole response even when
// the caller stops reading early, and then closes sess.
func httpBodyWrap(body io.ReadCloser, stream io.Reader, sess *Session) io.ReadCloser {
	return &httpBodyWrapper{
		body:    body,
		sess:    sess,
		stream:  stream,
		timeNow: sess.Config.TimeNow,
	}
}

type httpBodyWrapper struct {
	// body is the actual body.
	body io.ReadCloser

	// closeOnce ensures that Close has "once" semantics.
	closeOnce sync.Once

	// didRead tracks whether at least one Read happened.
	didRead atomic.Bool

	// readOnce ensures we log httpBodyStreamStart only once.
	readOnce sync.Once

	// sess is the session owning the bytes.
	sess *Session

	// stream is the buffered reader on top of sess.
	stream io.Reader

	// t0 is the time when we started reading the body.
	t0 time.Time

	// timeNow mocks [time.Now].
	timeNow func() time.Time
}

var _ io.ReadCloser = &httpBodyWrapper{}

// Close implements [io.ReadCloser].
func (b *httpBodyWrapper) Close() (err error) {
	b.closeOnce.Do(func() {
		b.body.Close()
		drained, derr := io.Copy(io.Discard, b.stream)
		err = b.sess.Close()
		if err == nil {
			err = derr
		}
		if b.didRead.Load() { // acquire: t0 is visible if this returns true
			b.sess.Logger.Info("httpBodyStreamDone", b.sess.attrs(
				slog.Int64("drainedBytes", drained),
				slog.Any("err", err),
				slog.String("errClass", b.sess.Config.ErrClassifier.Classify(err)),
				slog.String("origin", b.sess.Origin().String()),
				slog.Time("t0", b.t0),
				slog.Time("t", b.timeNow()),
			)...)
		}
	})
	return
}

// Read implements [io.ReadCloser].
func (b *httpBodyWrapper) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.timeNow()    // write t0 BEFORE the atomic store (release)
		b.didRead.Store(true) // release: makes t0 visible to Close
		b.sess.Logger.Info("httpBodyStreamStart", b.sess.attrs(
			slog.String("origin", b.sess.Origin().String()),
			slog.Time("t", b.t0),
		)...)
	})
	return b.body.Read(buffer)
}
