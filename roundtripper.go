// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bassosimone/runtimex"
)

// NewTransport returns a new [*Transport].
func NewTransport(cfg *Config, reg *Registry, logger SLogger) *Transport {
	runtimex.Assert(cfg != nil && reg != nil)
	return &Transport{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
	}
}

// Transport is an [http.RoundTripper] performing each round trip through
// a [*Session], so that an [*http.Client] records and replays fixtures.
//
// The fixture name must be set on the [*Registry] before each request.
// The response body must be closed: closing it reads the rest of the
// response and saves the fixture.
//
// All fields are safe to modify after construction but before first use.
type Transport struct {
	// Config is passed to each [*Session].
	Config *Config

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Registry selects the fixtures.
	Registry *Registry

	// TLSEngine optionally overrides the [TLSEngine] of each [*Session].
	TLSEngine TLSEngine
}

var _ http.RoundTripper = &Transport{}

// RoundTrip implements [http.RoundTripper].
func (txp *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	opts, err := newRequestOptions(req)
	if err != nil {
		return nil, err
	}

	sess := NewSession(txp.Config, txp.Registry, txp.Logger)
	sess.Request = opts
	sess.TLSEngine = txp.TLSEngine

	t0 := txp.Config.TimeNow()
	deadline, _ := req.Context().Deadline()
	txp.logRoundTripStart(sess, req, t0, deadline)

	resp, stream, err := txp.roundTrip(sess, req)

	txp.logRoundTripDone(sess, req, t0, deadline, resp, err)

	if err != nil {
		return nil, err
	}
	resp.Body = httpBodyWrap(resp.Body, stream, sess)
	return resp, nil
}

func (txp *Transport) roundTrip(sess *Session, req *http.Request) (*http.Response, io.Reader, error) {
	if err := sess.Open(req.Context(), req.URL.String(), "rb"); err != nil {
		return nil, nil, err
	}
	stream := bufio.NewReader(sess)
	resp, err := http.ReadResponse(stream, req)
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	return resp, stream, nil
}

// newRequestOptions converts req into [*RequestOptions], consuming
// and closing its body.
func newRequestOptions(req *http.Request) (*RequestOptions, error) {
	opts := &RequestOptions{
		Method:          req.Method,
		Header:          req.Header.Clone(),
		ProtocolVersion: "1.1",
	}
	if opts.Header == nil {
		opts.Header = make(http.Header)
	}
	if req.Host != "" && req.Host != req.URL.Host && !hasHeader(opts.Header, "Host") {
		opts.Header.Set("Host", req.Host)
	}
	if req.Body != nil {
		defer req.Body.Close()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		opts.Body = body
	}
	return opts, nil
}

func (txp *Transport) logRoundTripStart(sess *Session, req *http.Request, t0, deadline time.Time) {
	txp.Logger.Info("httpRoundTripStart", sess.attrs(
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Time("t", t0),
	)...)
}

func (txp *Transport) logRoundTripDone(sess *Session, req *http.Request,
	t0, deadline time.Time, resp *http.Response, err error) {
	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	txp.Logger.Info("httpRoundTripDone", sess.attrs(
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", txp.Config.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("origin", sess.Origin().String()),
		slog.Time("t0", t0),
		slog.Time("t", txp.Config.TimeNow()),
	)...)
}
