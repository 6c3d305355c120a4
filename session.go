// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"

	"github.com/bassosimone/runtimex"
)

// State is the state of a [*Session].
type State int

const (
	// StateUnopened is the state before [*Session.Open].
	StateUnopened State = iota

	// StateConnecting means we are opening the backend and sending the request.
	StateConnecting

	// StateHeaderScan means we are reading the response headers.
	StateHeaderScan

	// StateBodyStreaming means the session is ready for [*Session.Read].
	StateBodyStreaming

	// StateClosed is the final state, reached by [*Session.Close] or by
	// a failed [*Session.Open].
	StateClosed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateConnecting:
		return "connecting"
	case StateHeaderScan:
		return "headerScan"
	case StateBodyStreaming:
		return "bodyStreaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// errSessionReused indicates a second call to [*Session.Open].
var errSessionReused = errors.New("intercept: session already opened")

// NewSession returns a new [*Session] bound to the given [*Registry].
//
// The session gets a fresh span ID tagging all its log events.
func NewSession(cfg *Config, reg *Registry, logger SLogger) *Session {
	runtimex.Assert(cfg != nil && reg != nil)
	return &Session{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		SpanID:   NewSpanID(),
	}
}

// Session fetches a single HTTP response, either live or from a fixture.
//
// When the fixture selected by the [*Registry] exists, [*Session.Open]
// replays it without any network activity. Otherwise it sends the request
// to the server and [*Session.Close] saves every byte received.
//
// A Session is used for a single Open/Read/Close cycle and is not safe
// for concurrent use. Exported fields are safe to modify after
// construction but before calling Open.
type Session struct {
	// Config contains the dialer, resolver, timeouts and TLS settings.
	Config *Config

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Registry selects the fixture.
	Registry *Registry

	// Request controls the request sent to live servers; nil means a
	// plain GET using [DefaultProtocolVersion].
	Request *RequestOptions

	// SpanID is attached to every event of this session.
	SpanID string

	// TLSEngine optionally overrides the [TLSEngine] used for https.
	TLSEngine TLSEngine

	backend         Backend
	fixture         string
	headerLines     []string
	headersComplete bool
	path            string
	position        int
	raw             bytes.Buffer
	state           State
	target          *Target
}

// Open starts the session for rawURL. The mode must be "r" or "rb".
//
// Open fails without performing I/O when the mode is invalid, the URL is
// not an http or https URL, or the [*Registry] lacks a fixture name or a
// save directory. Live failures are reported as [*ConnectionError].
//
// On failure the session is closed, no fixture is saved, and the fixture
// name is left untouched. Under persist mode the counter still advances.
func (s *Session) Open(ctx context.Context, rawURL, mode string) (err error) {
	if s.state != StateUnopened {
		return errSessionReused
	}
	defer func() {
		if err != nil {
			s.abort()
		}
	}()

	if mode != "r" && mode != "rb" {
		return fmt.Errorf("%w: %q", ErrMode, mode)
	}
	if s.target, err = ParseTarget(rawURL); err != nil {
		return err
	}
	if err = s.Request.Validate(); err != nil {
		return err
	}
	if s.fixture, s.path, err = s.Registry.next(); err != nil {
		return err
	}

	t0 := s.Config.TimeNow()
	s.Logger.Info("sessionOpenStart", s.attrs(
		slog.String("target", s.target.String()),
		slog.Time("t", t0),
	)...)
	defer func() {
		s.Logger.Info("sessionOpenDone", s.attrs(
			slog.Any("err", err),
			slog.String("errClass", s.Config.ErrClassifier.Classify(err)),
			slog.String("origin", s.Origin().String()),
			slog.String("target", s.target.String()),
			slog.Time("t0", t0),
			slog.Time("t", s.Config.TimeNow()),
		)...)
	}()

	s.state = StateConnecting
	if s.backend, err = s.openBackend(ctx); err != nil {
		return err
	}
	if s.backend.Origin().Live() {
		if err = s.writeRequest(); err != nil {
			return err
		}
	}

	s.state = StateHeaderScan
	scanner := NewHeaderScanner(s.Config, s.Logger)
	lines, err := scanner.Scan(s.backend, &s.raw)
	if err != nil {
		if s.backend.Origin().Live() {
			err = &ConnectionError{Op: "read", Address: s.target.Address(), Err: err}
		}
		return err
	}
	s.headerLines = lines
	s.headersComplete = true
	s.state = StateBodyStreaming
	return nil
}

func (s *Session) openBackend(ctx context.Context) (Backend, error) {
	if FixtureExists(s.path) {
		s.Logger.Info("fixtureReplay", s.attrs(slog.String("path", s.path))...)
		return OpenFileBackend(s.path)
	}
	return s.dialPipeline().Call(ctx, s.target)
}

// dialPipeline returns the pipeline that opens a live backend.
func (s *Session) dialPipeline() Func[*Target, Backend] {
	address := s.target.Address()
	resolve := withConnectionError[*Target, netip.AddrPort](
		"resolve", address, NewResolveFunc(s.Config, s.Logger))
	connect := withConnectionError[netip.AddrPort, net.Conn](
		"connect", address, NewConnectFunc(s.Config, "tcp", s.Logger))
	observe := NewObserveConnFunc(s.Config, s.SpanID, s.Logger)
	watch := NewCancelWatchFunc(s.Config, s.Logger)

	if !s.target.TLS() {
		return Compose5(resolve, connect, observe, watch, NewBackendFuncPlain(s.Config))
	}

	handshake := NewTLSHandshakeFunc(s.Config, NewTLSConfig(s.Config, s.target), s.Logger)
	if s.TLSEngine != nil {
		handshake.Engine = s.TLSEngine
	}
	return Compose6(resolve, connect, observe, watch,
		withConnectionError[net.Conn, TLSConn]("tlsHandshake", address, handshake),
		NewBackendFuncTLS(s.Config))
}

func (s *Session) writeRequest() error {
	request := BuildRequest(s.target, s.Request)
	t0 := s.Config.TimeNow()
	s.Logger.Info("requestWriteStart", s.attrs(
		slog.Int("requestSize", len(request)),
		slog.Time("t", t0),
	)...)

	count, err := s.backend.Write(request)

	s.Logger.Info("requestWriteDone", s.attrs(
		slog.Any("err", err),
		slog.String("errClass", s.Config.ErrClassifier.Classify(err)),
		slog.Int("ioBytesCount", count),
		slog.Time("t0", t0),
		slog.Time("t", s.Config.TimeNow()),
	)...)

	if err != nil {
		return &ConnectionError{Op: "write", Address: s.target.Address(), Err: err}
	}
	return nil
}

// abort releases the resources of a failed Open.
func (s *Session) abort() {
	if s.backend != nil {
		s.backend.Close()
	}
	s.state = StateClosed
}

// Read implements [io.Reader].
//
// Bytes captured while scanning the headers are returned first, then
// reads go to the backend. Read returns [io.EOF] once the backend reached
// its end and every byte was delivered, and [ErrNotOpen] unless the
// session is streaming.
func (s *Session) Read(buf []byte) (int, error) {
	if s.state != StateBodyStreaming {
		return 0, ErrNotOpen
	}
	runtimex.Assert(s.position <= s.raw.Len())
	if len(buf) <= 0 {
		return 0, nil
	}

	if s.position < s.raw.Len() {
		count := copy(buf, s.raw.Bytes()[s.position:])
		s.position += count
		return count, nil
	}

	if s.backend.AtEnd() {
		return 0, io.EOF
	}
	count, err := s.backend.Read(buf)
	if count > 0 {
		s.raw.Write(buf[:count])
		s.position += count
	}
	return count, err
}

// AtEnd returns whether the backend reached its end and every buffered
// byte was delivered.
func (s *Session) AtEnd() bool {
	return s.backend != nil && s.backend.AtEnd() && s.position >= s.raw.Len()
}

// Close closes the session. For live sessions that received any byte, it
// saves the bytes received so far to the fixture file. Then it clears the
// [*Registry] fixture name, which is a no-op under persist mode.
//
// Closing a closed session, or a session whose Open failed, does nothing.
func (s *Session) Close() error {
	switch s.state {
	case StateClosed:
		return nil
	case StateUnopened:
		s.state = StateClosed
		return nil
	}
	s.state = StateClosed

	origin := s.backend.Origin()
	if err := s.backend.Close(); err != nil {
		s.Logger.Debug("backendCloseError", s.attrs(
			slog.Any("err", err),
			slog.String("errClass", s.Config.ErrClassifier.Classify(err)),
		)...)
	}

	var err error
	if origin.Live() && s.raw.Len() > 0 {
		err = s.save()
	}
	cleared := s.Registry.ClearSaveFile()

	s.Logger.Info("sessionClose", s.attrs(
		slog.Bool("fixtureNameCleared", cleared),
		slog.String("origin", origin.String()),
		slog.Int("position", s.position),
		slog.Int("rawBytes", s.raw.Len()),
		slog.Time("t", s.Config.TimeNow()),
	)...)
	return err
}

func (s *Session) save() error {
	t0 := s.Config.TimeNow()
	s.Logger.Info("fixtureSaveStart", s.attrs(
		slog.String("path", s.path),
		slog.Int("rawBytes", s.raw.Len()),
		slog.Time("t", t0),
	)...)

	err := WriteFixture(s.path, s.raw.Bytes())

	s.Logger.Info("fixtureSaveDone", s.attrs(
		slog.Any("err", err),
		slog.String("errClass", s.Config.ErrClassifier.Classify(err)),
		slog.String("path", s.path),
		slog.Time("t0", t0),
		slog.Time("t", s.Config.TimeNow()),
	)...)
	return err
}

func (s *Session) attrs(attrs ...any) []any {
	return append(attrs,
		slog.String("fixture", s.fixture),
		slog.String("spanID", s.SpanID),
	)
}

// HeaderLines returns the lines preceding the blank line that ends the
// response headers, starting with the status line.
func (s *Session) HeaderLines() []string {
	return slices.Clone(s.headerLines)
}

// HeadersComplete returns whether the header scan finished.
func (s *Session) HeadersComplete() bool {
	return s.headersComplete
}

// Origin returns where the bytes come from. Before a backend is open
// it returns [OriginCached].
func (s *Session) Origin() Origin {
	if s.backend == nil {
		return OriginCached
	}
	return s.backend.Origin()
}

// State returns the current [State].
func (s *Session) State() State {
	return s.state
}

// Position returns the number of bytes delivered by [*Session.Read].
func (s *Session) Position() int {
	return s.position
}

// Path returns the fixture path, empty before Open selected it.
func (s *Session) Path() string {
	return s.path
}

// FixtureName returns the effective fixture name selected by Open.
func (s *Session) FixtureName() string {
	return s.fixture
}

// Target returns the parsed URL, nil before Open parsed it.
func (s *Session) Target() *Target {
	return s.target
}

// Raw returns a copy of every byte read so far, including the bytes
// read while scanning the headers and not yet delivered.
func (s *Session) Raw() []byte {
	return bytes.Clone(s.raw.Bytes())
}
