// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Origin tells where the bytes of a session come from.
type Origin int

const (
	// OriginCached means the bytes are replayed from a fixture file.
	OriginCached Origin = iota

	// OriginPlaintext means the bytes come from a live TCP connection.
	OriginPlaintext

	// OriginTLS means the bytes come from a live TLS connection.
	OriginTLS
)

// String implements [fmt.Stringer].
func (o Origin) String() string {
	switch o {
	case OriginCached:
		return "cached"
	case OriginPlaintext:
		return "plaintext"
	case OriginTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Live returns whether the origin is a network connection.
func (o Origin) Live() bool {
	return o == OriginPlaintext || o == OriginTLS
}

// Backend is the transport of a [*Session].
//
// Read follows the [io.Reader] contract: a zero count with a nil error
// means that no data is available yet, and [io.EOF] signals the end of
// the stream, after which AtEnd returns true.
type Backend interface {
	io.ReadWriteCloser

	// AtEnd returns whether the end of the stream was reached.
	AtEnd() bool

	// Origin returns the kind of backend.
	Origin() Origin
}

// FileBackend replays a fixture file. It never writes.
type FileBackend struct {
	file  *os.File
	atEnd bool
}

var _ Backend = &FileBackend{}

// OpenFileBackend opens the fixture at path in read-only mode.
func OpenFileBackend(path string) (*FileBackend, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileBackend{file: file}, nil
}

// Read implements [Backend].
func (b *FileBackend) Read(buf []byte) (int, error) {
	count, err := b.file.Read(buf)
	if errors.Is(err, io.EOF) {
		b.atEnd = true
	}
	return count, err
}

// Write implements [Backend]. It always fails with [ErrReadOnlyBackend].
func (b *FileBackend) Write(data []byte) (int, error) {
	return 0, ErrReadOnlyBackend
}

// AtEnd implements [Backend].
func (b *FileBackend) AtEnd() bool {
	return b.atEnd
}

// Close implements [Backend].
func (b *FileBackend) Close() error {
	return b.file.Close()
}

// Origin implements [Backend].
func (b *FileBackend) Origin() Origin {
	return OriginCached
}

// maxStalledWrites bounds the number of consecutive writes that make no
// progress and report no error before we give up with [io.ErrShortWrite].
const maxStalledWrites = 8

// connBackend contains the logic shared by [*PlaintextBackend] and [*TLSBackend].
type connBackend struct {
	conn         net.Conn
	atEnd        bool
	readTimeout  time.Duration
	timeNow      func() time.Time
	writeTimeout time.Duration
}

// Read reads from the connection within the read deadline.
func (b *connBackend) Read(buf []byte) (int, error) {
	if b.readTimeout > 0 {
		if err := b.conn.SetReadDeadline(b.timeNow().Add(b.readTimeout)); err != nil {
			return 0, err
		}
	}
	count, err := b.conn.Read(buf)
	if errors.Is(err, io.EOF) {
		b.atEnd = true
	}
	return count, err
}

// Write sends the whole data within the write deadline, looping on short
// writes. It returns the number of bytes actually written.
func (b *connBackend) Write(data []byte) (int, error) {
	if b.writeTimeout > 0 {
		if err := b.conn.SetWriteDeadline(b.timeNow().Add(b.writeTimeout)); err != nil {
			return 0, err
		}
		defer b.conn.SetWriteDeadline(time.Time{})
	}
	var total, stalled int
	for total < len(data) {
		count, err := b.conn.Write(data[total:])
		total += count
		if err != nil {
			return total, err
		}
		if count > 0 {
			stalled = 0
			continue
		}
		if stalled++; stalled >= maxStalledWrites {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// AtEnd returns whether the peer closed the stream.
func (b *connBackend) AtEnd() bool {
	return b.atEnd
}

// Close closes the connection.
func (b *connBackend) Close() error {
	return b.conn.Close()
}

// Conn returns the underlying connection.
func (b *connBackend) Conn() net.Conn {
	return b.conn
}

// PlaintextBackend is a live TCP [Backend].
type PlaintextBackend struct {
	connBackend
}

var _ Backend = &PlaintextBackend{}

// Origin implements [Backend].
func (b *PlaintextBackend) Origin() Origin {
	return OriginPlaintext
}

// TLSBackend is a live TLS [Backend].
type TLSBackend struct {
	connBackend
	tconn TLSConn
}

var _ Backend = &TLSBackend{}

// Origin implements [Backend].
func (b *TLSBackend) Origin() Origin {
	return OriginTLS
}

// ConnectionState returns the state of the TLS connection.
func (b *TLSBackend) ConnectionState() tls.ConnectionState {
	return b.tconn.ConnectionState()
}

// BackendFunc wraps a connection into a live [Backend].
//
// It returns a [*TLSBackend] when the input is a [TLSConn] and a
// [*PlaintextBackend] otherwise. Use [NewBackendFuncPlain] after
// [*CancelWatchFunc] and [NewBackendFuncTLS] after [*TLSHandshakeFunc].
//
// All fields are safe to modify after construction but before first use.
type BackendFunc[T net.Conn] struct {
	// ReadTimeout is the per-read deadline.
	ReadTimeout time.Duration

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	// WriteTimeout is the deadline for each Write.
	WriteTimeout time.Duration
}

// NewBackendFunc returns a new [*BackendFunc] using the timeouts in cfg.
func NewBackendFunc[T net.Conn](cfg *Config) *BackendFunc[T] {
	return &BackendFunc[T]{
		ReadTimeout:  cfg.ReadTimeout,
		TimeNow:      cfg.TimeNow,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// NewBackendFuncPlain is syntactic sugar for NewBackendFunc[net.Conn](cfg).
func NewBackendFuncPlain(cfg *Config) *BackendFunc[net.Conn] {
	return NewBackendFunc[net.Conn](cfg)
}

// NewBackendFuncTLS is syntactic sugar for NewBackendFunc[TLSConn](cfg).
func NewBackendFuncTLS(cfg *Config) *BackendFunc[TLSConn] {
	return NewBackendFunc[TLSConn](cfg)
}

var _ Func[net.Conn, Backend] = &BackendFunc[net.Conn]{}
var _ Func[TLSConn, Backend] = &BackendFunc[TLSConn]{}

// Call implements [Func]. It never fails.
func (op *BackendFunc[T]) Call(ctx context.Context, conn T) (Backend, error) {
	base := connBackend{
		conn:         conn,
		readTimeout:  op.ReadTimeout,
		timeNow:      op.TimeNow,
		writeTimeout: op.WriteTimeout,
	}
	if tconn, ok := any(conn).(TLSConn); ok {
		return &TLSBackend{connBackend: base, tconn: tconn}, nil
	}
	return &PlaintextBackend{connBackend: base}, nil
}
