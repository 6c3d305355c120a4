// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/require"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// messages returns the messages of the captured records.
func messages(records []slog.Record) []string {
	var out []string
	for _, record := range records {
		out = append(out, record.Message)
	}
	return out
}

// recordAttr returns the value of the named attribute of record.
func recordAttr(record slog.Record, key string) (slog.Value, bool) {
	var (
		found bool
		value slog.Value
	)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found, value = true, attr.Value
			return false
		}
		return true
	})
	return value, found
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] whose ClientFunc
// returns conn and whose NameFunc returns "mock".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newForbiddenDialer returns a dialer failing the test when used.
func newForbiddenDialer(t *testing.T) *netstub.FuncDialer {
	return &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.Errorf("unexpected dial: %s %s", network, address)
			return nil, net.ErrClosed
		},
	}
}

// newTestRegistry returns a [*Registry] saving into a temporary directory.
func newTestRegistry(t *testing.T) (*Registry, string) {
	reg := NewRegistry()
	dir := t.TempDir()
	require.True(t, reg.SetSaveDir(dir))
	dir, err := reg.SaveDir()
	require.NoError(t, err)
	return reg, dir
}

// writeTestFixture writes a fixture named name into dir.
func writeTestFixture(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name+FixtureExt)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
