// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSEngineStdlib(t *testing.T) {
	engine := TLSEngineStdlib{}
	assert.Equal(t, "stdlib", engine.Name())

	tconn := engine.Client(&netstub.FuncConn{}, &tls.Config{})
	_, ok := tconn.(*tls.Conn)
	assert.True(t, ok)
}

func TestNewTLSConfig(t *testing.T) {
	pool := x509.NewCertPool()

	tests := []struct {
		// name describes the scenario.
		name string

		// rawURL is the target URL.
		rawURL string

		// insecure is the value of Config.TLSInsecureSkipVerify.
		insecure bool

		// wantServerName is the expected server name.
		wantServerName string
	}{
		{
			name:           "domain name is the server name",
			rawURL:         "https://example.com/",
			wantServerName: "example.com",
		},
		{
			name:           "IPv4 address is the server name",
			rawURL:         "https://127.0.0.1:8443/",
			wantServerName: "127.0.0.1",
		},
		{
			name:           "IPv6 address is the server name",
			rawURL:         "https://[::1]/",
			wantServerName: "::1",
		},
		{
			name:           "verification can be disabled",
			rawURL:         "https://example.com/",
			insecure:       true,
			wantServerName: "example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.TLSInsecureSkipVerify = tt.insecure
			cfg.TLSRootCAs = pool

			target, err := ParseTarget(tt.rawURL)
			require.NoError(t, err)

			config := NewTLSConfig(cfg, target)
			assert.Equal(t, tt.wantServerName, config.ServerName)
			assert.Equal(t, tt.insecure, config.InsecureSkipVerify)
			assert.Equal(t, []string{"http/1.1"}, config.NextProtos)
			assert.Same(t, pool, config.RootCAs)
		})
	}
}

func TestTLSHandshakeFunc(t *testing.T) {
	fixedTime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		// name describes the scenario.
		name string

		// handshakeErr is returned by the mocked handshake.
		handshakeErr error

		// wantClosed is whether the conn must be closed.
		wantClosed bool
	}{
		{name: "successful handshake"},
		{name: "failed handshake", handshakeErr: errors.New("x509: unknown authority"), wantClosed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				closed     bool
				seenConfig *tls.Config
			)
			tconn := &tlsstub.FuncTLSConn{
				FuncConn: newMinimalConn(),
				ConnectionStateFunc: func() tls.ConnectionState {
					return tls.ConnectionState{Version: tls.VersionTLS13, NegotiatedProtocol: "http/1.1"}
				},
				HandshakeContextFunc: func(ctx context.Context) error {
					return tt.handshakeErr
				},
			}
			tconn.FuncConn.CloseFunc = func() error {
				closed = true
				return nil
			}
			engine := newMockTLSEngine(tconn)
			engine.ClientFunc = func(c net.Conn, config *tls.Config) TLSConn {
				seenConfig = config
				return tconn
			}

			cfg := NewConfig()
			cfg.TimeNow = func() time.Time { return fixedTime }
			original := &tls.Config{ServerName: "example.com"}
			logger, records := newCapturingLogger()

			fn := NewTLSHandshakeFunc(cfg, original, logger)
			fn.Engine = engine
			result, err := fn.Call(context.Background(), newMinimalConn())

			if tt.handshakeErr != nil {
				require.ErrorIs(t, err, tt.handshakeErr)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "http/1.1", result.ConnectionState().NegotiatedProtocol)
			}
			assert.Equal(t, tt.wantClosed, closed)

			// The engine gets a clone using the configured clock
			require.NotNil(t, seenConfig)
			assert.NotSame(t, original, seenConfig)
			assert.Nil(t, original.Time)
			assert.Equal(t, fixedTime, seenConfig.Time())

			assert.Equal(t, []string{"tlsHandshakeStart", "tlsHandshakeDone"}, messages(*records))
		})
	}
}
