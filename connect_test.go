// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectFunc(t *testing.T) {
	cfg := NewConfig()

	fn := NewConnectFunc(cfg, "tcp", DefaultSLogger())

	require.NotNil(t, fn)
	assert.Equal(t, "tcp", fn.Network)
	assert.Equal(t, cfg.Dialer, fn.Dialer)
	assert.Equal(t, cfg.ConnectTimeout, fn.Timeout)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

func TestConnectFunc(t *testing.T) {
	tests := []struct {
		// name describes what this test case verifies.
		name string

		// dialErr is the error returned by the dialer, if any.
		dialErr error

		// wantErrClass is the errClass of the connectDone event.
		wantErrClass string
	}{
		{
			name:         "successful connect",
			wantErrClass: "",
		},
		{
			name:         "dial timeout",
			dialErr:      context.DeadlineExceeded,
			wantErrClass: errclass.ETIMEDOUT,
		},
		{
			name:         "unclassified failure",
			dialErr:      errors.New("mocked error"),
			wantErrClass: errclass.EGENERIC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotNetwork, gotAddress string
			cfg := NewConfig()
			cfg.Dialer = &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					gotNetwork, gotAddress = network, address
					if tt.dialErr != nil {
						return nil, tt.dialErr
					}
					conn := newMinimalConn()
					conn.CloseFunc = func() error { return nil }
					return conn, nil
				},
			}
			logger, records := newCapturingLogger()

			fn := NewConnectFunc(cfg, "tcp", logger)
			conn, err := fn.Call(context.Background(), netip.MustParseAddrPort("[2001:db8::1]:8080"))

			assert.Equal(t, "tcp", gotNetwork)
			assert.Equal(t, "[2001:db8::1]:8080", gotAddress)
			if tt.dialErr != nil {
				require.ErrorIs(t, err, tt.dialErr)
				assert.Nil(t, conn)
			} else {
				require.NoError(t, err)
				require.NotNil(t, conn)
				conn.Close()
			}

			require.Equal(t, []string{"connectStart", "connectDone"}, messages(*records))
			errClass, found := recordAttr((*records)[1], "errClass")
			require.True(t, found)
			assert.Equal(t, tt.wantErrClass, errClass.String())
		})
	}
}

// Call passes the caller's context to the dialer.
func TestConnectFuncCallerContextDeadline(t *testing.T) {
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.True(t, time.Until(deadline) <= 5*time.Second)
			return nil, context.DeadlineExceeded
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewConnectFunc(cfg, "tcp", DefaultSLogger()).Call(ctx, netip.MustParseAddrPort("10.0.0.1:80"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// A positive Timeout shortens the caller's deadline for the dial only.
func TestConnectFuncTimeout(t *testing.T) {
	var dialDeadline time.Time
	cfg := NewConfig()
	cfg.ConnectTimeout = 250 * time.Millisecond
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			dialDeadline = deadline
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	logger, records := newCapturingLogger()

	t0 := time.Now()
	_, err := NewConnectFunc(cfg, "tcp", logger).Call(context.Background(), netip.MustParseAddrPort("10.0.0.1:80"))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, dialDeadline.Sub(t0) <= time.Second)
	deadline, found := recordAttr((*records)[0], "deadline")
	require.True(t, found)
	assert.WithinDuration(t, dialDeadline, deadline.Time(), 0)
}
