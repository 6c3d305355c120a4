// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/tlsstub"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcResolver is a [Resolver] calling LookupNetIPFunc.
type funcResolver struct {
	LookupNetIPFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

func (r *funcResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	return r.LookupNetIPFunc(ctx, network, host)
}

// newForbiddenResolver returns a resolver failing the test when used.
func newForbiddenResolver(t *testing.T) *funcResolver {
	return &funcResolver{
		LookupNetIPFunc: func(ctx context.Context, network, host string) ([]netip.Addr, error) {
			t.Errorf("unexpected lookup: %s", host)
			return nil, errors.New("unexpected lookup")
		},
	}
}

// answerA returns a handler answering A queries with addrs.
func answerA(addrs ...string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if opt := req.IsEdns0(); opt != nil {
			resp.SetEdns0(opt.UDPSize(), opt.Do())
		}
		for _, addr := range addrs {
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{
					Name:   req.Question[0].Name,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    60,
				},
				A: net.ParseIP(addr),
			})
		}
		w.WriteMsg(resp)
	}
}

// nxdomain is a handler answering with NXDOMAIN.
func nxdomain(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeNameError)
	w.WriteMsg(resp)
}

// startDNSServer starts a local DNS server for the given network.
func startDNSServer(t *testing.T, network string, handler dns.HandlerFunc) netip.AddrPort {
	started := make(chan struct{})
	server := &dns.Server{
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}

	var address string
	switch network {
	case "udp":
		pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		server.PacketConn = pconn
		address = pconn.LocalAddr().String()
	case "tcp":
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		server.Listener = listener
		address = listener.Addr().String()
	default:
		t.Fatalf("unsupported network: %s", network)
	}

	go server.ActivateAndServe()
	<-started
	t.Cleanup(func() { server.Shutdown() })
	return netip.MustParseAddrPort(address)
}

func TestResolveFuncIPLiteral(t *testing.T) {
	tests := []struct {
		// rawURL is the target URL.
		rawURL string

		// want is the expected endpoint.
		want netip.AddrPort
	}{
		{rawURL: "http://127.0.0.1/", want: netip.MustParseAddrPort("127.0.0.1:80")},
		{rawURL: "https://[2001:db8::1]:8443/", want: netip.MustParseAddrPort("[2001:db8::1]:8443")},
		{rawURL: "http://[::ffff:10.0.0.1]/", want: netip.MustParseAddrPort("10.0.0.1:80")},
	}

	for _, tt := range tests {
		t.Run(tt.rawURL, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Dialer = newForbiddenDialer(t)
			cfg.Resolver = newForbiddenResolver(t)
			logger, records := newCapturingLogger()

			target, err := ParseTarget(tt.rawURL)
			require.NoError(t, err)

			got, err := NewResolveFunc(cfg, logger).Call(context.Background(), target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Empty(t, *records)
		})
	}
}

func TestResolveFuncSystemResolver(t *testing.T) {
	tests := []struct {
		// name describes the scenario.
		name string

		// addrs are returned by the resolver.
		addrs []netip.Addr

		// lookupErr is returned by the resolver.
		lookupErr error

		// want is the expected endpoint.
		want netip.AddrPort

		// wantErr is the expected error.
		wantErr error
	}{
		{
			name:  "first address wins",
			addrs: []netip.Addr{netip.MustParseAddr("::ffff:93.184.216.34"), netip.MustParseAddr("2001:db8::1")},
			want:  netip.MustParseAddrPort("93.184.216.34:443"),
		},
		{
			name:      "lookup failure",
			lookupErr: errors.New("no such host"),
		},
		{
			name:    "no addresses",
			addrs:   []netip.Addr{},
			wantErr: errNoAddresses,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Resolver = &funcResolver{
				LookupNetIPFunc: func(ctx context.Context, network, host string) ([]netip.Addr, error) {
					assert.Equal(t, "ip", network)
					assert.Equal(t, "example.com", host)
					return tt.addrs, tt.lookupErr
				},
			}
			logger, records := newCapturingLogger()

			target, err := ParseTarget("https://example.com/")
			require.NoError(t, err)

			got, err := NewResolveFunc(cfg, logger).Call(context.Background(), target)
			assert.Equal(t, []string{"resolveStart", "resolveDone"}, messages(*records))

			switch {
			case tt.lookupErr != nil:
				require.ErrorIs(t, err, tt.lookupErr)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolveFuncDNSServer(t *testing.T) {
	for _, network := range []string{"udp", "tcp"} {
		t.Run(network, func(t *testing.T) {
			server := startDNSServer(t, network, answerA("10.0.0.7", "10.0.0.8"))

			cfg := NewConfig()
			cfg.DNSServer = server
			cfg.DNSNetwork = network
			cfg.Resolver = newForbiddenResolver(t)
			cfg.ReadTimeout = 5 * time.Second
			logger, records := newCapturingLogger()

			target, err := ParseTarget("http://www.example.com:8080/")
			require.NoError(t, err)

			got, err := NewResolveFunc(cfg, logger).Call(context.Background(), target)
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddrPort("10.0.0.7:8080"), got)

			msgs := messages(*records)
			assert.Contains(t, msgs, "connectStart")
			assert.Contains(t, msgs, "dnsExchangeStart")
			assert.Contains(t, msgs, "dnsExchangeDone")
			assert.Equal(t, "resolveDone", msgs[len(msgs)-1])
		})
	}
}

func TestResolveFuncDNSServerNXDOMAIN(t *testing.T) {
	server := startDNSServer(t, "udp", nxdomain)

	cfg := NewConfig()
	cfg.DNSServer = server
	cfg.ReadTimeout = 5 * time.Second

	target, err := ParseTarget("http://nonexistent.example/")
	require.NoError(t, err)

	_, err = NewResolveFunc(cfg, DefaultSLogger()).Call(context.Background(), target)
	require.Error(t, err)
}

func TestResolveFuncDNSServerUnreachable(t *testing.T) {
	wantErr := errors.New("network unreachable")
	cfg := NewConfig()
	cfg.DNSServer = netip.MustParseAddrPort("192.0.2.1:53")
	cfg.DNSNetwork = "tcp"
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			assert.Equal(t, "tcp", network)
			assert.Equal(t, "192.0.2.1:53", address)
			return nil, wantErr
		},
	}

	target, err := ParseTarget("http://example.com/")
	require.NoError(t, err)

	_, err = NewResolveFunc(cfg, DefaultSLogger()).Call(context.Background(), target)
	require.ErrorIs(t, err, wantErr)
}

func TestResolveFuncDNSOverTLSHandshakeFailure(t *testing.T) {
	wantErr := errors.New("handshake failed")
	var (
		closed     atomic.Bool
		serverName string
		nextProtos []string
	)
	conn := newMinimalConn()
	conn.CloseFunc = func() error {
		closed.Store(true)
		return nil
	}

	cfg := NewConfig()
	cfg.DNSServer = netip.MustParseAddrPort("1.1.1.1:853")
	cfg.DNSNetwork = "tls"
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			assert.Equal(t, "tcp", network)
			assert.Equal(t, "1.1.1.1:853", address)
			return conn, nil
		},
	}

	op := NewResolveFunc(cfg, DefaultSLogger())
	op.TLSEngine = &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			serverName, nextProtos = config.ServerName, config.NextProtos
			return &tlsstub.FuncTLSConn{
				FuncConn: conn,
				ConnectionStateFunc: func() tls.ConnectionState {
					return tls.ConnectionState{}
				},
				HandshakeContextFunc: func(ctx context.Context) error {
					return wantErr
				},
			}
		},
		NameFunc: func() string {
			return "mock"
		},
	}

	target, err := ParseTarget("https://example.com/")
	require.NoError(t, err)

	_, err = op.Call(context.Background(), target)
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, "1.1.1.1", serverName)
	assert.Equal(t, []string{"dot"}, nextProtos)
	assert.True(t, closed.Load())
	assert.Empty(t, op.DNSTLSConfig.ServerName)
}
