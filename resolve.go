// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Resolver abstracts the [*net.Resolver] behavior.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// errNoAddresses indicates a successful lookup without usable addresses.
var errNoAddresses = errors.New("intercept: no addresses for host")

// NewResolveFunc returns a new [*ResolveFunc].
func NewResolveFunc(cfg *Config, logger SLogger) *ResolveFunc {
	return &ResolveFunc{
		Dialer:        cfg.Dialer,
		DNSNetwork:    cfg.DNSNetwork,
		DNSServer:     cfg.DNSServer,
		DNSTimeout:    cfg.ReadTimeout,
		DNSTLSConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
			NextProtos:         []string{"dot"},
			RootCAs:            cfg.TLSRootCAs,
		},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Resolver:      cfg.Resolver,
		TLSEngine:     TLSEngineStdlib{},
		TimeNow:       cfg.TimeNow,
	}
}

// ResolveFunc maps a [*Target] to the [netip.AddrPort] to dial.
//
// IP address literals are used as is. Otherwise, when DNSServer is valid,
// the host is resolved with an A query sent to that server; else Resolver
// is used. The first returned address wins.
//
// All fields are safe to modify after construction but before first use.
type ResolveFunc struct {
	// Dialer dials DNSServer.
	Dialer Dialer

	// DNSNetwork is "udp", "tcp" or "tls".
	DNSNetwork string

	// DNSServer is the optional DNS server to query.
	DNSServer netip.AddrPort

	// DNSTimeout bounds the whole exchange with DNSServer.
	DNSTimeout time.Duration

	// DNSTLSConfig is used when DNSNetwork is "tls". An empty ServerName
	// means the address of DNSServer.
	DNSTLSConfig *tls.Config

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Resolver is used when DNSServer is not valid.
	Resolver Resolver

	// TLSEngine performs the DNS-over-TLS handshake.
	TLSEngine TLSEngine

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[*Target, netip.AddrPort] = &ResolveFunc{}

// Call implements [Func].
func (op *ResolveFunc) Call(ctx context.Context, target *Target) (netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(target.Host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), target.Port), nil
	}

	t0 := op.TimeNow()
	op.Logger.Info(
		"resolveStart",
		slog.String("dnsServer", op.serverString()),
		slog.String("host", target.Host),
		slog.Time("t", t0),
	)

	addrs, err := op.lookup(ctx, target.Host)
	if err == nil && len(addrs) <= 0 {
		err = errNoAddresses
	}

	op.Logger.Info(
		"resolveDone",
		slog.Any("addrs", addrs),
		slog.String("dnsServer", op.serverString()),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("host", target.Host),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)

	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addrs[0], target.Port), nil
}

func (op *ResolveFunc) serverString() string {
	if !op.DNSServer.IsValid() {
		return ""
	}
	return op.DNSNetwork + "://" + op.DNSServer.String()
}

func (op *ResolveFunc) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	if op.DNSServer.IsValid() {
		return op.lookupWithServer(ctx, host)
	}
	addrs, err := op.Resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for idx := range addrs {
		addrs[idx] = addrs[idx].Unmap()
	}
	return addrs, nil
}

func (op *ResolveFunc) lookupWithServer(ctx context.Context, host string) ([]netip.Addr, error) {
	if op.DNSTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, op.DNSTimeout)
		defer cancel()
	}

	dconn, err := op.dialDNS(ctx)
	if err != nil {
		return nil, err
	}
	defer dconn.Close()

	resp, err := dconn.Exchange(ctx, dnscodec.NewQuery(host, dns.TypeA))
	if err != nil {
		return nil, err
	}
	records, err := resp.RecordsA()
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	for _, record := range records {
		if addr, err := netip.ParseAddr(record); err == nil {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

// dialDNS connects to DNSServer and returns the [*DNSConn] to use.
func (op *ResolveFunc) dialDNS(ctx context.Context) (*DNSConn, error) {
	network := op.DNSNetwork
	if network == "tls" {
		network = "tcp"
	}
	connect := &ConnectFunc{
		Dialer:        op.Dialer,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		Network:       network,
		TimeNow:       op.TimeNow,
	}
	wrap := &DNSConnFunc{
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}
	watch := &CancelWatchFunc{Logger: op.Logger, TimeNow: op.TimeNow}
	if op.DNSNetwork != "tls" {
		return Compose3(connect, watch, wrap).Call(ctx, op.DNSServer)
	}

	config := op.DNSTLSConfig.Clone()
	if config.ServerName == "" {
		config.ServerName = op.DNSServer.Addr().String()
	}
	handshake := &TLSHandshakeFunc{
		Config:        config,
		Engine:        op.TLSEngine,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}
	wrapTLS := FuncAdapter[TLSConn, *DNSConn](func(ctx context.Context, conn TLSConn) (*DNSConn, error) {
		return wrap.Call(ctx, conn)
	})
	return Compose4(connect, watch, handshake, wrapTLS).Call(ctx, op.DNSServer)
}
