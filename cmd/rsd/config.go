// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/bassosimone/intercept"
	"gopkg.in/yaml.v3"
)

// fileConfig is the content of the file passed to --config.
//
// Example:
//
//	connectTimeout: 10s
//	readTimeout: 30s
//	writeTimeout: 30s
//	readChunkSize: 4096
//	tls:
//	  insecureSkipVerify: false
//	  rootCAs: testdata/ca.pem
//	dns:
//	  server: 8.8.8.8:53
//	  network: udp
type fileConfig struct {
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	ReadChunkSize  int           `yaml:"readChunkSize"`
	TLS            fileConfigTLS `yaml:"tls"`
	DNS            fileConfigDNS `yaml:"dns"`
}

type fileConfigTLS struct {
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	RootCAs            string `yaml:"rootCAs"`
}

type fileConfigDNS struct {
	Server  string `yaml:"server"`
	Network string `yaml:"network"`
}

var errEmptyConfig = errors.New("configuration file is empty")

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) <= 0 {
		return nil, fmt.Errorf("%w: %s", errEmptyConfig, path)
	}
	fc := &fileConfig{}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return fc, nil
}

// apply overrides the fields of cfg that fc sets.
func (fc *fileConfig) apply(cfg *intercept.Config) error {
	if fc.ConnectTimeout < 0 || fc.ReadTimeout < 0 || fc.WriteTimeout < 0 || fc.ReadChunkSize < 0 {
		return errors.New("timeouts and chunk size must not be negative")
	}
	if fc.ConnectTimeout > 0 {
		cfg.ConnectTimeout = fc.ConnectTimeout
	}
	if fc.ReadTimeout > 0 {
		cfg.ReadTimeout = fc.ReadTimeout
	}
	if fc.WriteTimeout > 0 {
		cfg.WriteTimeout = fc.WriteTimeout
	}
	if fc.ReadChunkSize > 0 {
		cfg.ReadChunkSize = fc.ReadChunkSize
	}

	cfg.TLSInsecureSkipVerify = fc.TLS.InsecureSkipVerify
	if fc.TLS.RootCAs != "" {
		pem, err := os.ReadFile(fc.TLS.RootCAs)
		if err != nil {
			return err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates in %s", fc.TLS.RootCAs)
		}
		cfg.TLSRootCAs = pool
	}

	if fc.DNS.Server != "" {
		server, err := netip.ParseAddrPort(fc.DNS.Server)
		if err != nil {
			return fmt.Errorf("invalid DNS server: %w", err)
		}
		cfg.DNSServer = server
	}
	switch fc.DNS.Network {
	case "":
	case "udp", "tcp", "tls":
		cfg.DNSNetwork = fc.DNS.Network
	default:
		return fmt.Errorf("invalid DNS network: %q", fc.DNS.Network)
	}
	return nil
}
