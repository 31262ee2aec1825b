// BSD 3-Clause License
//
// Copyright (c) 2026, Cluvio
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package transport brings up the outbound connection to the gateway: a TCP
// dial with OS keepalives, a TLS 1.3 handshake pinned to a fixed curve and
// cipher suite, and a yamux multiplexer installed on top in client mode.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/yamux"
)

// Config describes the gateway endpoint to dial.
type Config struct {
	Host string
	Port uint16
	// TrustedRoots, if non-nil, entirely replaces the system root store.
	TrustedRoots *x509.CertPool
}

const (
	perAttemptConnectTimeout = 5 * time.Second
	totalDialDeadline        = 30 * time.Second

	keepaliveIdle     = 60 * time.Second
	keepaliveInterval = 20 * time.Second
	keepaliveCount    = 4

	// MaxStreamWindow is the per-stream receive window advertised to the
	// peer by the yamux session.
	MaxStreamWindow = 256 * 1024

	// MaxStreams is the nominal concurrent-stream limit. Nothing enforces it:
	// yamux has no hard stream cap, and the control loop bounds only pending
	// opens (against forwarder.MaxStreams), not the number of open streams.
	MaxStreams = 256
)

// NetworkError wraps any DNS, TCP, or TLS failure during bring-up.
// Fatal-for-session.
type NetworkError struct {
	reason string
	err    error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("transport: %s: %v", e.reason, e.err) }
func (e *NetworkError) Unwrap() error { return e.err }

func netErr(reason string, err error) error { return &NetworkError{reason: reason, err: err} }

// DialAndUpgrade connects to cfg.Host:cfg.Port, performs the TLS 1.3
// handshake, and installs a client-mode yamux session on top. The context
// bounds the entire bring-up pipeline; callers should apply totalDialDeadline
// themselves or rely on the default enforced here if ctx has no deadline.
func DialAndUpgrade(ctx context.Context, cfg Config) (*yamux.Session, net.Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, totalDialDeadline)
		defer cancel()
	}

	tcpConn, err := dialTCP(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return nil, nil, err
	}

	if err := tuneKeepalive(tcpConn); err != nil {
		tcpConn.Close()
		return nil, nil, netErr("configure keepalive", err)
	}

	tlsConn, err := handshakeTLS(ctx, tcpConn, cfg)
	if err != nil {
		tcpConn.Close()
		return nil, nil, err
	}

	session, err := yamux.Client(tlsConn, muxConfig())
	if err != nil {
		tlsConn.Close()
		return nil, nil, netErr("start multiplexer", err)
	}

	return session, tlsConn, nil
}

// dialTCP resolves cfg's host and tries each candidate address in turn,
// bounded by a per-attempt connect timeout and the overall context deadline.
func dialTCP(ctx context.Context, host string, port uint16) (*net.TCPConn, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, netErr("resolve "+host, err)
	}
	if len(addrs) == 0 {
		return nil, netErr("resolve "+host, fmt.Errorf("no addresses returned"))
	}

	dialer := &net.Dialer{Timeout: perAttemptConnectTimeout}

	var lastErr error
	for _, addr := range addrs {
		select {
		case <-ctx.Done():
			return nil, netErr("dial "+host, ctx.Err())
		default:
		}

		target := net.JoinHostPort(addr.IP.String(), fmt.Sprint(port))
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = err
			continue
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			lastErr = fmt.Errorf("unexpected connection type %T", conn)
			continue
		}
		tcpConn.SetNoDelay(true)
		return tcpConn, nil
	}
	return nil, netErr("dial "+host, lastErr)
}

func handshakeTLS(ctx context.Context, conn net.Conn, cfg Config) (*tls.Conn, error) {
	tlsConfig := &tls.Config{
		ServerName:       cfg.Host,
		MinVersion:       tls.VersionTLS13,
		MaxVersion:       tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{tls.X25519},
		CipherSuites:     []uint16{tls.TLS_CHACHA20_POLY1305_SHA256},
	}
	if cfg.TrustedRoots != nil {
		tlsConfig.RootCAs = cfg.TrustedRoots
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, netErr("TLS handshake", err)
	}
	return tlsConn, nil
}

func muxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.MaxStreamWindowSize = MaxStreamWindow
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 30 * time.Second
	return cfg
}
