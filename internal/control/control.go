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

// Package control implements the gateway-driven control loop: the single
// long-lived stream over which OpenStream requests, pings, and their
// responses flow after authentication succeeds.
package control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cluvio/agent/internal/forwarder"
	"github.com/cluvio/agent/internal/whitelist"
	"github.com/cluvio/agent/internal/wire"
)

// writeTimeout bounds every control-stream write, including pong replies and
// open-stream responses.
const writeTimeout = 10 * time.Second

// maxOpenStreamDeadline caps the deadline the gateway may request for an
// upstream connect.
const maxOpenStreamDeadline = 10 * time.Second

// pongDeadline is how promptly a received Ping must be answered.
const pongDeadline = 30 * time.Second

// MuxSession is the subset of a yamux session the control loop needs to open
// outbound streams for accepted connections.
type MuxSession interface {
	OpenStream() (net.Conn, error)
}

// Dialer opens a TCP connection to an upstream address within the given
// deadline. Exists as an interface so tests can substitute a fake upstream.
type Dialer interface {
	DialUpstream(ctx context.Context, addr whitelist.Address) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr whitelist.Address) (net.Conn, error)

func (f DialerFunc) DialUpstream(ctx context.Context, addr whitelist.Address) (net.Conn, error) {
	return f(ctx, addr)
}

// SpawnHook is called whenever the loop detaches a new stream forwarder, so
// the supervisor can track it for graceful-shutdown draining.
type SpawnHook func(task *forwarder.Task)

// Loop drives the control protocol for one session: reading frames,
// dispatching OpenStream requests, and replying to pings.
type Loop struct {
	conn      net.Conn
	mux       MuxSession
	whitelist *whitelist.Whitelist
	dialer    Dialer
	onSpawn   SpawnHook
	logger    zerolog.Logger

	writeMu sync.Mutex
	pending atomic.Int64
}

// Params bundles Loop's constructor arguments.
type Params struct {
	Conn      net.Conn
	Mux       MuxSession
	Whitelist *whitelist.Whitelist
	Dialer    Dialer
	OnSpawn   SpawnHook
	Logger    zerolog.Logger
}

// New creates a control Loop bound to one session's control stream.
func New(p Params) *Loop {
	return &Loop{
		conn:      p.Conn,
		mux:       p.Mux,
		whitelist: p.Whitelist,
		dialer:    p.Dialer,
		onSpawn:   p.OnSpawn,
		logger:    p.Logger,
	}
}

// Run reads and dispatches frames from the control stream until ctx is
// cancelled or a fatal protocol/I/O error occurs. It returns that error, or
// nil if ctx was the reason for returning.
func (l *Loop) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.conn.Close()
		case <-done:
		}
	}()

	for {
		frame, err := wire.ReadFrame(l.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control: read frame: %w", err)
		}

		switch frame.Type {
		case wire.TypeOpenStream:
			go l.handleOpenStream(ctx, frame)
		case wire.TypePing:
			if err := l.reply(wire.NewPong(frame.Nonce)); err != nil {
				return fmt.Errorf("control: reply to ping: %w", err)
			}
		default:
			l.logger.Debug().Stringer("type", frame.Type).Msg("ignoring unexpected control frame")
		}
	}
}

func (l *Loop) reply(f *wire.Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return wire.WriteFrame(l.conn, f)
}

func (l *Loop) handleOpenStream(ctx context.Context, frame *wire.Frame) {
	id := frame.ID
	addr := fromWireAddress(frame.Addr)

	if !l.whitelist.Allow(addr) {
		l.replyFailed(id, wire.FailureNotAllowed)
		return
	}

	if l.pending.Load() >= forwarder.MaxStreams {
		l.replyFailed(id, wire.FailureInternal)
		return
	}
	l.pending.Add(1)
	defer l.pending.Add(-1)

	deadline := time.Duration(frame.DeadlineMS) * time.Millisecond
	if deadline <= 0 || deadline > maxOpenStreamDeadline {
		deadline = maxOpenStreamDeadline
	}
	dialCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	upstream, err := l.dialer.DialUpstream(dialCtx, addr)
	if err != nil {
		l.replyFailed(id, classifyDialError(dialCtx, err))
		return
	}

	peerStream, err := l.mux.OpenStream()
	if err != nil {
		upstream.Close()
		l.replyFailed(id, wire.FailureInternal)
		return
	}

	if err := l.reply(wire.NewOpened(id)); err != nil {
		upstream.Close()
		peerStream.Close()
		return
	}

	task := forwarder.New(id, peerStream, upstream)
	if l.onSpawn != nil {
		l.onSpawn(task)
	}
	go task.Run(ctx)
}

func (l *Loop) replyFailed(id uint32, reason wire.OpenFailure) {
	_ = l.reply(wire.NewFailed(id, reason))
}

func fromWireAddress(a *wire.Address) whitelist.Address {
	if a == nil {
		return whitelist.Address{}
	}
	if len(a.IP) > 0 {
		return whitelist.Address{IP: a.IP, Port: a.Port}
	}
	return whitelist.Address{Host: a.Host, Port: a.Port}
}

func classifyDialError(ctx context.Context, err error) wire.OpenFailure {
	if ctx.Err() != nil {
		return wire.FailureTimeout
	}
	var dnsErr *net.DNSError
	if asDNSError(err, &dnsErr) {
		return wire.FailureResolveFailed
	}
	return wire.FailureConnectFailed
}

func asDNSError(err error, target **net.DNSError) bool {
	for err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok {
			*target = dnsErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
