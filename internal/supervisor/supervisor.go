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

// Package supervisor drives the top-level connect/authenticate/serve
// lifecycle: one session at a time, reconnecting with capped exponential
// backoff on any fatal-for-session error, and shutting down gracefully on
// context cancellation.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/rs/zerolog"

	"github.com/cluvio/agent/internal/auth"
	"github.com/cluvio/agent/internal/control"
	"github.com/cluvio/agent/internal/forwarder"
	"github.com/cluvio/agent/internal/identity"
	"github.com/cluvio/agent/internal/transport"
	"github.com/cluvio/agent/internal/whitelist"
)

const (
	backoffBase   = 1 * time.Second
	backoffCap    = 60 * time.Second
	backoffJitter = 0.20

	// servedResetThreshold is how long a session must remain in Serving
	// before a subsequent drop resets the backoff counter to zero.
	servedResetThreshold = 30 * time.Second

	// drainTimeout bounds how long a graceful shutdown waits for in-flight
	// stream tasks before force-closing the session.
	drainTimeout = 5 * time.Second
)

// Params bundles everything a Supervisor needs to bring up sessions.
type Params struct {
	Identity  identity.Identity
	Transport transport.Config
	Whitelist *whitelist.Whitelist
	Dialer    control.Dialer // nil uses a plain net.Dialer
	Logger    zerolog.Logger
}

// Supervisor owns the connect -> authenticate -> serve -> reconnect
// lifecycle for exactly one session at a time.
type Supervisor struct {
	params Params
	logger zerolog.Logger
	dialer control.Dialer
}

// New creates a Supervisor from its parameters.
func New(p Params) *Supervisor {
	dialer := p.Dialer
	if dialer == nil {
		dialer = defaultDialer{}
	}
	return &Supervisor{params: p, logger: p.Logger, dialer: dialer}
}

// Run blocks until ctx is cancelled, continuously bringing up sessions and
// reconnecting with backoff after each fatal-for-session error. It always
// returns nil: a cancelled context is the only way Run exits, since every
// failure inside a session is by definition fatal-for-session, not
// fatal-for-process (those are caught before Run is ever called).
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		served, err := s.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("session ended")
		}

		if served >= servedResetThreshold {
			failures = 0
		} else {
			failures++
		}

		delay := backoffDelay(failures)
		s.logger.Info().Int("attempt", failures).Dur("delay", delay).Msg("reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runSession brings up exactly one session end to end and blocks until it
// ends, returning how long it spent in the Serving state and the error that
// ended it (nil only when ctx was cancelled).
func (s *Supervisor) runSession(ctx context.Context) (served time.Duration, err error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, conn, err := transport.DialAndUpgrade(sessionCtx, s.params.Transport)
	if err != nil {
		return 0, err
	}
	defer session.Close()
	defer conn.Close()

	authStream, err := session.Accept()
	if err != nil {
		return 0, fmt.Errorf("supervisor: accept auth stream: %w", err)
	}
	if err := auth.Run(authStream, s.params.Identity); err != nil {
		authStream.Close()
		return 0, fmt.Errorf("supervisor: authenticate: %w", err)
	}
	authStream.Close()

	controlStream, err := session.Accept()
	if err != nil {
		return 0, fmt.Errorf("supervisor: accept control stream: %w", err)
	}
	defer controlStream.Close()

	tasks := newTaskSet()
	loop := control.New(control.Params{
		Conn:      controlStream,
		Mux:       muxAdapter{session},
		Whitelist: s.params.Whitelist,
		Dialer:    s.dialer,
		OnSpawn:   tasks.track,
		Logger:    s.logger,
	})

	// The loop and the stream tasks it spawns run on loopCtx, which a
	// cancellation of ctx does not reach, so a graceful shutdown can let the
	// tasks drain; cancelLoop then force-closes whatever is still running.
	loopCtx, cancelLoop := context.WithCancel(context.WithoutCancel(sessionCtx))
	defer cancelLoop()

	start := time.Now()
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(loopCtx) }()

	select {
	case <-ctx.Done():
		s.gracefulShutdown(session, controlStream, tasks)
		cancelLoop()
		<-runErr
		return time.Since(start), nil
	case err := <-runErr:
		return time.Since(start), err
	}
}

// gracefulShutdown implements the shutdown sequence: GOAWAY, close the
// control stream, drain in-flight stream tasks up to drainTimeout, then let
// the deferred session/conn closes in runSession force everything else shut.
func (s *Supervisor) gracefulShutdown(session muxGoAway, controlStream net.Conn, tasks *taskSet) {
	session.GoAway()
	controlStream.Close()

	drained := make(chan struct{})
	go func() {
		tasks.wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		s.logger.Warn().Msg("stream drain timed out, forcing shutdown")
	}
}

// muxGoAway is the subset of *yamux.Session used for graceful shutdown.
type muxGoAway interface {
	GoAway() error
}

// muxAdapter bridges *yamux.Session's concretely-typed OpenStream to the
// control package's net.Conn-returning MuxSession interface: Go's interface
// satisfaction requires identical method signatures, so the covariant
// *yamux.Stream return (it implements net.Conn but isn't one) needs an
// explicit adapter rather than satisfying MuxSession directly.
type muxAdapter struct {
	session *yamux.Session
}

func (m muxAdapter) OpenStream() (net.Conn, error) {
	return m.session.OpenStream()
}

// taskSet tracks live stream forwarders for the graceful-shutdown drain.
type taskSet struct {
	mu sync.Mutex
	wg sync.WaitGroup
}

func newTaskSet() *taskSet { return &taskSet{} }

func (ts *taskSet) track(task *forwarder.Task) {
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		<-task.Done()
	}()
}

func (ts *taskSet) wait() { ts.wg.Wait() }

// backoffDelay computes the capped-exponential, jittered reconnect delay for
// the given consecutive-failure count (1-indexed: failures==1 is the first
// retry after an initial failed attempt).
func backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	exp := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(backoffBase) * exp)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	jitterRange := float64(delay) * backoffJitter
	offset := (randFloat()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// randFloat returns a uniform value in [0, 1) sourced from crypto/rand, since
// math/rand's global source requires a seed call this package shouldn't own.
func randFloat() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// defaultDialer dials upstream addresses with a plain net.Dialer, honoring
// the deadline carried on ctx.
type defaultDialer struct{}

func (defaultDialer) DialUpstream(ctx context.Context, addr whitelist.Address) (net.Conn, error) {
	host := addr.Host
	if host == "" && addr.IP != nil {
		host = addr.IP.String()
	}
	target := net.JoinHostPort(host, fmt.Sprint(addr.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return conn, nil
}
