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

// Package forwarder copies bytes between an accepted multiplexer stream and
// the upstream TCP connection it was opened for.
package forwarder

import (
	"context"
	"io"
	"net"
	"sync"
)

// MaxStreams bounds the number of concurrently pending OpenStream requests
// (whitelist passed, not yet replied to) a single session will service.
// Beyond this, OpenStream requests are refused with Failure::Internal rather
// than accepted and queued. Stream tasks already forwarding are not counted.
const MaxStreams = 256

// bufferSize is the per-direction copy buffer size.
const bufferSize = 16 * 1024

// halfCloser is implemented by connections that can shut down their write
// side independently of the read side (e.g. *net.TCPConn). Peer is a
// multiplexer stream (*yamux.Stream) and does not implement it: yamux only
// exposes a single Close, which is a local stream-wide teardown rather than
// a write-only shutdown — calling it while the opposite direction is still
// draining can turn a subsequent Read on the same stream into a premature
// EOF even though the remote hasn't closed yet. So a dst without CloseWrite
// is left alone on clean EOF; Run closes it once both directions are done
// instead of attempting a half-close that the multiplexer can't honor.
type halfCloser interface {
	CloseWrite() error
}

// Task forwards one accepted connection: bytes flow in both directions
// between Peer (a multiplexer stream) and Upstream (a dialed TCP socket)
// until both directions have seen EOF or either side errors.
type Task struct {
	ID       uint32
	Peer     net.Conn
	Upstream net.Conn

	done chan struct{}
}

// New creates a Task for the stream/upstream pair opened for an accepted
// OpenStream request.
func New(id uint32, peer, upstream net.Conn) *Task {
	return &Task{ID: id, Peer: peer, Upstream: upstream, done: make(chan struct{})}
}

// Done returns a channel closed once Run has returned, so callers that don't
// themselves invoke Run (e.g. a supervisor tracking live tasks for a graceful
// drain) can still observe completion.
func (t *Task) Done() <-chan struct{} { return t.done }

// Run copies in both directions until both halves are done, then closes both
// connections. It blocks until forwarding completes; callers run it in its
// own goroutine. Cancelling ctx force-closes both connections immediately.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			t.Peer.Close()
			t.Upstream.Close()
		})
	}
	defer closeBoth()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeBoth()
		case <-stop:
		}
	}()

	// remaining tracks how many of the two directions are still running, so
	// the shared Peer/Upstream pair is closed the instant the second one
	// finishes rather than only implicitly via the deferred closeBoth above.
	var mu sync.Mutex
	remaining := 2
	directionDone := func() {
		mu.Lock()
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			closeBoth()
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go t.copyDirection(&wg, t.Upstream, t.Peer, directionDone)
	go t.copyDirection(&wg, t.Peer, t.Upstream, directionDone)
	wg.Wait()
}

// copyDirection copies from src to dst until EOF or error. On a clean EOF it
// half-closes dst's write side if possible, leaving the other direction free
// to keep draining. Any other error force-closes both ends so the sibling
// goroutine unblocks. done is always called on return, whether by EOF or
// error, so Run can tell when both directions have finished.
func (t *Task) copyDirection(wg *sync.WaitGroup, dst, src net.Conn, done func()) {
	defer wg.Done()
	defer done()

	buf := make([]byte, bufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if err != nil {
		src.Close()
		dst.Close()
		return
	}

	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	}
}
