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

// Package auth runs the sealed-box challenge-response handshake on the
// dedicated multiplexer stream the gateway opens immediately after the
// transport comes up.
package auth

import (
	"fmt"
	"net"
	"time"

	"github.com/cluvio/agent/internal/identity"
	"github.com/cluvio/agent/internal/sealedbox"
	"github.com/cluvio/agent/internal/wire"
)

// StepTimeout bounds each individual step of the handshake.
const StepTimeout = 15 * time.Second

// DeniedError is returned when the gateway rejects the agent's proof of key
// ownership (e.g. an unregistered public key). Fatal-for-session, but the
// supervisor still reconnects since registration may simply be lagging.
type DeniedError struct{}

func (DeniedError) Error() string { return "auth: gateway denied authentication" }

// Run performs the four-step handshake described in §4.5 of the spec over
// stream, which must be a freshly opened multiplexer stream dedicated to
// authentication. On success the stream is ready to be closed by the caller
// and the session is considered authenticated.
func Run(stream net.Conn, id identity.Identity) error {
	challenge, err := readFrame(stream, StepTimeout)
	if err != nil {
		return err
	}
	if challenge.Type != wire.TypeAuthChallenge {
		return &wire.ProtocolErrorUnexpected{Got: challenge.Type.String(), Want: wire.TypeAuthChallenge.String()}
	}

	plaintext, err := sealedbox.Unseal(id.SecretKey, challenge.Sealed)
	if err != nil {
		return fmt.Errorf("auth: unseal challenge: %w", err)
	}
	if len(plaintext) < 16 || len(plaintext) > 32 {
		return fmt.Errorf("auth: unexpected challenge nonce length %d", len(plaintext))
	}

	if err := writeFrame(stream, wire.NewAuthResponse(plaintext), StepTimeout); err != nil {
		return err
	}

	result, err := readFrame(stream, StepTimeout)
	if err != nil {
		return err
	}
	switch result.Type {
	case wire.TypeAuthOk:
		return nil
	case wire.TypeAuthDenied:
		return DeniedError{}
	default:
		return &wire.ProtocolErrorUnexpected{Got: result.Type.String(), Want: "AuthOk or AuthDenied"}
	}
}

func readFrame(conn net.Conn, timeout time.Duration) (*wire.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("auth: set read deadline: %w", err)
	}
	return wire.ReadFrame(conn)
}

func writeFrame(conn net.Conn, f *wire.Frame, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("auth: set write deadline: %w", err)
	}
	return wire.WriteFrame(conn, f)
}
