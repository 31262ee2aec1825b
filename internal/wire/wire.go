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

// Package wire implements the length-delimited CBOR framed protocol spoken
// over the control stream and the authentication stream: a u32 big-endian
// length prefix followed by one CBOR item per frame.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize is the largest payload a single frame may carry. Oversize
// frames are fatal for the session.
const MaxFrameSize = 1 << 20 // 1 MiB

// lengthPrefixSize is the size of the big-endian frame length header.
const lengthPrefixSize = 4

// MessageType discriminates the tagged union carried by a Frame. Values are
// part of the stable wire contract and must never be renumbered.
type MessageType uint8

const (
	TypeOpenStream MessageType = iota
	TypeOpened
	TypeFailed
	TypePing
	TypePong
	TypeAuthChallenge
	TypeAuthResponse
	TypeAuthOk
	TypeAuthDenied
)

func (t MessageType) known() bool {
	return t <= TypeAuthDenied
}

func (t MessageType) String() string {
	switch t {
	case TypeOpenStream:
		return "OpenStream"
	case TypeOpened:
		return "Opened"
	case TypeFailed:
		return "Failed"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeAuthChallenge:
		return "AuthChallenge"
	case TypeAuthResponse:
		return "AuthResponse"
	case TypeAuthOk:
		return "AuthOk"
	case TypeAuthDenied:
		return "AuthDenied"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// OpenFailure is the closed enum of reasons an OpenStream request can be
// refused.
type OpenFailure uint8

const (
	FailureNotAllowed OpenFailure = iota
	FailureResolveFailed
	FailureConnectFailed
	FailureTimeout
	FailureInternal
)

func (r OpenFailure) String() string {
	switch r {
	case FailureNotAllowed:
		return "NotAllowed"
	case FailureResolveFailed:
		return "ResolveFailed"
	case FailureConnectFailed:
		return "ConnectFailed"
	case FailureTimeout:
		return "Timeout"
	case FailureInternal:
		return "Internal"
	default:
		return fmt.Sprintf("OpenFailure(%d)", uint8(r))
	}
}

// Address is the wire form of an upstream endpoint: either a DNS host or a
// literal IP, plus a port. Exactly one of Host/IP is populated.
type Address struct {
	Host string `cbor:"1,keyasint,omitempty"`
	IP   []byte `cbor:"2,keyasint,omitempty"`
	Port uint16 `cbor:"3,keyasint"`
}

// Frame is the single envelope type every message on the wire decodes into;
// MessageType selects which of the remaining fields are meaningful. Unknown
// optional fields a future agent/gateway version doesn't recognize are
// ignored by CBOR's map-based decoding, giving forward compatibility for
// free; unknown required Types are rejected explicitly by ReadFrame.
type Frame struct {
	Type MessageType `cbor:"0,keyasint"`

	// OpenStream / Opened / Failed
	ID         uint32       `cbor:"1,keyasint,omitempty"`
	Addr       *Address     `cbor:"2,keyasint,omitempty"`
	DeadlineMS uint32       `cbor:"3,keyasint,omitempty"`
	Reason     *OpenFailure `cbor:"4,keyasint,omitempty"`

	// Ping / Pong
	Nonce uint64 `cbor:"5,keyasint,omitempty"`

	// Auth::Challenge / Auth::Response
	Sealed    []byte `cbor:"6,keyasint,omitempty"`
	Plaintext []byte `cbor:"7,keyasint,omitempty"`
}

// ProtocolError wraps truncation, decode, and unknown-required-variant
// failures on the framed codec. Always fatal for the session.
type ProtocolError struct {
	reason string
	err    error
}

func (e *ProtocolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("wire: %s: %v", e.reason, e.err)
	}
	return "wire: " + e.reason
}

func (e *ProtocolError) Unwrap() error { return e.err }

func protoErr(reason string, err error) error {
	return &ProtocolError{reason: reason, err: err}
}

// ProtocolErrorUnexpected reports a well-formed frame that is nonetheless
// not valid at the current point in a state machine (e.g. a Ping where an
// Auth::Ok was expected).
type ProtocolErrorUnexpected struct {
	Got  string
	Want string
}

func (e *ProtocolErrorUnexpected) Error() string {
	return fmt.Sprintf("wire: unexpected message: got %s, want %s", e.Got, e.Want)
}

var cborEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// WriteFrame encodes f as CBOR and writes it with its u32 BE length prefix.
func WriteFrame(w io.Writer, f *Frame) error {
	payload, err := cborEncMode.Marshal(f)
	if err != nil {
		return protoErr("encode frame", err)
	}
	if len(payload) > MaxFrameSize {
		return protoErr("frame exceeds maximum size", nil)
	}

	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return protoErr("write frame header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return protoErr("write frame payload", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed CBOR frame and validates its Type is a
// recognized variant.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, protoErr("read frame header", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, protoErr("oversize frame", nil)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, protoErr("read frame payload", err)
	}

	var f Frame
	if err := cbor.Unmarshal(payload, &f); err != nil {
		return nil, protoErr("decode frame", err)
	}
	if !f.Type.known() {
		return nil, protoErr(fmt.Sprintf("unknown required variant %d", f.Type), nil)
	}
	return &f, nil
}

// FailureReason dereferences Reason, defaulting to FailureInternal if nil. Helper
// for callers that always expect a Failed frame to carry a reason.
func (f *Frame) FailureReason() OpenFailure {
	if f.Reason == nil {
		return FailureInternal
	}
	return *f.Reason
}

func reasonPtr(r OpenFailure) *OpenFailure { return &r }

// NewOpenStream builds an OpenStream request frame.
func NewOpenStream(id uint32, addr Address, deadlineMS uint32) *Frame {
	return &Frame{Type: TypeOpenStream, ID: id, Addr: &addr, DeadlineMS: deadlineMS}
}

// NewOpened builds an Opened response frame.
func NewOpened(id uint32) *Frame {
	return &Frame{Type: TypeOpened, ID: id}
}

// NewFailed builds a Failed response frame.
func NewFailed(id uint32, reason OpenFailure) *Frame {
	return &Frame{Type: TypeFailed, ID: id, Reason: reasonPtr(reason)}
}

// NewPing builds a Ping event frame.
func NewPing(nonce uint64) *Frame {
	return &Frame{Type: TypePing, Nonce: nonce}
}

// NewPong builds a Pong event frame.
func NewPong(nonce uint64) *Frame {
	return &Frame{Type: TypePong, Nonce: nonce}
}

// NewAuthChallenge builds an Auth::Challenge frame.
func NewAuthChallenge(sealed []byte) *Frame {
	return &Frame{Type: TypeAuthChallenge, Sealed: sealed}
}

// NewAuthResponse builds an Auth::Response frame.
func NewAuthResponse(plaintext []byte) *Frame {
	return &Frame{Type: TypeAuthResponse, Plaintext: plaintext}
}

// NewAuthOk builds an Auth::Ok frame.
func NewAuthOk() *Frame { return &Frame{Type: TypeAuthOk} }

// NewAuthDenied builds an Auth::Denied frame.
func NewAuthDenied() *Frame { return &Frame{Type: TypeAuthDenied} }
