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

// Package identity manages the agent's long-lived X25519 keypair: the stable
// identifier the gateway uses to recognize this agent across reconnects.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size in bytes of an X25519 scalar or point.
const KeySize = 32

// ErrInvalidKeyLength is returned when decoded key material isn't KeySize bytes.
var ErrInvalidKeyLength = errors.New("identity: key must be 32 bytes")

// Identity is the agent's long-lived keypair on curve25519. The public key is
// the agent's stable identifier on the gateway; the secret key is never
// transmitted.
type Identity struct {
	SecretKey [KeySize]byte
	PublicKey [KeySize]byte
}

// Generate creates a fresh random identity. Used only by the setup tool.
func Generate() (Identity, error) {
	var id Identity
	if _, err := io.ReadFull(rand.Reader, id.SecretKey[:]); err != nil {
		return Identity{}, fmt.Errorf("identity: generate secret key: %w", err)
	}
	clamp(&id.SecretKey)
	curve25519.ScalarBaseMult(&id.PublicKey, &id.SecretKey)
	return id, nil
}

// FromSecretKey derives an Identity from a raw 32-byte X25519 scalar.
func FromSecretKey(secret [KeySize]byte) Identity {
	var id Identity
	id.SecretKey = secret
	clamp(&id.SecretKey)
	curve25519.ScalarBaseMult(&id.PublicKey, &id.SecretKey)
	return id
}

// clamp applies the X25519 clamping rules from RFC 7748 so the scalar is
// always a valid Curve25519 private key regardless of its source bytes.
func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// base64Encoding is the unpadded, URL-safe encoding used for every key
// exchanged through the config file or the show-agent-key CLI command.
var base64Encoding = base64.RawURLEncoding

// EncodePublicKey returns the base64url-no-pad encoding of the public key.
func EncodePublicKey(pub [KeySize]byte) string {
	return base64Encoding.EncodeToString(pub[:])
}

// FromEncoded derives an Identity from a base64url-no-pad encoded secret key,
// as stored in the config file.
func FromEncoded(s string) (Identity, error) {
	secret, err := DecodeKey(s)
	if err != nil {
		return Identity{}, err
	}
	return FromSecretKey(secret), nil
}

// DecodeKey parses a base64url-no-pad encoded 32-byte key.
func DecodeKey(s string) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := base64Encoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("identity: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return out, ErrInvalidKeyLength
	}
	copy(out[:], raw)
	return out, nil
}
