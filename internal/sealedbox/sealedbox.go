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

// Package sealedbox implements the anonymous sealed-box scheme used for the
// gateway's challenge to the agent: an ephemeral X25519 keypair, a BLAKE2b
// derived nonce, and ChaCha20-Poly1305 for authenticated encryption. It
// follows the shape of libsodium's crypto_box_seal but is not byte-compatible
// with it: the AEAD is ChaCha20-Poly1305 keyed directly with the X25519 shared
// secret, and only the first 12 bytes of the BLAKE2b-24 digest form the nonce.
package sealedbox

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the size in bytes of an X25519 key.
const KeySize = 32

// nonceSize is the BLAKE2b digest length used to derive the AEAD nonce,
// matching libsodium's crypto_box_seal (blake2b_24).
const nonceSize = 24

// CryptoError wraps any parsing, key-agreement, or AEAD verification failure.
// All such failures are reported uniformly so callers cannot distinguish
// "bad ciphertext" from "bad key" by timing or error shape.
type CryptoError struct {
	reason string
}

func (e *CryptoError) Error() string { return "sealedbox: " + e.reason }

func cryptoErr(reason string) error { return &CryptoError{reason: reason} }

// Overhead is the number of bytes a sealed blob adds beyond the plaintext:
// an ephemeral public key plus the Poly1305 tag.
const Overhead = KeySize + chacha20poly1305.Overhead

// Seal encrypts m for the recipient public key R, producing
// e_pk || chacha20poly1305_seal(x25519(e_sk, R), blake2b_24(e_pk||R), m).
func Seal(recipientPublicKey [KeySize]byte, m []byte) ([]byte, error) {
	var ephPriv, ephPub [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return nil, fmt.Errorf("sealedbox: generate ephemeral key: %w", err)
	}
	ephPriv[0] &= 248
	ephPriv[31] &= 127
	ephPriv[31] |= 64
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	shared, err := curve25519.X25519(ephPriv[:], recipientPublicKey[:])
	if err != nil {
		return nil, cryptoErr("ephemeral key agreement failed")
	}

	nonce, err := deriveNonce(ephPub, recipientPublicKey)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return nil, cryptoErr("create aead: " + err.Error())
	}

	out := make([]byte, KeySize, KeySize+len(m)+chacha20poly1305.Overhead)
	copy(out, ephPub[:])
	out = aead.Seal(out, nonce, m, nil)
	return out, nil
}

// Unseal recovers the plaintext sealed for recipient secretKey. It fails with
// a *CryptoError on truncation, invalid key agreement, or AEAD verification
// failure — any byte tampered with in blob causes this to fail.
func Unseal(secretKey [KeySize]byte, blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, cryptoErr("blob too short")
	}

	var ephPub [KeySize]byte
	copy(ephPub[:], blob[:KeySize])
	ciphertext := blob[KeySize:]

	var pub [KeySize]byte
	curve25519.ScalarBaseMult(&pub, &secretKey)

	shared, err := curve25519.X25519(secretKey[:], ephPub[:])
	if err != nil {
		return nil, cryptoErr("key agreement failed")
	}

	nonce, err := deriveNonce(ephPub, pub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(shared)
	if err != nil {
		return nil, cryptoErr("create aead: " + err.Error())
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, cryptoErr("authentication failed")
	}
	return plaintext, nil
}

// deriveNonce computes blake2b_24(ephemeralPublicKey || recipientPublicKey),
// truncated to the AEAD's 12-byte nonce size.
func deriveNonce(ephemeralPub, recipientPub [KeySize]byte) ([]byte, error) {
	h, err := blake2b.New(nonceSize, nil)
	if err != nil {
		return nil, cryptoErr("create blake2b hash: " + err.Error())
	}
	h.Write(ephemeralPub[:])
	h.Write(recipientPub[:])
	digest := h.Sum(nil)
	return digest[:chacha20poly1305.NonceSize], nil
}
