package sealedbox

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func genKeypair(t *testing.T) (priv, pub [KeySize]byte) {
	t.Helper()
	_, err := io.ReadFull(rand.Reader, priv[:])
	require.NoError(t, err)
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub
}

func TestSealUnsealRoundTrip(t *testing.T) {
	priv, pub := genKeypair(t)

	for _, size := range []int{1, 16, 32, 255, 1024} {
		m := make([]byte, size)
		_, err := io.ReadFull(rand.Reader, m)
		require.NoError(t, err)

		sealed, err := Seal(pub, m)
		require.NoError(t, err)
		assert.Len(t, sealed, size+Overhead)

		got, err := Unseal(priv, sealed)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestUnsealTamperedBlobFails(t *testing.T) {
	priv, pub := genKeypair(t)
	m := []byte("challenge-nonce-bytes")

	sealed, err := Seal(pub, m)
	require.NoError(t, err)

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0xFF
		_, err := Unseal(priv, tampered)
		assert.Errorf(t, err, "tampering byte %d should have been detected", i)
	}
}

func TestUnsealWrongKeyFails(t *testing.T) {
	_, pub := genKeypair(t)
	otherPriv, _ := genKeypair(t)

	sealed, err := Seal(pub, []byte("hello"))
	require.NoError(t, err)

	_, err = Unseal(otherPriv, sealed)
	assert.Error(t, err)
}

func TestUnsealTruncatedBlobFails(t *testing.T) {
	priv, _ := genKeypair(t)
	_, err := Unseal(priv, make([]byte, Overhead-1))
	assert.Error(t, err)
}
