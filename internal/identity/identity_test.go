package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesValidCurvePoint(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, [KeySize]byte{}, id.PublicKey)

	again := FromSecretKey(id.SecretKey)
	assert.Equal(t, id.PublicKey, again.PublicKey, "deriving from the same secret key is deterministic")
}

func TestClampEnforcesRFC7748Bits(t *testing.T) {
	secret := [KeySize]byte{}
	for i := range secret {
		secret[i] = 0xFF
	}
	id := FromSecretKey(secret)
	assert.Equal(t, byte(0), id.SecretKey[0]&0x07, "low 3 bits of byte 0 must be cleared")
	assert.Equal(t, byte(0), id.SecretKey[31]&0x80, "high bit of byte 31 must be cleared")
	assert.Equal(t, byte(0x40), id.SecretKey[31]&0x40, "second-highest bit of byte 31 must be set")
}

func TestEncodeDecodePublicKeyRoundTrips(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	encoded := EncodePublicKey(id.PublicKey)
	decoded, err := DecodeKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey, decoded)
}

func TestDecodeKeyRejectsWrongLength(t *testing.T) {
	_, err := DecodeKey(EncodePublicKey([KeySize]byte{}) + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDecodeKeyRejectsInvalidBase64(t *testing.T) {
	_, err := DecodeKey("not valid base64!!")
	assert.Error(t, err)
}

func TestFromEncodedRoundTripsWithSecretKey(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	encoded := EncodePublicKey(id.SecretKey)
	decoded, err := FromEncoded(encoded)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey, decoded.PublicKey)
}
