package auth

import (
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cluvio/agent/internal/identity"
	"github.com/cluvio/agent/internal/sealedbox"
	"github.com/cluvio/agent/internal/wire"
)

func genIdentity(t *testing.T) identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

func TestRunSucceedsOnValidChallenge(t *testing.T) {
	id := genIdentity(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	nonce := make([]byte, 24)
	_, err := rand.Read(nonce)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serveAuth(serverConn, id.PublicKey, nonce, true)
	}()

	err = Run(clientConn, id)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
}

func TestRunFailsOnDenied(t *testing.T) {
	id := genIdentity(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	nonce := make([]byte, 24)
	_, err := rand.Read(nonce)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serveAuth(serverConn, id.PublicKey, nonce, false)
	}()

	err = Run(clientConn, id)
	assert.ErrorIs(t, err, DeniedError{})
	require.NoError(t, <-serverErr)
}

func TestRunFailsOnChallengeForWrongKey(t *testing.T) {
	id := genIdentity(t)
	otherID := genIdentity(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	nonce := make([]byte, 24)
	_, err := rand.Read(nonce)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		// seal for the wrong public key
		sealed, sealErr := sealedbox.Seal(otherID.PublicKey, nonce)
		if sealErr != nil {
			serverErr <- sealErr
			return
		}
		if err := wire.WriteFrame(serverConn, wire.NewAuthChallenge(sealed)); err != nil {
			serverErr <- err
			return
		}
		// the client should fail before sending a response; don't block forever.
		serverConn.SetReadDeadline(time.Now().Add(time.Second))
		_, _ = wire.ReadFrame(serverConn)
		serverErr <- nil
	}()

	err = Run(clientConn, id)
	require.Error(t, err)
	<-serverErr
}

// serveAuth plays the gateway side of the handshake against agent identity
// whose public key is pub, using the given nonce as the challenge payload.
func serveAuth(conn net.Conn, pub [sealedbox.KeySize]byte, nonce []byte, ok bool) error {
	sealed, err := sealedbox.Seal(pub, nonce)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, wire.NewAuthChallenge(sealed)); err != nil {
		return err
	}

	resp, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if resp.Type != wire.TypeAuthResponse {
		return io.ErrUnexpectedEOF
	}

	if ok {
		return wire.WriteFrame(conn, wire.NewAuthOk())
	}
	return wire.WriteFrame(conn, wire.NewAuthDenied())
}
