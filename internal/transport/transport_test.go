package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxConfigSetsWindowAndKeepalive(t *testing.T) {
	cfg := muxConfig()
	assert.Equal(t, uint32(MaxStreamWindow), cfg.MaxStreamWindowSize)
	assert.True(t, cfg.EnableKeepAlive)
}

func TestDialAndUpgradeFailsOnUnresolvableHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := DialAndUpgrade(ctx, Config{Host: "this-host-does-not-resolve.invalid", Port: 443})
	require.Error(t, err)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestDialAndUpgradeFailsOnTLSHandshakeAgainstPlainTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.Read(buf) // absorb the ClientHello, never respond with a ServerHello
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err = DialAndUpgrade(ctx, Config{Host: host, Port: uint16(portNum)})
	require.Error(t, err)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}
