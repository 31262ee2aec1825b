package whitelist

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyWhitelistAllowsAll(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)

	assert.True(t, w.Allow(Address{Host: "anything.example.org", Port: 22}))
	assert.True(t, w.Allow(Address{IP: net.ParseIP("192.168.1.5"), Port: 22}))
}

func TestCIDRMatchesOnlyLiteralIP(t *testing.T) {
	w, err := New([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	assert.True(t, w.Allow(Address{IP: net.ParseIP("10.1.2.3"), Port: 5432}))
	assert.False(t, w.Allow(Address{IP: net.ParseIP("192.168.1.5"), Port: 22}))
	// DNS names never match a CIDR entry, even if they'd resolve inside it.
	assert.False(t, w.Allow(Address{Host: "db.internal", Port: 5432}))
}

func TestExactHostnameCaseInsensitive(t *testing.T) {
	w, err := New([]string{"Db.Example.COM"})
	require.NoError(t, err)

	assert.True(t, w.Allow(Address{Host: "db.example.com", Port: 5432}))
	assert.True(t, w.Allow(Address{Host: "DB.EXAMPLE.COM", Port: 5432}))
	assert.False(t, w.Allow(Address{Host: "other.example.com", Port: 5432}))
}

func TestWildcardMatchesExactlyOneLabel(t *testing.T) {
	w, err := New([]string{"*.example.com"})
	require.NoError(t, err)

	assert.True(t, w.Allow(Address{Host: "db.example.com", Port: 5432}))
	assert.False(t, w.Allow(Address{Host: "example.com", Port: 5432}))
	assert.False(t, w.Allow(Address{Host: "a.b.example.com", Port: 5432}))
	assert.False(t, w.Allow(Address{IP: net.ParseIP("1.2.3.4"), Port: 5432}))
}

func TestAnyEntryMatchAllows(t *testing.T) {
	w, err := New([]string{"10.0.0.0/8", "*.example.com", "legacy-host"})
	require.NoError(t, err)

	assert.True(t, w.Allow(Address{IP: net.ParseIP("10.2.2.2"), Port: 1}))
	assert.True(t, w.Allow(Address{Host: "api.example.com", Port: 1}))
	assert.True(t, w.Allow(Address{Host: "legacy-host", Port: 1}))
	assert.False(t, w.Allow(Address{Host: "unrelated.org", Port: 1}))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:5432")
	require.NoError(t, err)
	assert.Equal(t, net.ParseIP("127.0.0.1"), addr.IP)
	assert.EqualValues(t, 5432, addr.Port)

	addr, err = ParseAddress("db.example.com:5432")
	require.NoError(t, err)
	assert.Nil(t, addr.IP)
	assert.Equal(t, "db.example.com", addr.Host)
}
