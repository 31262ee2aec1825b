package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	l, err := New("debug", true)
	require.NoError(t, err)
	assert.Equal(t, "debug", l.GetLevel().String())
}

func TestNewDefaultsToInfo(t *testing.T) {
	l, err := New("", true)
	require.NoError(t, err)
	assert.Equal(t, "info", l.GetLevel().String())
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose", true)
	assert.Error(t, err)
}

func TestResolveSpecPrefersFlagOverEnv(t *testing.T) {
	t.Setenv(EnvVar, "error")
	assert.Equal(t, "debug", ResolveSpec("debug"))
}

func TestResolveSpecFallsBackToEnv(t *testing.T) {
	t.Setenv(EnvVar, "warn")
	assert.Equal(t, "warn", ResolveSpec(""))
}

func TestResolveSpecEmptyWhenNeitherSet(t *testing.T) {
	os.Unsetenv(EnvVar)
	assert.Equal(t, "", ResolveSpec(""))
}
