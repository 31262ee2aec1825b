package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cluvio/agent/internal/identity"
)

func TestValidateRejectsMissingFields(t *testing.T) {
	fc := new(FileConfig)

	_, err := Validate(fc)
	assert.Error(t, err)

	id, err := identity.Generate()
	require.NoError(t, err)
	fc.SecretKey = identity.EncodePublicKey(id.SecretKey)

	_, err = Validate(fc)
	assert.Error(t, err, "still missing server.host")

	fc.Server.Host = "gateway.example.com"
	cfg, err := Validate(fc)
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultPort), cfg.GatewayPort)
	assert.Equal(t, "gateway.example.com", cfg.GatewayHost)
	assert.Nil(t, cfg.TrustedRoots)
}

func TestValidateChecksAgentKeyAgreesWithSecretKey(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	fc := &FileConfig{
		SecretKey: identity.EncodePublicKey(id.SecretKey),
		AgentKey:  identity.EncodePublicKey(other.PublicKey),
	}
	fc.Server.Host = "gateway.example.com"

	_, err = Validate(fc)
	assert.Error(t, err)

	fc.AgentKey = identity.EncodePublicKey(id.PublicKey)
	_, err = Validate(fc)
	assert.NoError(t, err)
}

func TestValidateParsesAllowedAddresses(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	fc := &FileConfig{
		SecretKey:        identity.EncodePublicKey(id.SecretKey),
		AllowedAddresses: []string{"10.0.0.0/8", "*.internal", "db.example.com"},
	}
	fc.Server.Host = "gateway.example.com"

	cfg, err := Validate(fc)
	require.NoError(t, err)
	require.NotNil(t, cfg.Whitelist)
}

func TestValidateRejectsBadAllowedAddress(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	fc := &FileConfig{
		SecretKey:        identity.EncodePublicKey(id.SecretKey),
		AllowedAddresses: []string{"*."},
	}
	fc.Server.Host = "gateway.example.com"

	_, err = Validate(fc)
	assert.Error(t, err)
}

func TestValidateRejectsInvalidTrustPEM(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	fc := &FileConfig{SecretKey: identity.EncodePublicKey(id.SecretKey)}
	fc.Server.Host = "gateway.example.com"
	fc.Server.Trust = "not a pem bundle"

	_, err = Validate(fc)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/cluvio-agent.toml")
	assert.Error(t, err)
}
