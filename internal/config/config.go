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

// Package config loads and validates the agent's TOML configuration file:
// gateway endpoint, agent identity, and upstream whitelist.
package config

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"

	"github.com/cluvio/agent/internal/identity"
	"github.com/cluvio/agent/internal/whitelist"
)

// fileName is the config file's fixed basename across every search path.
const fileName = "cluvio-agent.toml"

// FileConfig is the raw TOML document shape, decoded verbatim before
// validation turns it into a Config.
type FileConfig struct {
	AgentKey         string   `toml:"agent-key"`
	SecretKey        string   `toml:"secret-key"`
	AllowedAddresses []string `toml:"allowed_addresses"`
	Server           struct {
		Host  string `toml:"host"`
		Port  uint16 `toml:"port"`
		Trust string `toml:"trust"`
	} `toml:"server"`
}

// Config is the validated, ready-to-use configuration.
type Config struct {
	Identity     identity.Identity
	GatewayHost  string
	GatewayPort  uint16
	TrustedRoots *x509.CertPool // nil means "use system roots"
	Whitelist    *whitelist.Whitelist
}

// Error reports a configuration problem: missing file, bad TOML, invalid key
// material, an invalid whitelist entry, or a bad trust bundle. Always
// fatal-for-process.
type Error struct {
	reason string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("config: %s: %v", e.reason, e.err)
	}
	return "config: " + e.reason
}

func (e *Error) Unwrap() error { return e.err }

func configErr(reason string, err error) error { return &Error{reason: reason, err: err} }

// DefaultPort is used when the config's [server] table omits port.
const DefaultPort = 443

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configErr("read "+path, err)
	}

	var fc FileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return nil, configErr("parse "+path, err)
	}

	return Validate(&fc)
}

// IsGroupOrWorldReadable reports whether path's permission bits grant
// group or world access, for callers that want to log a warning.
func IsGroupOrWorldReadable(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&0o077 != 0, nil
}

// Validate turns a decoded FileConfig into a Config, checking every
// cross-field invariant: secret key validity, agent-key agreement, whitelist
// entry syntax, trust bundle PEM, and server host presence.
func Validate(fc *FileConfig) (*Config, error) {
	if fc.SecretKey == "" {
		return nil, configErr("missing secret-key", nil)
	}
	id, err := identity.FromEncoded(fc.SecretKey)
	if err != nil {
		return nil, configErr("invalid secret-key", err)
	}

	if fc.AgentKey != "" {
		want, err := identity.DecodeKey(fc.AgentKey)
		if err != nil {
			return nil, configErr("invalid agent-key", err)
		}
		if want != id.PublicKey {
			return nil, configErr("agent-key does not match secret-key", nil)
		}
	}

	if fc.Server.Host == "" {
		return nil, configErr("missing server.host", nil)
	}
	port := fc.Server.Port
	if port == 0 {
		port = DefaultPort
	}

	var pool *x509.CertPool
	if fc.Server.Trust != "" {
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(fc.Server.Trust)) {
			return nil, configErr("invalid server.trust PEM", nil)
		}
	}

	wl, err := whitelist.New(fc.AllowedAddresses)
	if err != nil {
		return nil, configErr("invalid allowed_addresses", err)
	}

	return &Config{
		Identity:     id,
		GatewayHost:  fc.Server.Host,
		GatewayPort:  port,
		TrustedRoots: pool,
		Whitelist:    wl,
	}, nil
}

// SearchPaths returns, in priority order, the locations the agent looks for
// its config file when none is given explicitly on the command line.
func SearchPaths() []string {
	exeDir := executableDir()

	switch runtime.GOOS {
	case "windows":
		var paths []string
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, fileName))
		}
		if exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, fileName))
		}
		return paths

	case "darwin":
		var paths []string
		if exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, fileName))
		}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, "Library", "Application Support", fileName))
		}
		paths = append(paths, filepath.Join("/etc", fileName))
		return paths

	default: // linux and other Unix
		var paths []string
		if exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, fileName))
		}
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			paths = append(paths, filepath.Join(xdg, fileName))
		} else if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", fileName))
		}
		paths = append(paths, filepath.Join("/etc", fileName))
		return paths
	}
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		resolved = exe
	}
	return filepath.Dir(resolved)
}

// Find walks SearchPaths and returns the first one that exists.
func Find() (string, bool) {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
