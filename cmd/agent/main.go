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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cluvio/agent/internal/config"
	"github.com/cluvio/agent/internal/identity"
	"github.com/cluvio/agent/internal/logging"
	"github.com/cluvio/agent/internal/supervisor"
	"github.com/cluvio/agent/internal/transport"
)

// Exit codes, per the run command's contract: 0 graceful, 1 configuration
// error, 2 unrecoverable startup error, 130 on SIGINT.
const (
	exitConfigError  = 1
	exitStartupError = 2
	exitInterrupted  = 130
)

func main() {
	app := &cli.App{
		Name:  "cluvio-agent",
		Usage: "bridge a private TCP upstream to the Cluvio gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to cluvio-agent.toml (default: searched in standard locations)",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "log level: trace, debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit logs as JSON instead of console-formatted text",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "setup",
				Usage:     "generate a fresh agent identity and starter config file",
				ArgsUsage: "PATH",
				Action:    runSetup,
			},
			{
				Name:   "show-agent-key",
				Usage:  "print the base64url-encoded public key for the configured identity",
				Action: runShowAgentKey,
			},
		},
		Action: runAgent,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// runAgent is the default action: load config, build the connection core,
// and run until a shutdown signal arrives.
func runAgent(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		found, ok := config.Find()
		if !ok {
			return &exitError{code: exitConfigError, err: fmt.Errorf("no config file found in any search path")}
		}
		path = found
	}

	cfg, err := config.Load(path)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	if readable, statErr := config.IsGroupOrWorldReadable(path); statErr == nil && readable {
		fmt.Fprintf(os.Stderr, "warning: %s is readable by group/other; tighten its permissions to 0600\n", path)
	}

	logger, err := logging.New(logging.ResolveSpec(c.String("log")), c.Bool("json"))
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	sup := supervisor.New(supervisor.Params{
		Identity: cfg.Identity,
		Transport: transport.Config{
			Host:         cfg.GatewayHost,
			Port:         cfg.GatewayPort,
			TrustedRoots: cfg.TrustedRoots,
		},
		Whitelist: cfg.Whitelist,
		Logger:    logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sig os.Signal
	go func() {
		sig = <-sigCh
		cancel()
	}()

	logger.Info().Str("gateway", fmt.Sprintf("%s:%d", cfg.GatewayHost, cfg.GatewayPort)).Msg("starting agent")

	if err := sup.Run(ctx); err != nil {
		return &exitError{code: exitStartupError, err: err}
	}

	if sig == syscall.SIGINT {
		logger.Info().Msg("interrupted")
		return &exitError{code: exitInterrupted, err: errors.New("interrupted")}
	}
	logger.Info().Msg("shut down")
	return nil
}

// runSetup generates a fresh identity and writes a starter config file to
// the given path, refusing to overwrite an existing one.
func runSetup(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = "cluvio-agent.toml"
	}

	if _, err := os.Stat(path); err == nil {
		return &exitError{code: exitConfigError, err: fmt.Errorf("%s already exists, refusing to overwrite", path)}
	} else if !os.IsNotExist(err) {
		return &exitError{code: exitStartupError, err: err}
	}

	id, err := identity.Generate()
	if err != nil {
		return &exitError{code: exitStartupError, err: err}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return &exitError{code: exitStartupError, err: err}
		}
	}

	contents := fmt.Sprintf(`agent-key = %q
secret-key = %q

allowed_addresses = []

[server]
host = "gateway.example.com"
port = 443
`, identity.EncodePublicKey(id.PublicKey), identity.EncodePublicKey(id.SecretKey))

	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return &exitError{code: exitStartupError, err: err}
	}

	fmt.Printf("wrote %s with a newly generated identity\n", path)
	fmt.Printf("agent public key: %s\n", identity.EncodePublicKey(id.PublicKey))
	fmt.Println("edit [server] and allowed_addresses before running the agent")
	return nil
}

// runShowAgentKey loads the configured identity and prints its public key.
func runShowAgentKey(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		found, ok := config.Find()
		if !ok {
			return &exitError{code: exitConfigError, err: fmt.Errorf("no config file found in any search path")}
		}
		path = found
	}

	cfg, err := config.Load(path)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	fmt.Println(identity.EncodePublicKey(cfg.Identity.PublicKey))
	return nil
}

// exitError carries the process exit code a failing command should produce.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitStartupError
}
