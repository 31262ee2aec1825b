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

// Package logging builds the agent's structured logger: a single global
// level, JSON or console output, sourced from a CLI flag with an environment
// variable fallback.
package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// EnvVar is the conventional environment variable consulted when --log isn't
// given on the command line.
const EnvVar = "CLUVIO_AGENT_LOG"

// New builds a logger from a level spec (trace, debug, info, warn, error).
// An empty spec defaults to "info". json selects JSON output; otherwise a
// human-readable console writer is used.
func New(spec string, json bool) (zerolog.Logger, error) {
	if spec == "" {
		spec = "info"
	}
	level, err := zerolog.ParseLevel(spec)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging: parse level %q: %w", spec, err)
	}

	var out zerolog.Logger
	if json {
		out = zerolog.New(os.Stderr)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	return out.Level(level).With().Timestamp().Logger(), nil
}

// ResolveSpec returns flagSpec if non-empty, else the value of EnvVar, else
// "" (letting New apply its own default).
func ResolveSpec(flagSpec string) string {
	if flagSpec != "" {
		return flagSpec
	}
	return os.Getenv(EnvVar)
}
