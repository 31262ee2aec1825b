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

// Package whitelist evaluates upstream endpoints requested by the gateway
// against the agent's configured allow-list of CIDR nets, exact hostnames,
// and single-label wildcard patterns.
package whitelist

import (
	"fmt"
	"net"
	"strings"
)

// Address is a parsed upstream endpoint from an OpenStream request: either a
// literal IP or a DNS name, plus a port.
type Address struct {
	Host string // DNS name, only meaningful when IP is nil
	IP   net.IP // literal IP, nil if Host is a DNS name
	Port uint16
}

// ParseAddress parses "host:port" into an Address, classifying host as a
// literal IP or a DNS name.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("whitelist: parse address %q: %w", hostport, err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Address{}, fmt.Errorf("whitelist: parse port %q: %w", portStr, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		return Address{IP: ip, Port: port}, nil
	}
	return Address{Host: host, Port: port}, nil
}

// entryKind distinguishes the three AllowedAddress variants.
type entryKind int

const (
	kindCIDR entryKind = iota
	kindExact
	kindWildcard
)

// Entry is one AllowedAddress: a CIDR net, an exact hostname, or a
// "*.suffix" wildcard pattern.
type Entry struct {
	kind   entryKind
	cidr   *net.IPNet
	host   string // exact hostname, lowercased
	suffix string // wildcard suffix (without the "*." prefix), lowercased
}

// ParseEntry parses one whitelist source string, recognizing CIDR notation,
// a leading "*." wildcard, or else an exact hostname.
func ParseEntry(s string) (Entry, error) {
	if _, ipnet, err := net.ParseCIDR(s); err == nil {
		return Entry{kind: kindCIDR, cidr: ipnet}, nil
	}
	if strings.HasPrefix(s, "*.") {
		suffix := strings.ToLower(strings.TrimPrefix(s, "*."))
		if suffix == "" {
			return Entry{}, fmt.Errorf("whitelist: empty wildcard suffix in %q", s)
		}
		return Entry{kind: kindWildcard, suffix: suffix}, nil
	}
	return Entry{kind: kindExact, host: strings.ToLower(s)}, nil
}

// Whitelist is an ordered, immutable sequence of allow-list entries. A nil or
// empty Whitelist allows every address.
type Whitelist struct {
	entries []Entry
}

// New parses a list of whitelist source strings into a Whitelist.
func New(raw []string) (*Whitelist, error) {
	entries := make([]Entry, 0, len(raw))
	for _, s := range raw {
		e, err := ParseEntry(s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &Whitelist{entries: entries}, nil
}

// Allow reports whether addr is permitted. An empty whitelist allows
// everything. This check never performs DNS resolution or network I/O — it
// is pure string/bit comparison against the configured entries, and must run
// before any resolve or connect is attempted.
func (w *Whitelist) Allow(addr Address) bool {
	if w == nil || len(w.entries) == 0 {
		return true
	}
	for _, e := range w.entries {
		if e.matches(addr) {
			return true
		}
	}
	return false
}

func (e Entry) matches(addr Address) bool {
	switch e.kind {
	case kindCIDR:
		// DNS names never match a CIDR entry; no resolution is performed.
		return addr.IP != nil && e.cidr.Contains(addr.IP)
	case kindExact:
		return addr.IP == nil && strings.EqualFold(addr.Host, e.host)
	case kindWildcard:
		if addr.IP != nil {
			return false
		}
		return matchesWildcard(addr.Host, e.suffix)
	default:
		return false
	}
}

// matchesWildcard implements "*.suffix": the wildcard consumes exactly one
// non-empty leading label of host, and the remaining labels must equal
// suffix case-insensitively. "example.com" does not match "*.example.com",
// and neither does "a.b.example.com" — only exactly one extra label does.
func matchesWildcard(host, suffix string) bool {
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, "."+suffix) {
		return false
	}
	leadingLabel := strings.TrimSuffix(host, "."+suffix)
	if leadingLabel == "" || strings.Contains(leadingLabel, ".") {
		return false
	}
	return true
}
