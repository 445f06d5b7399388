// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package nat keeps a NAT port mapping alive. A Service acquires a
// mapping on a discovered gateway, renews it before the lease expires,
// and retries conflicted external ports with fresh random candidates up
// to a bound. The retry policy deliberately lives here rather than in the
// upnp engine, which performs exactly one allocation attempt per call.
package nat

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/igd-go/igd/lib/upnp"
)

// A Mapping is the desired forwarding of traffic for a local address,
// together with the external address it currently resolves to.
type Mapping struct {
	protocol    upnp.Protocol
	local       netip.AddrPort
	description string

	mut      sync.RWMutex
	external netip.AddrPort
	subs     []chan netip.AddrPort
}

func NewMapping(protocol upnp.Protocol, local netip.AddrPort, description string) *Mapping {
	return &Mapping{
		protocol:    protocol,
		local:       local,
		description: description,
	}
}

// ExternalAddress returns the currently mapped external address, or the
// zero AddrPort when no mapping is in effect.
func (m *Mapping) ExternalAddress() netip.AddrPort {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return m.external
}

// Subscribe returns a channel on which every change of the external
// address is announced. Slow subscribers miss updates rather than block
// the renewal loop. The channel is closed when the Service driving the
// mapping shuts down.
func (m *Mapping) Subscribe() <-chan netip.AddrPort {
	m.mut.Lock()
	defer m.mut.Unlock()
	c := make(chan netip.AddrPort, 16)
	m.subs = append(m.subs, c)
	return c
}

func (m *Mapping) String() string {
	return fmt.Sprintf("%s/%s", m.local, m.protocol)
}

// close ends all subscription streams. The caller must not announce
// further changes afterwards.
func (m *Mapping) close() {
	m.mut.Lock()
	defer m.mut.Unlock()
	for _, c := range m.subs {
		close(c)
	}
	m.subs = nil
}

func (m *Mapping) setExternal(addr netip.AddrPort) {
	m.mut.Lock()
	defer m.mut.Unlock()
	if addr == m.external {
		return
	}
	m.external = addr
	for _, c := range m.subs {
		select {
		case c <- addr:
		default:
		}
	}
}
