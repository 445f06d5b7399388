// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package nat

import (
	"context"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"github.com/igd-go/igd/lib/upnp"
)

const (
	// maxAcquireAttempts bounds how many fresh external ports are tried
	// when the gateway reports a conflict.
	maxAcquireAttempts = 10
	// retryInterval is how long to wait after a failed round before
	// rediscovering the gateway and trying again.
	retryInterval = time.Minute
	// permanentRenewal is the re-assert interval for permanent leases,
	// guarding against gateways that drop mappings on reboot.
	permanentRenewal = 30 * time.Minute
)

// Service runs a loop that acquires and renews a single port mapping.
// It implements suture's Service interface and can equally be driven by
// a plain goroutine with a cancellable context.
type Service struct {
	mapping       *Mapping
	lease         time.Duration
	searchTimeout time.Duration

	gateway     upnp.Gateway
	haveGateway bool
}

func NewService(mapping *Mapping, lease, searchTimeout time.Duration) *Service {
	return &Service{
		mapping:       mapping,
		lease:         lease,
		searchTimeout: searchTimeout,
	}
}

func (s *Service) Serve(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(s.process(ctx))
		case <-ctx.Done():
			s.release()
			s.mapping.close()
			return ctx.Err()
		}
	}
}

// process performs one acquire-or-renew round and returns how long to
// wait before the next one.
func (s *Service) process(ctx context.Context) time.Duration {
	if !s.haveGateway {
		gw, err := upnp.Discover(ctx, s.searchTimeout)
		if err != nil {
			l.Infoln("Discovering gateway:", err)
			return retryInterval
		}
		l.Debugln("Using gateway", gw)
		s.gateway = gw
		s.haveGateway = true
	}

	if ext := s.mapping.ExternalAddress(); ext.IsValid() {
		err := s.renew(ctx, ext)
		if err == nil {
			return s.renewIn()
		}
		l.Infoln("Renewing", s.mapping, "->", ext, ":", err)
		s.mapping.setExternal(netip.AddrPort{})
	}

	if err := s.acquire(ctx); err != nil {
		l.Infoln("Acquiring mapping for", s.mapping, ":", err)
		// The gateway may have gone away or changed address; rediscover
		// on the next round.
		s.haveGateway = false
		return retryInterval
	}
	return s.renewIn()
}

// renew re-asserts the existing mapping on its current external port.
func (s *Service) renew(ctx context.Context, ext netip.AddrPort) error {
	err := s.gateway.AddPort(ctx, s.mapping.protocol, ext.Port(), s.mapping.local, s.lease, s.mapping.description)
	if err != nil {
		return err
	}
	l.Debugln("Renewed", s.mapping, "->", ext)
	return nil
}

// acquire maps a new external port, retrying conflicts with fresh random
// candidates up to maxAcquireAttempts.
func (s *Service) acquire(ctx context.Context) error {
	var err error
	for i := 0; i < maxAcquireAttempts; i++ {
		var port uint16
		port, err = s.gateway.AddAnyPort(ctx, s.mapping.protocol, s.mapping.local, s.lease, s.mapping.description)
		if err == nil {
			ip, ipErr := s.gateway.GetExternalIP(ctx)
			if ipErr != nil {
				l.Infoln("Getting external IP:", ipErr)
				ip = netip.IPv4Unspecified()
			}
			ext := netip.AddrPortFrom(ip, port)
			l.Infoln("Acquired mapping", s.mapping, "->", ext)
			s.mapping.setExternal(ext)
			return nil
		}
		if !errors.Is(err, upnp.ErrPortInUse) && !errors.Is(err, upnp.ErrSamePortValuesRequired) {
			return err
		}
		l.Debugln("Conflicting port for", s.mapping, ", drawing again:", err)
	}
	return err
}

// release removes the mapping on shutdown. Best effort; the lease will
// expire on its own if the gateway is unreachable.
func (s *Service) release() {
	ext := s.mapping.ExternalAddress()
	if !s.haveGateway || !ext.IsValid() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gateway.RemovePort(ctx, s.mapping.protocol, ext.Port()); err != nil {
		l.Infoln("Removing mapping", s.mapping, "->", ext, ":", err)
	}
	s.mapping.setExternal(netip.AddrPort{})
}

func (s *Service) renewIn() time.Duration {
	if s.lease <= 0 {
		return permanentRenewal
	}
	return s.lease / 2
}

func (s *Service) String() string {
	return "nat.Service(" + s.mapping.String() + ")"
}
