// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"github.com/pkg/errors"
)

// A Gateway identifies a discovered InternetGatewayDevice: the address
// its HTTP endpoint lives on and the path SOAP control requests are
// posted to. Gateways are plain comparable values. Every control action
// opens its own connection, so a Gateway may be used concurrently and
// repeatedly.
type Gateway struct {
	Addr       netip.AddrPort
	ControlURL string
}

// URL returns the full control endpoint URL.
func (g Gateway) URL() string {
	return "http://" + g.Addr.String() + g.ControlURL
}

func (g Gateway) String() string {
	return g.URL()
}

// GetExternalIP queries the gateway for its external IPv4 address.
func (g Gateway) GetExternalIP(ctx context.Context) (netip.Addr, error) {
	body := fmt.Sprintf(`<u:GetExternalIPAddress xmlns:u="%s"/>`, urnWANIPConnection)

	resp, err := soapRequest(ctx, g.URL(), "GetExternalIPAddress", body)
	if err != nil {
		return netip.Addr{}, err
	}
	if err := faultCheck(resp, getExternalIPFault); err != nil {
		return netip.Addr{}, err
	}

	var envelope struct {
		Address string `xml:"Body>GetExternalIPAddressResponse>NewExternalIPAddress"`
	}
	if err := xml.Unmarshal(resp, &envelope); err != nil {
		return netip.Addr{}, errors.Wrap(err, "decoding GetExternalIPAddress response")
	}

	addr, err := netip.ParseAddr(envelope.Address)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(ErrInvalidResponse, "external address %q", envelope.Address)
	}
	return addr, nil
}

// AddPort maps the given external port to the local address. A lease of 0
// requests a permanent mapping. Invalid ports are rejected before any
// network round trip.
func (g Gateway) AddPort(ctx context.Context, protocol Protocol, externalPort uint16, local netip.AddrPort, lease time.Duration, description string) error {
	if local.Port() == 0 {
		return ErrInternalPortZeroInvalid
	}
	if externalPort == 0 {
		return ErrExternalPortZeroInvalid
	}
	return g.addPortMapping(ctx, protocol, externalPort, local, lease, description, addPortFault)
}

// AddAnyPort maps some free external port to the local address and
// returns the port that was mapped. One random candidate in [1, 65534] is
// tried per call; on ErrPortInUse or ErrSamePortValuesRequired the caller
// decides whether to call again for a fresh candidate.
func (g Gateway) AddAnyPort(ctx context.Context, protocol Protocol, local netip.AddrPort, lease time.Duration, description string) (uint16, error) {
	if local.Port() == 0 {
		return 0, ErrInternalPortZeroInvalid
	}

	externalPort := uint16(1 + rand.Intn(65534))
	if err := g.addPortMapping(ctx, protocol, externalPort, local, lease, description, addAnyPortFault); err != nil {
		return 0, err
	}
	return externalPort, nil
}

// GetAnyAddress composes GetExternalIP and AddAnyPort into the external
// socket address of a fresh mapping. The external address is not
// re-checked after the mapping is made; the gateway offers no atomicity
// across the two actions.
func (g Gateway) GetAnyAddress(ctx context.Context, protocol Protocol, local netip.AddrPort, lease time.Duration, description string) (netip.AddrPort, error) {
	ip, err := g.GetExternalIP(ctx)
	if err != nil {
		return netip.AddrPort{}, errors.Wrap(err, "getting external IP")
	}
	port, err := g.AddAnyPort(ctx, protocol, local, lease, description)
	if err != nil {
		return netip.AddrPort{}, errors.Wrap(err, "adding port mapping")
	}
	return netip.AddrPortFrom(ip, port), nil
}

// RemovePort removes the mapping of the given external port.
func (g Gateway) RemovePort(ctx context.Context, protocol Protocol, externalPort uint16) error {
	const tpl = `<u:DeletePortMapping xmlns:u="%s">
<NewRemoteHost></NewRemoteHost>
<NewExternalPort>%d</NewExternalPort>
<NewProtocol>%s</NewProtocol>
</u:DeletePortMapping>`
	body := fmt.Sprintf(tpl, urnWANIPConnection, externalPort, protocol)

	resp, err := soapRequest(ctx, g.URL(), "DeletePortMapping", body)
	if err != nil {
		return err
	}
	return faultCheck(resp, removePortFault)
}

func (g Gateway) addPortMapping(ctx context.Context, protocol Protocol, externalPort uint16, local netip.AddrPort, lease time.Duration, description string, faults func(int, string) error) error {
	const tpl = `<u:AddPortMapping xmlns:u="%s">
<NewRemoteHost></NewRemoteHost>
<NewExternalPort>%d</NewExternalPort>
<NewProtocol>%s</NewProtocol>
<NewInternalPort>%d</NewInternalPort>
<NewInternalClient>%s</NewInternalClient>
<NewEnabled>1</NewEnabled>
<NewPortMappingDescription>%s</NewPortMappingDescription>
<NewLeaseDuration>%d</NewLeaseDuration>
</u:AddPortMapping>`
	body := fmt.Sprintf(tpl, urnWANIPConnection, externalPort, protocol, local.Port(), local.Addr(), description, int(lease/time.Second))

	resp, err := soapRequest(ctx, g.URL(), "AddPortMapping", body)
	if err != nil {
		return err
	}
	return faultCheck(resp, faults)
}
