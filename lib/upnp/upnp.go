// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package upnp implements a client for the UPnP InternetGatewayDevice
// control protocol: SSDP discovery of the local gateway, extraction of the
// WAN connection service control URL from the device description, and SOAP
// control actions for querying the external address and managing NAT port
// mappings.
package upnp

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Protocol is the transport protocol of a port mapping.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// DefaultSearchTimeout is used by Discover and DiscoverFrom when the
// caller passes a zero timeout.
const DefaultSearchTimeout = 3 * time.Second

const ssdpSearch = "M-SEARCH * HTTP/1.1\r\n" +
	"Host:239.255.255.250:1900\r\n" +
	"ST:urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n" +
	"Man:\"ssdp:discover\"\r\n" +
	"MX:3\r\n\r\n"

var ssdpAddr = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}

// Discover searches for an InternetGatewayDevice on all interfaces.
func Discover(ctx context.Context, timeout time.Duration) (Gateway, error) {
	return DiscoverFrom(ctx, netip.IPv4Unspecified(), timeout)
}

// DiscoverFrom searches for an InternetGatewayDevice from the interface
// with the given address. A single search is sent and the first reply
// wins; the timeout bounds the whole sequence from socket bind through
// description fetch. Expiry surfaces as ErrSearchTimeout, distinct from
// the ErrInvalidResponse family.
func DiscoverFrom(ctx context.Context, bind netip.Addr, timeout time.Duration) (Gateway, error) {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	socket, err := net.ListenUDP("udp4", &net.UDPAddr{IP: bind.AsSlice()})
	if err != nil {
		return Gateway{}, errors.Wrap(err, "binding search socket")
	}
	defer socket.Close()

	if err := socket.SetDeadline(deadline); err != nil {
		return Gateway{}, errors.Wrap(err, "arming search deadline")
	}

	l.Debugln("Sending search request from", socket.LocalAddr())

	if _, err := socket.WriteToUDP([]byte(ssdpSearch), ssdpAddr); err != nil {
		return Gateway{}, searchErr(err, "sending search request")
	}

	resp := make([]byte, 1500)
	n, _, err := socket.ReadFromUDP(resp)
	if err != nil {
		return Gateway{}, searchErr(err, "awaiting search reply")
	}

	if !utf8.Valid(resp[:n]) {
		return Gateway{}, errors.Wrap(ErrInvalidResponse, "search reply is not valid UTF-8")
	}

	l.Debugln("Handling search reply:\n\n" + string(resp[:n]))

	addr, path, err := parseSearchResponse(string(resp[:n]))
	if err != nil {
		return Gateway{}, err
	}

	controlURL, err := fetchControlURL(ctx, deadline, addr, path)
	if err != nil {
		return Gateway{}, err
	}

	l.Debugln("Found gateway", addr, "with control URL", controlURL)

	return Gateway{Addr: addr, ControlURL: controlURL}, nil
}

var locationExp = regexp.MustCompile(`(?i)^location:\s*http://(\d+\.\d+\.\d+\.\d+):(\d+)(/[^\r]*)`)

// parseSearchResponse extracts the description document location from the
// text of a search reply. The Location header key matches in any letter
// case and the first matching line wins.
func parseSearchResponse(text string) (netip.AddrPort, string, error) {
	for _, line := range strings.Split(text, "\n") {
		m := locationExp.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ip, err := netip.ParseAddr(m[1])
		if err != nil {
			continue
		}
		port, err := strconv.ParseUint(m[2], 10, 16)
		if err != nil {
			continue
		}
		return netip.AddrPortFrom(ip, uint16(port)), m[3], nil
	}
	return netip.AddrPort{}, "", errors.Wrap(ErrInvalidResponse, "no location header in search reply")
}

// fetchControlURL retrieves the device description document and runs the
// control URL extraction over its body.
func fetchControlURL(ctx context.Context, deadline time.Time, addr netip.AddrPort, path string) (string, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", "http://"+addr.String()+path, nil)
	if err != nil {
		return "", errors.Wrap(err, "building description request")
	}
	req.Close = true

	r, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", searchErr(err, "fetching device description")
	}
	defer r.Body.Close()

	if r.StatusCode >= 400 {
		return "", errors.Wrap(ErrInvalidResponse, "description fetch: "+r.Status)
	}

	controlURL, err := parseControlURL(r.Body)
	if err != nil && ctx.Err() != nil {
		// The description stream died because the search deadline
		// expired, not because the document was malformed.
		return "", searchErr(ctx.Err(), "reading device description")
	}
	return controlURL, err
}

// searchErr distinguishes deadline expiry from other failures, so that a
// silent network is not reported as a malformed one.
func searchErr(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrSearchTimeout, msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrSearchTimeout, msg)
	}
	return errors.Wrap(err, msg)
}
