// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package upnp

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestParseSearchResponse(t *testing.T) {
	cases := []struct {
		name string
		text string
		addr string
		path string
	}{
		{
			name: "lowercase key",
			text: "location:http://0.0.0.0:0/control_url",
			addr: "0.0.0.0:0",
			path: "/control_url",
		},
		{
			name: "uppercase key",
			text: "LOCATION:http://0.0.0.0:0/control_url",
			addr: "0.0.0.0:0",
			path: "/control_url",
		},
		{
			name: "full reply",
			text: "HTTP/1.1 200 OK\r\n" +
				"CACHE-CONTROL: max-age=300\r\n" +
				"ST: urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n" +
				"LoCaTiOn: http://192.168.1.1:5000/rootDesc.xml\r\n" +
				"USN: uuid:0000::urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n\r\n",
			addr: "192.168.1.1:5000",
			path: "/rootDesc.xml",
		},
		{
			name: "first match wins",
			text: "Location: http://10.0.0.1:80/first.xml\r\nLocation: http://10.0.0.2:80/second.xml\r\n",
			addr: "10.0.0.1:80",
			path: "/first.xml",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, path, err := parseSearchResponse(tc.text)
			if err != nil {
				t.Fatal(err)
			}
			if got := addr.String(); got != tc.addr {
				t.Errorf("address: got %s, want %s", got, tc.addr)
			}
			if path != tc.path {
				t.Errorf("path: got %s, want %s", path, tc.path)
			}
		})
	}
}

func TestParseSearchResponseInvalid(t *testing.T) {
	cases := []string{
		"",
		"HTTP/1.1 200 OK\r\nST: something\r\n\r\n",
		"Location: https://192.168.1.1:5000/desc.xml", // not plain http
		"Location: http://gateway.local:5000/desc.xml",
	}
	for _, text := range cases {
		if _, _, err := parseSearchResponse(text); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("%q: got %v, want ErrInvalidResponse", text, err)
		}
	}
}

// overrideSSDPAddr points the search datagram at a local socket for the
// duration of a test.
func overrideSSDPAddr(t *testing.T, addr *net.UDPAddr) {
	t.Helper()
	old := ssdpAddr
	ssdpAddr = addr
	t.Cleanup(func() { ssdpAddr = old })
}

func TestDiscoverTimeout(t *testing.T) {
	// A sink that never answers.
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	overrideSSDPAddr(t, sink.LocalAddr().(*net.UDPAddr))

	_, err = DiscoverFrom(context.Background(), netip.MustParseAddr("127.0.0.1"), 100*time.Millisecond)
	if !errors.Is(err, ErrSearchTimeout) {
		t.Fatalf("got %v, want ErrSearchTimeout", err)
	}
	if errors.Is(err, ErrInvalidResponse) {
		t.Fatal("timeout must not be reported as an invalid response")
	}
}

func TestDiscoverStalledDescriptionIsTimeout(t *testing.T) {
	// A gateway that starts streaming its description but never
	// finishes. Deadline expiry mid-document must surface as a timeout,
	// not as a malformed document.
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<root><device><serviceList>")
		w.(http.Flusher).Flush()
		<-stall
	}))
	defer srv.Close()
	defer close(stall)

	addr := netip.MustParseAddrPort(strings.TrimPrefix(srv.URL, "http://"))
	_, err := fetchControlURL(context.Background(), time.Now().Add(300*time.Millisecond), addr, "/rootDesc.xml")
	if !errors.Is(err, ErrSearchTimeout) {
		t.Fatalf("got %v, want ErrSearchTimeout", err)
	}
	if errors.Is(err, ErrInvalidResponse) {
		t.Fatal("deadline expiry must not be reported as a parse failure")
	}
}

func TestDiscoverInvalidUTF8Reply(t *testing.T) {
	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer responder.Close()
	overrideSSDPAddr(t, responder.LocalAddr().(*net.UDPAddr))

	go func() {
		buf := make([]byte, 2048)
		_, from, err := responder.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_, _ = responder.WriteToUDP([]byte{0xff, 0xfe, 0xfd}, from)
	}()

	_, err = DiscoverFrom(context.Background(), netip.MustParseAddr("127.0.0.1"), 2*time.Second)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("got %v, want ErrInvalidResponse", err)
	}
	if errors.Is(err, ErrSearchTimeout) {
		t.Fatal("a garbled reply must not be reported as a timeout")
	}
}

func TestDiscoverFindsGateway(t *testing.T) {
	const description = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<device>
<deviceType>urn:schemas-upnp-org:device:InternetGatewayDevice:1</deviceType>
<deviceList><device>
<deviceType>urn:schemas-upnp-org:device:WANDevice:1</deviceType>
<deviceList><device>
<deviceType>urn:schemas-upnp-org:device:WANConnectionDevice:1</deviceType>
<serviceList><service>
<serviceType>urn:schemas-upnp-org:service:WANIPConnection:1</serviceType>
<controlURL>/ctl/IPConn</controlURL>
</service></serviceList>
</device></deviceList>
</device></deviceList>
</device>
</root>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rootDesc.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(description))
	}))
	defer srv.Close()

	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer responder.Close()
	overrideSSDPAddr(t, responder.LocalAddr().(*net.UDPAddr))

	go func() {
		buf := make([]byte, 2048)
		n, from, err := responder.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !strings.HasPrefix(string(buf[:n]), "M-SEARCH * HTTP/1.1\r\n") {
			return
		}
		reply := "HTTP/1.1 200 OK\r\n" +
			"ST: urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n" +
			"LOCATION: " + srv.URL + "/rootDesc.xml\r\n\r\n"
		_, _ = responder.WriteToUDP([]byte(reply), from)
	}()

	gw, err := DiscoverFrom(context.Background(), netip.MustParseAddr("127.0.0.1"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	wantAddr := netip.MustParseAddrPort(strings.TrimPrefix(srv.URL, "http://"))
	if gw.Addr != wantAddr {
		t.Errorf("address: got %s, want %s", gw.Addr, wantAddr)
	}
	if gw.ControlURL != "/ctl/IPConn" {
		t.Errorf("control URL: got %s, want /ctl/IPConn", gw.ControlURL)
	}
	if want := "http://" + wantAddr.String() + "/ctl/IPConn"; gw.URL() != want {
		t.Errorf("URL: got %s, want %s", gw.URL(), want)
	}
}

func TestGatewayComparable(t *testing.T) {
	a := Gateway{Addr: netip.MustParseAddrPort("192.168.1.1:5000"), ControlURL: "/ctl"}
	b := Gateway{Addr: netip.MustParseAddrPort("192.168.1.1:5000"), ControlURL: "/ctl"}
	c := Gateway{Addr: netip.MustParseAddrPort("192.168.1.1:5000"), ControlURL: "/other"}

	if a != b {
		t.Error("equal gateways must compare equal")
	}
	if a == c {
		t.Error("gateways with different control URLs must differ")
	}

	seen := map[Gateway]bool{a: true}
	if !seen[b] {
		t.Error("equal gateways must hash alike")
	}
}
