// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackpal/gateway"
	"github.com/pkg/errors"
	"github.com/thejerf/suture/v4"
	"github.com/urfave/cli"

	"github.com/igd-go/igd/lib/nat"
	"github.com/igd-go/igd/lib/upnp"
)

func main() {
	app := cli.NewApp()
	app.Name = "igdctl"
	app.Usage = "Control a UPnP Internet Gateway Device"
	app.Flags = []cli.Flag{
		cli.DurationFlag{
			Name:  "timeout",
			Value: upnp.DefaultSearchTimeout,
			Usage: "gateway search timeout",
		},
		cli.StringFlag{
			Name:  "bind",
			Usage: "interface address to search from (default: all interfaces)",
		},
	}

	mappingFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "local",
			Usage: "local address to forward to (default: the interface facing the gateway)",
		},
		cli.DurationFlag{
			Name:  "lease",
			Value: time.Hour,
			Usage: "lease duration, 0 for permanent",
		},
		cli.StringFlag{
			Name:  "description",
			Value: "igdctl",
			Usage: "mapping description shown by the gateway",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "discover",
			Usage:  "Find the gateway and print its control URL",
			Action: runDiscover,
		},
		{
			Name:   "external-ip",
			Usage:  "Print the gateway's external IP address",
			Action: runExternalIP,
		},
		{
			Name:      "add-port",
			Usage:     "Map an external port to a local port",
			ArgsUsage: "PROTOCOL EXTERNAL-PORT INTERNAL-PORT",
			Flags:     mappingFlags,
			Action:    runAddPort,
		},
		{
			Name:      "add-any-port",
			Usage:     "Map some free external port to a local port",
			ArgsUsage: "PROTOCOL INTERNAL-PORT",
			Flags:     mappingFlags,
			Action:    runAddAnyPort,
		},
		{
			Name:      "remove-port",
			Usage:     "Remove the mapping of an external port",
			ArgsUsage: "PROTOCOL EXTERNAL-PORT",
			Action:    runRemovePort,
		},
		{
			Name:      "forward",
			Usage:     "Keep a mapping alive until interrupted",
			ArgsUsage: "PROTOCOL INTERNAL-PORT",
			Flags:     mappingFlags,
			Action:    runForward,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "igdctl:", err)
		os.Exit(1)
	}
}

func runDiscover(c *cli.Context) error {
	gw, err := discoverGateway(c)
	if err != nil {
		return err
	}
	fmt.Println(gw.URL())
	return nil
}

func runExternalIP(c *cli.Context) error {
	gw, err := discoverGateway(c)
	if err != nil {
		return err
	}
	ip, err := gw.GetExternalIP(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(ip)
	return nil
}

func runAddPort(c *cli.Context) error {
	if c.NArg() != 3 {
		return errors.New("usage: add-port PROTOCOL EXTERNAL-PORT INTERNAL-PORT")
	}
	protocol, err := parseProtocol(c.Args().Get(0))
	if err != nil {
		return err
	}
	externalPort, err := parsePort(c.Args().Get(1))
	if err != nil {
		return err
	}
	internalPort, err := parsePort(c.Args().Get(2))
	if err != nil {
		return err
	}
	local, err := localAddress(c, internalPort)
	if err != nil {
		return err
	}
	gw, err := discoverGateway(c)
	if err != nil {
		return err
	}
	if err := gw.AddPort(context.Background(), protocol, externalPort, local, c.Duration("lease"), c.String("description")); err != nil {
		return err
	}
	fmt.Printf("mapped %s:%d -> %s\n", protocol, externalPort, local)
	return nil
}

func runAddAnyPort(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: add-any-port PROTOCOL INTERNAL-PORT")
	}
	protocol, err := parseProtocol(c.Args().Get(0))
	if err != nil {
		return err
	}
	internalPort, err := parsePort(c.Args().Get(1))
	if err != nil {
		return err
	}
	local, err := localAddress(c, internalPort)
	if err != nil {
		return err
	}
	gw, err := discoverGateway(c)
	if err != nil {
		return err
	}
	ext, err := gw.GetAnyAddress(context.Background(), protocol, local, c.Duration("lease"), c.String("description"))
	if err != nil {
		return err
	}
	fmt.Printf("mapped %s:%s -> %s\n", protocol, ext, local)
	return nil
}

func runRemovePort(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: remove-port PROTOCOL EXTERNAL-PORT")
	}
	protocol, err := parseProtocol(c.Args().Get(0))
	if err != nil {
		return err
	}
	externalPort, err := parsePort(c.Args().Get(1))
	if err != nil {
		return err
	}
	gw, err := discoverGateway(c)
	if err != nil {
		return err
	}
	if err := gw.RemovePort(context.Background(), protocol, externalPort); err != nil {
		return err
	}
	fmt.Printf("removed %s:%d\n", protocol, externalPort)
	return nil
}

func runForward(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: forward PROTOCOL INTERNAL-PORT")
	}
	protocol, err := parseProtocol(c.Args().Get(0))
	if err != nil {
		return err
	}
	internalPort, err := parsePort(c.Args().Get(1))
	if err != nil {
		return err
	}
	local, err := localAddress(c, internalPort)
	if err != nil {
		return err
	}

	mapping := nat.NewMapping(protocol, local, c.String("description"))
	service := nat.NewService(mapping, c.Duration("lease"), c.GlobalDuration("timeout"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		for addr := range mapping.Subscribe() {
			if addr.IsValid() {
				fmt.Println("external address:", addr)
			}
		}
	}()

	supervisor := suture.NewSimple("igdctl")
	supervisor.Add(service)
	if err := supervisor.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func discoverGateway(c *cli.Context) (upnp.Gateway, error) {
	ctx := context.Background()
	timeout := c.GlobalDuration("timeout")
	if bind := c.GlobalString("bind"); bind != "" {
		addr, err := netip.ParseAddr(bind)
		if err != nil {
			return upnp.Gateway{}, errors.Wrap(err, "parsing bind address")
		}
		return upnp.DiscoverFrom(ctx, addr, timeout)
	}
	return upnp.Discover(ctx, timeout)
}

// localAddress resolves the address traffic should be forwarded to. When
// no --local flag is given the address of the interface facing the
// default gateway is used.
func localAddress(c *cli.Context, port uint16) (netip.AddrPort, error) {
	if s := c.String("local"); s != "" {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.AddrPort{}, errors.Wrap(err, "parsing local address")
		}
		return netip.AddrPortFrom(addr, port), nil
	}

	ip, err := gateway.DiscoverInterface()
	if err != nil {
		return netip.AddrPort{}, errors.Wrap(err, "finding local interface address")
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, errors.Errorf("unusable local interface address %v", ip)
	}
	return netip.AddrPortFrom(addr.Unmap(), port), nil
}

func parseProtocol(s string) (upnp.Protocol, error) {
	switch strings.ToUpper(s) {
	case "TCP":
		return upnp.TCP, nil
	case "UDP":
		return upnp.UDP, nil
	}
	return "", errors.Errorf("unknown protocol %q", s)
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing port %q", s)
	}
	return uint16(port), nil
}
