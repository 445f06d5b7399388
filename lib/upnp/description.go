// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package upnp

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	urnWANIPConnection  = "urn:schemas-upnp-org:service:WANIPConnection:1"
	urnWANPPPConnection = "urn:schemas-upnp-org:service:WANPPPConnection:1"
)

// parseControlURL streams through a device description document and
// returns the control URL of the first WANIPConnection or
// WANPPPConnection service, in document order. The document is consumed
// token by token, never materialized; a stack of open element names is
// enough to tell a service's own serviceType and controlURL apart from
// same-named elements belonging to nested sub-devices.
func parseControlURL(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var path []string
	var serviceType, controlURL strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", errors.Wrap(ErrInvalidResponse, "no usable service in device description")
		}
		if err != nil {
			return "", errors.Wrap(err, "parsing device description")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			path = append(path, t.Name.Local)
			if pathEndsWith(path, "device", "serviceList", "service") {
				// A new service block opens; accumulate afresh.
				serviceType.Reset()
				controlURL.Reset()
			}

		case xml.CharData:
			if pathEndsWith(path, "device", "serviceList", "service", "serviceType") {
				serviceType.Write(t)
			} else if pathEndsWith(path, "device", "serviceList", "service", "controlURL") {
				controlURL.Write(t)
			}

		case xml.EndElement:
			closed := path[len(path)-1]
			path = path[:len(path)-1]
			if closed != "service" || !pathEndsWith(path, "device", "serviceList") {
				continue
			}
			urn := strings.TrimSpace(serviceType.String())
			url := strings.TrimSpace(controlURL.String())
			if (urn == urnWANIPConnection || urn == urnWANPPPConnection) && url != "" {
				return url, nil
			}
		}
	}
}

func pathEndsWith(path []string, tail ...string) bool {
	if len(path) < len(tail) {
		return false
	}
	off := len(path) - len(tail)
	for i, name := range tail {
		if path[off+i] != name {
			return false
		}
	}
	return true
}
