// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// soapRequest posts a single SOAP action to the given control URL and
// returns the raw response body. Gateways report UPnP faults as HTTP 500
// with a fault body, so any completed HTTP exchange counts as a transport
// success regardless of status; callers decode faults themselves.
func soapRequest(ctx context.Context, url, function, message string) ([]byte, error) {
	const tpl = `<?xml version="1.0" ?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>%s</s:Body>
</s:Envelope>
`
	body := fmt.Sprintf(tpl, message)

	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, function)
	}
	req.Close = true
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	// Enforce capitalization in the header entry for sensitive routers.
	req.Header["SOAPAction"] = []string{fmt.Sprintf(`"%s#%s"`, urnWANIPConnection, function)}
	req.Header.Set("Connection", "Close")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	l.Debugf("SOAP request %s to %s:\n\n%s", function, url, body)

	r, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, function)
	}
	defer r.Body.Close()

	resp, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, function)
	}
	if !utf8.Valid(resp) {
		return nil, errors.Wrap(ErrInvalidResponse, function+": response body is not valid UTF-8")
	}

	l.Debugf("SOAP response to %s: %s\n\n%s", function, r.Status, resp)

	return resp, nil
}

// soapFault is the UPnP error detail carried in a SOAP fault body.
type soapFault struct {
	Code        int    `xml:"Body>Fault>detail>UPnPError>errorCode"`
	Description string `xml:"Body>Fault>detail>UPnPError>errorDescription"`
}

// faultCheck decodes a possible fault from a control response body and
// hands it to the operation's translator. A body carrying no fault is a
// success.
func faultCheck(resp []byte, translate func(code int, desc string) error) error {
	if len(bytes.TrimSpace(resp)) == 0 {
		return nil
	}
	var fault soapFault
	if err := xml.Unmarshal(resp, &fault); err != nil {
		return errors.Wrap(err, "decoding control response")
	}
	if fault.Code == 0 {
		return nil
	}
	return translate(fault.Code, fault.Description)
}
