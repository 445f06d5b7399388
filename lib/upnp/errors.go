// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package upnp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Failures reported by the gateway, translated from UPnP error codes.
// Which of these an operation can surface depends on the operation; see
// the per-operation translators below.
var (
	ErrActionNotAuthorized          = errors.New("the gateway refused to authorize the action")
	ErrNoSuchPortMapping            = errors.New("no such port mapping")
	ErrNoPortsAvailable             = errors.New("the gateway has no free external ports")
	ErrInternalPortZeroInvalid      = errors.New("an internal port of 0 is invalid")
	ErrExternalPortZeroInvalid      = errors.New("an external port of 0 is invalid")
	ErrPortInUse                    = errors.New("the requested mapping conflicts with one held by another client")
	ErrSamePortValuesRequired       = errors.New("the gateway requires equal internal and external ports")
	ErrOnlyPermanentLeasesSupported = errors.New("the gateway only supports permanent leases")
	ErrDescriptionTooLong           = errors.New("the mapping description is too long for the gateway")
)

// Failures detected on this side of the wire.
var (
	ErrInvalidResponse = errors.New("invalid response from gateway")
	ErrSearchTimeout   = errors.New("gateway search timed out")
)

// A UPnPError is a gateway-reported error code with no specific
// translation for the operation that triggered it.
type UPnPError struct {
	Code        int
	Description string
}

func (e *UPnPError) Error() string {
	return fmt.Sprintf("gateway response error %d: %s", e.Code, e.Description)
}

func getExternalIPFault(code int, desc string) error {
	switch code {
	case 401, 606:
		return ErrActionNotAuthorized
	}
	return &UPnPError{Code: code, Description: desc}
}

func addPortFault(code int, desc string) error {
	switch code {
	case 401, 606:
		return ErrActionNotAuthorized
	case 716:
		return ErrInternalPortZeroInvalid
	case 717:
		return ErrPortInUse
	case 724:
		return ErrSamePortValuesRequired
	case 725:
		return ErrOnlyPermanentLeasesSupported
	case 728:
		return ErrDescriptionTooLong
	}
	return &UPnPError{Code: code, Description: desc}
}

func addAnyPortFault(code int, desc string) error {
	switch code {
	case 401, 606:
		return ErrActionNotAuthorized
	case 715:
		return ErrNoPortsAvailable
	case 716:
		return ErrInternalPortZeroInvalid
	case 717:
		return ErrPortInUse
	case 724:
		return ErrSamePortValuesRequired
	case 725:
		return ErrOnlyPermanentLeasesSupported
	case 728:
		return ErrDescriptionTooLong
	}
	return &UPnPError{Code: code, Description: desc}
}

func removePortFault(code int, desc string) error {
	switch code {
	case 401, 606:
		return ErrActionNotAuthorized
	case 714:
		return ErrNoSuchPortMapping
	}
	return &UPnPError{Code: code, Description: desc}
}
