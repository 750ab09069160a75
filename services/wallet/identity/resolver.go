// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity builds canonical byte-level encryption identities.
//
// # Description
//
// The threshold network encrypts content under arbitrary identity byte
// strings instead of public keys. This package owns the byte layout for
// the four supported schemes. Determinism is the load-bearing invariant:
// the same logical identity must serialize byte-for-byte identically on
// every call, on every host, forever; otherwise existing ciphertexts
// become unrecoverable.
//
// The encryption package id is NOT part of the identity bytes. It is a
// parallel input passed to the threshold network next to the identity.
// Conflating the two is the most common integration bug; see the tests.
//
// # Thread Safety
//
// Build is pure: no side effects, no I/O, safe for concurrent use.
package identity

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// ErrUnsupportedIdentityKind is returned for kinds outside the closed set.
var ErrUnsupportedIdentityKind = errors.New("unsupported identity kind")

// ErrIncompleteIdentity is returned when a required field for the kind is
// missing (empty owner, missing target for app identities, and so on).
var ErrIncompleteIdentity = errors.New("incomplete identity")

// =============================================================================
// Byte Layouts
// =============================================================================

// Byte layouts per kind. These are wire-stable constants; changing any of
// them orphans every ciphertext encrypted under the old layout.
//
//	self:        <owner>
//	app:         app:<owner>:<target>
//	time_locked: time:<owner>:<unix-seconds>
//	role:        role:<owner>:<label>
const (
	appPrefix  = "app:"
	timePrefix = "time:"
	rolePrefix = "role:"
	separator  = ":"
)

// Build serializes an Identity to its canonical byte string.
//
// # Description
//
// Pure and deterministic. Validates that the fields required by the
// identity's kind are present, then emits the fixed layout for that kind.
// Time-locked identities encode ExpiresAt as unix seconds in decimal;
// sub-second precision is deliberately discarded so that two logically
// equal identities built from different clock sources stay byte-equal.
//
// # Inputs
//
//   - id: The logical identity to serialize.
//
// # Outputs
//
//   - []byte: Canonical identity bytes for the threshold network.
//   - error: ErrUnsupportedIdentityKind for unknown kinds,
//     ErrIncompleteIdentity when required fields are empty.
//
// # Examples
//
//	bytes, err := identity.Build(datatypes.Identity{
//	    Kind:          datatypes.IdentityApp,
//	    OwnerAddress:  "0xUSER",
//	    TargetAddress: "0xAPP",
//	})
//	// bytes == []byte("app:0xUSER:0xAPP")
func Build(id datatypes.Identity) ([]byte, error) {
	if id.OwnerAddress == "" {
		return nil, fmt.Errorf("%w: owner address is required", ErrIncompleteIdentity)
	}

	switch id.Kind {
	case datatypes.IdentitySelf:
		return []byte(id.OwnerAddress), nil

	case datatypes.IdentityApp:
		if id.TargetAddress == "" {
			return nil, fmt.Errorf("%w: app identity requires a target address", ErrIncompleteIdentity)
		}
		return []byte(appPrefix + id.OwnerAddress + separator + id.TargetAddress), nil

	case datatypes.IdentityTimeLocked:
		if id.ExpiresAt.IsZero() {
			return nil, fmt.Errorf("%w: time-locked identity requires an unlock time", ErrIncompleteIdentity)
		}
		ts := strconv.FormatInt(id.ExpiresAt.Unix(), 10)
		return []byte(timePrefix + id.OwnerAddress + separator + ts), nil

	case datatypes.IdentityRole:
		if id.Role == "" {
			return nil, fmt.Errorf("%w: role identity requires a role label", ErrIncompleteIdentity)
		}
		return []byte(rolePrefix + id.OwnerAddress + separator + id.Role), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIdentityKind, id.Kind)
	}
}
