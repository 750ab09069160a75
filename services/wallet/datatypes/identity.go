// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures shared across the wallet service.
//
// This file contains the encryption identity model. Identities are the
// byte-level names under which the threshold network encrypts content;
// the same logical identity must always serialize to the same bytes or
// previously encrypted content becomes unrecoverable.
package datatypes

import "time"

// =============================================================================
// Identity Kinds
// =============================================================================

// IdentityKind is the closed set of encryption identity schemes supported
// by the wallet.
//
// # Description
//
// Each kind maps to a distinct byte layout produced by the identity
// resolver. The set is closed by design: serialization and validation
// switch exhaustively over these values, and an unknown kind is a hard
// error rather than a silent default.
type IdentityKind int

const (
	// IdentitySelf scopes content to the owner address alone.
	IdentitySelf IdentityKind = iota

	// IdentityApp delegates access to a target application address.
	// The target address is embedded in the identity bytes.
	IdentityApp

	// IdentityTimeLocked scopes content behind an absolute unlock
	// timestamp. Decrypt-time policy on the threshold network compares
	// the embedded timestamp against current chain time.
	IdentityTimeLocked

	// IdentityRole scopes content to holders of a named role label.
	IdentityRole
)

// String returns the human-readable name of the identity kind.
func (k IdentityKind) String() string {
	switch k {
	case IdentitySelf:
		return "self"
	case IdentityApp:
		return "app"
	case IdentityTimeLocked:
		return "time_locked"
	case IdentityRole:
		return "role"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a member of the closed kind set.
func (k IdentityKind) Valid() bool {
	return k >= IdentitySelf && k <= IdentityRole
}

// ParseIdentityKind maps the wire name of a kind back to its value.
// The boolean is false for names outside the closed set.
func ParseIdentityKind(name string) (IdentityKind, bool) {
	switch name {
	case "self":
		return IdentitySelf, true
	case "app":
		return IdentityApp, true
	case "time_locked":
		return IdentityTimeLocked, true
	case "role":
		return IdentityRole, true
	default:
		return IdentityKind(-1), false
	}
}

// =============================================================================
// Identity
// =============================================================================

// Identity describes a logical encryption identity before serialization.
//
// # Description
//
// Identity is a value object. Only the fields relevant to Kind are
// consulted by the resolver:
//
//   - IdentitySelf: OwnerAddress
//   - IdentityApp: OwnerAddress, TargetAddress
//   - IdentityTimeLocked: OwnerAddress, ExpiresAt
//   - IdentityRole: OwnerAddress, Role
//
// The encryption package id is deliberately NOT part of Identity. It is
// a parallel input supplied to the threshold network alongside the
// identity bytes; embedding it here would change the byte layout and
// orphan existing ciphertexts.
type Identity struct {
	// Kind selects the identity scheme.
	Kind IdentityKind `json:"kind"`

	// OwnerAddress is the principal that owns the encrypted content.
	OwnerAddress string `json:"owner_address"`

	// TargetAddress is the delegated application address (IdentityApp only).
	TargetAddress string `json:"target_address,omitempty"`

	// ExpiresAt is the absolute unlock time (IdentityTimeLocked only).
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Role is the role label (IdentityRole only).
	Role string `json:"role,omitempty"`
}
