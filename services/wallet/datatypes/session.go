// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"time"
)

// =============================================================================
// Session State Machine
// =============================================================================

// SessionState tracks the lifecycle of an authorization session.
//
// # Description
//
// A session moves strictly forward through the states:
//
//	Uninitialized → ChallengeIssued → Signed → Cached → Expired
//
// Expiry is lazy: a Cached session whose ExpiresAt has passed is treated
// as absent by the session manager rather than being swept by a
// background task.
type SessionState int

const (
	// SessionUninitialized is the zero value; no challenge exists yet.
	SessionUninitialized SessionState = iota

	// SessionChallengeIssued means a challenge message was generated and
	// is waiting for the principal's signature.
	SessionChallengeIssued

	// SessionSigned means the principal's signature has been attached
	// but the session has not yet been published to the cache.
	SessionSigned

	// SessionCached means the session is complete and reusable until
	// ExpiresAt.
	SessionCached

	// SessionExpired means ExpiresAt has passed. Expired sessions are
	// never returned by the manager.
	SessionExpired
)

// String returns the human-readable name of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionChallengeIssued:
		return "challenge_issued"
	case SessionSigned:
		return "signed"
	case SessionCached:
		return "cached"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// =============================================================================
// Session
// =============================================================================

// SessionKey identifies the one logical session cached per principal and
// encryption package.
type SessionKey struct {
	PrincipalAddress string
	PackageID        string
}

// Session is a short-lived, signature-bound authorization artifact proving
// a principal's right to request threshold decryption.
//
// # Description
//
// Session is an immutable value once published by the session manager.
// Callers receive a copy from GetOrCreate and pass it explicitly to the
// decrypt path; there is no shared "current session" field anywhere.
//
// # Fields
//
//   - PrincipalAddress: The principal the session authorizes.
//   - PackageID: The encryption package the session is bound to.
//   - IssuedChallenge: Challenge bytes the principal signs. Stable for
//     the lifetime of the session so signature requests are idempotent.
//   - Signature: The principal's signature over IssuedChallenge. Empty
//     until attached.
//   - State: Current lifecycle state.
//   - IssuedAt: When the challenge was generated.
//   - ExpiresAt: TTL deadline; the session is unusable afterwards.
type Session struct {
	PrincipalAddress string       `json:"principal_address"`
	PackageID        string       `json:"package_id"`
	IssuedChallenge  []byte       `json:"issued_challenge"`
	Signature        []byte       `json:"signature,omitempty"`
	State            SessionState `json:"state"`
	IssuedAt         time.Time    `json:"issued_at"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

// Key returns the cache key for this session.
func (s Session) Key() SessionKey {
	return SessionKey{PrincipalAddress: s.PrincipalAddress, PackageID: s.PackageID}
}

// ExpiredAt reports whether the session has passed its TTL at the given time.
func (s Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Usable reports whether the session can authorize a decrypt at the given
// time: it must be cached and unexpired.
func (s Session) Usable(now time.Time) bool {
	return s.State == SessionCached && !s.ExpiredAt(now)
}

// SameSignature reports whether sig is byte-identical to the session's
// attached signature. Re-attaching an identical signature is a no-op for
// the session manager, so equality here matters more than presence.
func (s Session) SameSignature(sig []byte) bool {
	return bytes.Equal(s.Signature, sig)
}
