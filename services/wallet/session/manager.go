// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session manages per-principal authorization sessions used to
// unlock threshold-encrypted content.
//
// # Description
//
// One logical session is cached per (principal, package) pair. The
// lifecycle is a strict forward state machine: a challenge is issued,
// the principal signs it, the signed session is cached until its TTL
// lapses. Expiry is lazy: expired entries are detected and evicted on
// access rather than by a background sweeper.
//
// The cache is explicit, injected state owned by the Manager; its
// lifecycle is tied to service startup and shutdown. Nothing in this
// package is process-global.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Mutations for a given key are
// serialized (cold GetOrCreate additionally deduplicates via
// singleflight so two racing callers converge on one session); reads of
// unrelated keys do not block each other.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/observability"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrChallengeNotFound is returned when a signature arrives for a
	// (principal, package) pair that has no issued challenge.
	ErrChallengeNotFound = errors.New("no challenge issued for principal")

	// ErrSignatureAlreadySet is returned when a different signature is
	// attached to a session that already carries one. Re-attaching the
	// identical signature is a no-op, not an error.
	ErrSignatureAlreadySet = errors.New("a different signature is already attached")

	// ErrSignatureRequired is returned by GetOrCreate when no usable
	// session is cached and the caller supplied no signature to mint one.
	ErrSignatureRequired = errors.New("signature required to create session")

	// ErrSessionExpired signals that a session's TTL has lapsed. The
	// caller must re-authenticate with a fresh signature.
	ErrSessionExpired = errors.New("session expired, re-authentication required")
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds session manager configuration.
type Config struct {
	// TTL is how long a session stays usable after its challenge is
	// issued. Default: 30 minutes.
	TTL time.Duration

	// Metrics records cache hit/miss counters. May be nil.
	Metrics *observability.WalletMetrics
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute}
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns the session cache and the lifecycle transitions.
//
// # Fields
//
//   - sessions: The one-session-per-key cache. Guarded by mu.
//   - group: Deduplicates concurrent cold-path session creation per key.
//   - ttl: Session time-to-live.
//   - clock: Injected time source.
type Manager struct {
	mu       sync.RWMutex
	sessions map[datatypes.SessionKey]datatypes.Session
	group    singleflight.Group
	ttl      time.Duration
	clock    Clock
	metrics  *observability.WalletMetrics
}

// NewManager creates a session manager with the given configuration.
//
// # Inputs
//
//   - cfg: Manager configuration. Zero TTL uses the default.
//   - clock: Time source. Nil uses SystemClock.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager with an empty cache.
func NewManager(cfg Config, clock Clock) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager{
		sessions: make(map[datatypes.SessionKey]datatypes.Session),
		ttl:      cfg.TTL,
		clock:    clock,
		metrics:  cfg.Metrics,
	}
}

// GetChallenge returns the challenge the principal must sign.
//
// # Description
//
// If an unexpired session already exists for the key, whether still
// waiting for a signature or fully cached, its original challenge is
// returned unchanged, so a principal can re-derive the same signature
// request idempotently. Otherwise a fresh session is created in the
// challenge-issued state with a new random challenge and a TTL-bound
// expiry.
//
// # Inputs
//
//   - principal: The principal address requesting access.
//   - packageID: The encryption package the session will be bound to.
//
// # Outputs
//
//   - datatypes.Session: Session carrying IssuedChallenge to sign.
//   - error: Reserved; currently always nil.
func (m *Manager) GetChallenge(principal, packageID string) (datatypes.Session, error) {
	key := datatypes.SessionKey{PrincipalAddress: principal, PackageID: packageID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.lookupLocked(key); ok {
		return existing, nil
	}

	sess := m.issueLocked(key)
	slog.Debug("session.manager: challenge issued",
		"principal", principal,
		"package_id", packageID,
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// AttachSignature attaches the principal's signature to an issued challenge.
//
// # Description
//
// Transitions the session challenge-issued → signed → cached. Attaching
// the identical signature twice is a no-op so retried requests are safe;
// attaching a different signature to an already-signed session is an
// error because it would silently repoint an authorization artifact.
//
// # Inputs
//
//   - principal: The principal address.
//   - packageID: The encryption package id.
//   - signature: Signature over the session's IssuedChallenge.
//
// # Outputs
//
//   - datatypes.Session: The cached, usable session.
//   - error: ErrChallengeNotFound if no unexpired challenge exists;
//     ErrSignatureAlreadySet if a different signature is attached.
func (m *Manager) AttachSignature(principal, packageID string, signature []byte) (datatypes.Session, error) {
	key := datatypes.SessionKey{PrincipalAddress: principal, PackageID: packageID}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.lookupLocked(key)
	if !ok {
		return datatypes.Session{}, ErrChallengeNotFound
	}

	if len(sess.Signature) > 0 {
		if sess.SameSignature(signature) {
			return sess, nil
		}
		return datatypes.Session{}, ErrSignatureAlreadySet
	}

	sess.Signature = append([]byte(nil), signature...)
	sess.State = datatypes.SessionCached
	m.sessions[key] = sess

	slog.Debug("session.manager: signature attached",
		"principal", principal,
		"package_id", packageID,
	)
	return sess, nil
}

// GetOrCreate is the single session entry point used by the decrypt path.
//
// # Description
//
// Returns the cached session if one is usable. Otherwise, when a
// signature is supplied, it performs challenge-issue and attach in one
// step; without a signature the cold path fails with
// ErrSignatureRequired. Concurrent cold calls for the same key are
// collapsed through singleflight so both callers receive the same
// session rather than two divergent ones.
//
// # Inputs
//
//   - principal: The principal address.
//   - packageID: The encryption package id.
//   - signature: Optional signature enabling one-step creation. May be nil.
//
// # Outputs
//
//   - datatypes.Session: A usable cached session.
//   - error: ErrSignatureRequired when no session exists and no
//     signature was supplied.
//
// # Limitations
//
//   - The one-step path signs a challenge the caller never saw; it is
//     intended for principals whose signer is co-located (wallet SDKs).
func (m *Manager) GetOrCreate(principal, packageID string, signature []byte) (datatypes.Session, error) {
	key := datatypes.SessionKey{PrincipalAddress: principal, PackageID: packageID}

	// Fast path: shared read lock, no allocation.
	m.mu.RLock()
	sess, ok := m.sessions[key]
	now := m.clock.Now()
	m.mu.RUnlock()
	if ok && sess.Usable(now) {
		m.metrics.RecordSessionCache(true)
		return sess, nil
	}
	m.metrics.RecordSessionCache(false)

	// Cold path: collapse concurrent creators onto one flight.
	flightKey := principal + "\x00" + packageID
	v, err, _ := m.group.Do(flightKey, func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		// A racing flight may have populated the cache already.
		existing, found := m.lookupLocked(key)
		if found && existing.Usable(m.clock.Now()) {
			return existing, nil
		}

		if len(signature) == 0 {
			return nil, ErrSignatureRequired
		}

		// Attach to a live issued challenge if one exists; the caller's
		// signature is presumed to cover it. Otherwise issue and attach
		// in one step.
		sess := existing
		if !found {
			sess = m.issueLocked(key)
		}
		sess.Signature = append([]byte(nil), signature...)
		sess.State = datatypes.SessionCached
		m.sessions[key] = sess

		slog.Debug("session.manager: session created",
			"principal", principal,
			"package_id", packageID,
			"expires_at", sess.ExpiresAt,
		)
		return sess, nil
	})
	if err != nil {
		return datatypes.Session{}, err
	}
	return v.(datatypes.Session), nil
}

// Len returns the number of live (unexpired) sessions in the cache.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	n := 0
	for _, s := range m.sessions {
		if !s.ExpiredAt(now) {
			n++
		}
	}
	return n
}

// Close releases the cache. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[datatypes.SessionKey]datatypes.Session)
}

// =============================================================================
// Internal
// =============================================================================

// lookupLocked returns the live session for key, lazily evicting it if
// expired. Caller must hold mu (write lock: eviction mutates the map).
func (m *Manager) lookupLocked(key datatypes.SessionKey) (datatypes.Session, bool) {
	sess, ok := m.sessions[key]
	if !ok {
		return datatypes.Session{}, false
	}
	if sess.ExpiredAt(m.clock.Now()) {
		delete(m.sessions, key)
		slog.Debug("session.manager: expired session evicted",
			"principal", key.PrincipalAddress,
			"package_id", key.PackageID,
		)
		return datatypes.Session{}, false
	}
	return sess, true
}

// issueLocked creates and stores a fresh challenge-issued session.
// Caller must hold mu.
func (m *Manager) issueLocked(key datatypes.SessionKey) datatypes.Session {
	now := m.clock.Now()
	challenge := []byte("vault-session:" + key.PrincipalAddress + ":" + key.PackageID + ":" + uuid.NewString())

	sess := datatypes.Session{
		PrincipalAddress: key.PrincipalAddress,
		PackageID:        key.PackageID,
		IssuedChallenge:  challenge,
		State:            datatypes.SessionChallengeIssued,
		IssuedAt:         now,
		ExpiresAt:        now.Add(m.ttl),
	}
	m.sessions[key] = sess
	return sess
}
