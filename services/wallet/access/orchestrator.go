// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access orchestrates threshold decryption: it obtains an
// authorization session, builds the proof, submits the request to the
// threshold network, and classifies failures.
//
// # Failure Classification
//
// Policy rejections surface as ErrAccessDenied and are never retried;
// a denied proof stays denied. Session expiry surfaces as
// session.ErrSessionExpired and fails fast with no retry loop, since a
// session that has lapsed will never become valid again. Transport
// failures are retried with bounded exponential backoff (3 attempts,
// 1s base) and then surfaced as ErrNetwork. Authorization failures are
// always propagated, never swallowed: hiding them would mask a security
// decision.
//
// # Idempotence
//
// Retrying an identical (ciphertext, session) decrypt mutates no local
// state. The only side effect of a successful decrypt is that the
// session minted on the way in stays cached for reuse.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/identity"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
	"github.com/AleutianAI/AleutianVault/services/wallet/threshold"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAccessDenied means the threshold network's policy layer
	// rejected the authorization proof. Terminal.
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork wraps the last transport failure after retries are
	// exhausted.
	ErrNetwork = errors.New("threshold network unreachable")
)

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator coordinates sessions, proofs and the threshold client.
//
// # Thread Safety
//
// Safe for concurrent use; all fields are read-only after construction
// and the session manager handles its own locking.
type Orchestrator struct {
	sessions *session.Manager
	client   threshold.Client
	retry    RetryConfig
	clock    session.Clock
}

// NewOrchestrator creates a decrypt orchestrator.
//
// # Inputs
//
//   - sessions: The session manager. Required.
//   - client: The threshold network client. Required.
//   - retryCfg: Backoff configuration. Zero value uses defaults.
//   - clock: Time source; nil uses the system clock.
func NewOrchestrator(sessions *session.Manager, client threshold.Client, retryCfg RetryConfig, clock session.Clock) *Orchestrator {
	if retryCfg.MaxAttempts == 0 {
		retryCfg = DefaultRetryConfig()
	}
	if clock == nil {
		clock = session.SystemClock{}
	}
	return &Orchestrator{
		sessions: sessions,
		client:   client,
		retry:    retryCfg,
		clock:    clock,
	}
}

// Encrypt encrypts plaintext under the given identity via the threshold
// network. Thin passthrough: the identity bytes are built here so the
// write path has a single place that touches identity serialization.
func (o *Orchestrator) Encrypt(ctx context.Context, thresholdT int, packageID string, id datatypes.Identity, plaintext []byte) ([]byte, error) {
	identityBytes, err := identity.Build(id)
	if err != nil {
		return nil, err
	}
	return o.client.Encrypt(ctx, thresholdT, packageID, identityBytes, plaintext)
}

// Decrypt recovers plaintext for ciphertext on behalf of principal.
//
// # Description
//
// Obtains a session via the session manager's single entry point,
// builds a minimal authorization proof referencing the identity bytes
// (and, for app-delegated identities, the embedded target address), and
// submits the request. See the package comment for failure
// classification.
//
// # Inputs
//
//   - ctx: Context for cancellation; also bounds the retry loop.
//   - ciphertext: The threshold-encrypted content.
//   - id: The logical identity the content was encrypted under.
//   - principal: The requesting principal address.
//   - packageID: The encryption package id (parallel input to the
//     identity bytes, never embedded in them).
//   - signature: Optional signature for one-step session creation.
//
// # Outputs
//
//   - []byte: The plaintext. Callers owning long-lived plaintext should
//     prefer DecryptSealed.
//   - error: session.ErrSignatureRequired, session.ErrSessionExpired,
//     ErrAccessDenied, ErrNetwork, or identity build errors.
func (o *Orchestrator) Decrypt(ctx context.Context, ciphertext []byte, id datatypes.Identity, principal, packageID string, signature []byte) ([]byte, error) {
	buf, err := o.DecryptSealed(ctx, ciphertext, id, principal, packageID, signature)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// DecryptSealed is Decrypt but returns the plaintext in an mlocked
// buffer that never touches swap. The caller owns the buffer and must
// Destroy it.
func (o *Orchestrator) DecryptSealed(ctx context.Context, ciphertext []byte, id datatypes.Identity, principal, packageID string, signature []byte) (*memguard.LockedBuffer, error) {
	sess, err := o.sessions.GetOrCreate(principal, packageID, signature)
	if err != nil {
		return nil, err
	}

	identityBytes, err := identity.Build(id)
	if err != nil {
		return nil, err
	}

	// Known gap in the reference scheme: for app identities the proof
	// carries the embedded target address, but nothing here verifies
	// that the signing principal IS that target. On-chain permission
	// checks are the authoritative enforcement point; we log so the gap
	// is visible rather than silent.
	if id.Kind == datatypes.IdentityApp && principal != id.TargetAddress {
		slog.Warn("access.orchestrator: signing principal differs from app identity target; relying on on-chain enforcement",
			"principal", principal,
			"target", id.TargetAddress,
		)
	}

	proof := threshold.Proof{
		IdentityBytes:    identityBytes,
		PackageID:        packageID,
		PrincipalAddress: principal,
		SessionChallenge: sess.IssuedChallenge,
		SessionSignature: sess.Signature,
	}
	if id.Kind == datatypes.IdentityApp {
		proof.TargetAddress = id.TargetAddress
	}

	var plaintext []byte
	err = retry(ctx, o.retry, o.isRetryable, func(ctx context.Context, attempt int) error {
		// A session that lapses mid-flight will never become valid:
		// fail fast instead of burning the remaining attempts.
		if sess.ExpiredAt(o.clock.Now()) {
			return session.ErrSessionExpired
		}

		pt, err := o.client.Decrypt(ctx, ciphertext, proof)
		if err != nil {
			if attempt > 1 || errors.Is(err, threshold.ErrTransient) {
				slog.Warn("access.orchestrator: decrypt attempt failed",
					"principal", principal,
					"attempt", attempt,
					"error", err,
				)
			}
			return err
		}
		plaintext = pt
		return nil
	})
	if err != nil {
		return nil, o.classify(err)
	}

	// NewBufferFromBytes wipes the source slice.
	return memguard.NewBufferFromBytes(plaintext), nil
}

// isRetryable reports whether an error from the decrypt attempt should
// trigger another attempt. Only transport failures qualify.
func (o *Orchestrator) isRetryable(err error) bool {
	return errors.Is(err, threshold.ErrTransient)
}

// classify maps collaborator errors onto the package taxonomy.
func (o *Orchestrator) classify(err error) error {
	switch {
	case errors.Is(err, threshold.ErrAccessDenied):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case errors.Is(err, threshold.ErrTransient):
		return fmt.Errorf("%w after %d attempts: %v", ErrNetwork, o.retry.MaxAttempts, err)
	default:
		return err
	}
}
