// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package threshold is the narrow contract to the external threshold
// encryption network.
//
// The wallet never performs IBE math itself. It encrypts under identity
// byte strings and decrypts by presenting a session-bound authorization
// proof; t-of-n key servers cooperate to recover the content key. This
// package defines the contract plus an HTTP client against the key-server
// gateway.
package threshold

import (
	"context"
	"errors"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAccessDenied means the network's policy check rejected the
	// proof. Terminal: retrying the same proof cannot succeed.
	ErrAccessDenied = errors.New("threshold network denied access")

	// ErrTransient marks transport-level failures (timeouts, 5xx,
	// connection resets) that are safe to retry.
	ErrTransient = errors.New("transient threshold network failure")
)

// =============================================================================
// Contract
// =============================================================================

// Proof is the minimal authorization artifact submitted with a decrypt.
//
// # Description
//
// The proof references the identity bytes the content was encrypted
// under and carries the session challenge/signature pair that proves the
// principal's right to ask. For app-delegated identities the embedded
// target address is included so the network's policy layer can check the
// delegation; the wallet does not verify locally that the signing
// principal equals that target (see access.Orchestrator).
type Proof struct {
	IdentityBytes    []byte `json:"identity_bytes"`
	PackageID        string `json:"package_id"`
	PrincipalAddress string `json:"principal_address"`
	SessionChallenge []byte `json:"session_challenge"`
	SessionSignature []byte `json:"session_signature"`
	TargetAddress    string `json:"target_address,omitempty"`
}

// Client is the contract every threshold network backend implements.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Encrypt encrypts plaintext under the given identity bytes.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout.
	//   - threshold: Minimum key servers required to decrypt (t of n).
	//   - packageID: Encryption package id. Parallel input, never part
	//     of the identity bytes.
	//   - identity: Canonical identity bytes from the identity package.
	//   - plaintext: Content to encrypt.
	//
	// # Outputs
	//
	//   - []byte: Ciphertext.
	//   - error: ErrTransient for retryable failures.
	Encrypt(ctx context.Context, threshold int, packageID string, identity []byte, plaintext []byte) ([]byte, error)

	// Decrypt recovers plaintext for ciphertext using the given proof.
	//
	// # Outputs
	//
	//   - []byte: Plaintext.
	//   - error: ErrAccessDenied on policy rejection (terminal),
	//     ErrTransient for retryable transport failures.
	Decrypt(ctx context.Context, ciphertext []byte, proof Proof) ([]byte, error)
}
