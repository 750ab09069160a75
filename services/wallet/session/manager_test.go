// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/observability"
)

func newTestManager(t *testing.T) (*Manager, *ManualClock) {
	t.Helper()
	clock := NewManualClock(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	m := NewManager(Config{TTL: 10 * time.Minute}, clock)
	t.Cleanup(m.Close)
	return m, clock
}

// TestGetChallenge_IdempotentWithinTTL covers the property that repeated
// challenge requests within the TTL return identical challenge bytes, so
// a principal can re-derive the same signature request.
func TestGetChallenge_IdempotentWithinTTL(t *testing.T) {
	m, clock := newTestManager(t)

	first, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)
	require.NotEmpty(t, first.IssuedChallenge)
	assert.Equal(t, datatypes.SessionChallengeIssued, first.State)

	clock.Advance(5 * time.Minute)

	second, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)
	assert.Equal(t, first.IssuedChallenge, second.IssuedChallenge)
}

func TestGetChallenge_FreshAfterExpiry(t *testing.T) {
	m, clock := newTestManager(t)

	first, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	second, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.IssuedChallenge, second.IssuedChallenge)
}

func TestGetChallenge_DistinctPerPackage(t *testing.T) {
	m, _ := newTestManager(t)

	a, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)
	b, err := m.GetChallenge("0xUSER", "pkg-2")
	require.NoError(t, err)

	assert.NotEqual(t, a.IssuedChallenge, b.IssuedChallenge)
}

func TestAttachSignature_Transitions(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)

	sess, err := m.AttachSignature("0xUSER", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionCached, sess.State)
	assert.Equal(t, []byte("sig-a"), sess.Signature)
}

func TestAttachSignature_NoChallenge(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.AttachSignature("0xUSER", "pkg-1", []byte("sig-a"))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestAttachSignature_ExpiredChallengeTreatedAsAbsent(t *testing.T) {
	m, clock := newTestManager(t)

	_, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	_, err = m.AttachSignature("0xUSER", "pkg-1", []byte("sig-a"))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

// TestAttachSignature_Idempotence covers both halves of the contract:
// re-attaching the identical signature is a no-op, attaching a different
// one is an error.
func TestAttachSignature_Idempotence(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)

	first, err := m.AttachSignature("0xUSER", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)

	again, err := m.AttachSignature("0xUSER", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = m.AttachSignature("0xUSER", "pkg-1", []byte("sig-b"))
	assert.ErrorIs(t, err, ErrSignatureAlreadySet)
}

func TestGetOrCreate_RequiresSignatureOnColdPath(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetOrCreate("0xUSER", "pkg-1", nil)
	assert.ErrorIs(t, err, ErrSignatureRequired)
}

func TestGetOrCreate_OneStepCreation(t *testing.T) {
	m, _ := newTestManager(t)

	sess, err := m.GetOrCreate("0xUSER", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)
	assert.Equal(t, datatypes.SessionCached, sess.State)

	// Subsequent calls hit the cache without needing the signature again.
	cached, err := m.GetOrCreate("0xUSER", "pkg-1", nil)
	require.NoError(t, err)
	assert.Equal(t, sess.IssuedChallenge, cached.IssuedChallenge)
}

func TestGetOrCreate_AttachesToIssuedChallenge(t *testing.T) {
	m, _ := newTestManager(t)

	issued, err := m.GetChallenge("0xUSER", "pkg-1")
	require.NoError(t, err)

	sess, err := m.GetOrCreate("0xUSER", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)
	assert.Equal(t, issued.IssuedChallenge, sess.IssuedChallenge,
		"one-step creation must not discard a live issued challenge")
}

func TestGetOrCreate_ExpiredSessionIsAbsent(t *testing.T) {
	m, clock := newTestManager(t)

	_, err := m.GetOrCreate("0xUSER", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	_, err = m.GetOrCreate("0xUSER", "pkg-1", nil)
	assert.ErrorIs(t, err, ErrSignatureRequired)
}

// TestGetOrCreate_ConcurrentCallsConverge covers the property that two
// parallel GetOrCreate calls for the same key yield the same cached
// session rather than two divergent ones.
func TestGetOrCreate_ConcurrentCallsConverge(t *testing.T) {
	m, _ := newTestManager(t)

	const goroutines = 32
	results := make([]datatypes.Session, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = m.GetOrCreate("0xUSER", "pkg-1", []byte("sig-a"))
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].IssuedChallenge, results[i].IssuedChallenge)
		assert.Equal(t, results[0].ExpiresAt, results[i].ExpiresAt)
	}
	assert.Equal(t, 1, m.Len())
}

func TestGetOrCreate_UnrelatedKeysIndependent(t *testing.T) {
	m, _ := newTestManager(t)

	a, err := m.GetOrCreate("0xALICE", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)
	b, err := m.GetOrCreate("0xBOB", "pkg-1", []byte("sig-b"))
	require.NoError(t, err)

	assert.NotEqual(t, a.IssuedChallenge, b.IssuedChallenge)
	assert.Equal(t, 2, m.Len())
}

func TestLen_CountsOnlyLiveSessions(t *testing.T) {
	m, clock := newTestManager(t)

	_, err := m.GetOrCreate("0xALICE", "pkg-1", []byte("sig-a"))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = m.GetOrCreate("0xBOB", "pkg-1", []byte("sig-b"))
	require.NoError(t, err)

	clock.Advance(6 * time.Minute) // alice expired, bob live
	assert.Equal(t, 1, m.Len())
}

func TestGetOrCreate_RecordsCacheHitsAndMisses(t *testing.T) {
	// Unregistered counter so the test never touches the global registry.
	metrics := &observability.WalletMetrics{
		SessionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "session_cache_total"},
			[]string{"result"},
		),
	}
	clock := NewManualClock(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	m := NewManager(Config{TTL: 10 * time.Minute, Metrics: metrics}, clock)
	t.Cleanup(m.Close)

	_, err := m.GetOrCreate("0xUSER", "pkg-1", []byte("sig")) // cold
	require.NoError(t, err)
	_, err = m.GetOrCreate("0xUSER", "pkg-1", nil) // cached
	require.NoError(t, err)
	_, err = m.GetOrCreate("0xUSER", "pkg-1", nil) // cached
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SessionCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionCacheTotal.WithLabelValues("miss")))

	// A lapsed session is a miss even when creation then fails.
	clock.Advance(11 * time.Minute)
	_, err = m.GetOrCreate("0xUSER", "pkg-1", nil)
	assert.ErrorIs(t, err, ErrSignatureRequired)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SessionCacheTotal.WithLabelValues("miss")))
}
