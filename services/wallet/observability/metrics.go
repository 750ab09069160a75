// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// wallet service.
//
// # Description
//
// Prometheus metrics covering the decrypt path, memory index
// resolution, and the session cache:
//   - Decrypt counters (by outcome)
//   - Resolution counters (by source: cache, explicit, principal,
//     enumerated, none)
//   - Session cache hit/miss counters
//   - Latency histograms for decrypt and resolve
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking. The helper methods tolerate a nil receiver so callers never
// have to branch on whether metrics were initialized.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for wallet metrics
const walletSubsystem = "wallet"

// WalletMetrics holds all Prometheus metrics for wallet operations.
//
// # Description
//
// Initialize once at startup via InitMetrics(). All helper methods are
// safe to call on a nil receiver; they become no-ops, which keeps
// metrics optional in tests and embedded deployments.
type WalletMetrics struct {
	// DecryptsTotal counts decrypt requests by outcome.
	// Labels: outcome (success, denied, expired, network, error)
	DecryptsTotal *prometheus.CounterVec

	// DecryptDurationSeconds measures end-to-end decrypt latency.
	// Labels: outcome
	DecryptDurationSeconds *prometheus.HistogramVec

	// ResolutionsTotal counts memory index resolutions by the source
	// that satisfied them.
	// Labels: source (cache, explicit, principal, enumerated, none)
	ResolutionsTotal *prometheus.CounterVec

	// ResolutionFallbacksTotal counts resolution steps that failed and
	// fell through to the next source.
	// Labels: step (explicit, principal, enumerated)
	ResolutionFallbacksTotal *prometheus.CounterVec

	// ResolveDurationSeconds measures resolution latency.
	// Labels: source
	ResolveDurationSeconds *prometheus.HistogramVec

	// SessionCacheTotal counts session cache lookups.
	// Labels: result (hit, miss)
	SessionCacheTotal *prometheus.CounterVec

	// MemoryWritesTotal counts memory save operations by outcome.
	// Labels: outcome (success, version_conflict, error)
	MemoryWritesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of WalletMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *WalletMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *WalletMetrics {
	DefaultMetrics = &WalletMetrics{
		DecryptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "decrypts_total",
				Help:      "Total decrypt requests by outcome",
			},
			[]string{"outcome"},
		),

		DecryptDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "decrypt_duration_seconds",
				Help:      "End-to-end decrypt latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
			},
			[]string{"outcome"},
		),

		ResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "resolutions_total",
				Help:      "Total memory index resolutions by satisfying source",
			},
			[]string{"source"},
		),

		ResolutionFallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "resolution_fallbacks_total",
				Help:      "Resolution steps that failed and fell through",
			},
			[]string{"step"},
		),

		ResolveDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "resolve_duration_seconds",
				Help:      "Memory index resolution latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"source"},
		),

		SessionCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "session_cache_total",
				Help:      "Session cache lookups by result",
			},
			[]string{"result"},
		),

		MemoryWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: walletSubsystem,
				Name:      "memory_writes_total",
				Help:      "Memory save operations by outcome",
			},
			[]string{"outcome"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// DecryptOutcome labels the result of a decrypt request.
type DecryptOutcome string

const (
	// DecryptSuccess means plaintext was returned.
	DecryptSuccess DecryptOutcome = "success"

	// DecryptDenied means the policy layer rejected the proof.
	DecryptDenied DecryptOutcome = "denied"

	// DecryptExpired means the session lapsed before completion.
	DecryptExpired DecryptOutcome = "expired"

	// DecryptNetwork means retries were exhausted on transport errors.
	DecryptNetwork DecryptOutcome = "network"

	// DecryptError is every other failure.
	DecryptError DecryptOutcome = "error"
)

// ResolutionSource labels which lookup satisfied a resolution.
type ResolutionSource string

const (
	// SourceCache means the principal's index ID was cached.
	SourceCache ResolutionSource = "cache"

	// SourceExplicit means the caller-supplied index ID resolved.
	SourceExplicit ResolutionSource = "explicit"

	// SourcePrincipal means the principal-keyed registry entry resolved.
	SourcePrincipal ResolutionSource = "principal"

	// SourceEnumerated means owner enumeration found the index.
	SourceEnumerated ResolutionSource = "enumerated"

	// SourceNone means no index exists for the principal.
	SourceNone ResolutionSource = "none"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordDecrypt records a completed decrypt request.
func (m *WalletMetrics) RecordDecrypt(outcome DecryptOutcome, seconds float64) {
	if m == nil {
		return
	}
	m.DecryptsTotal.WithLabelValues(string(outcome)).Inc()
	m.DecryptDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// RecordResolution records a completed memory index resolution.
func (m *WalletMetrics) RecordResolution(source ResolutionSource, seconds float64) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(string(source)).Inc()
	m.ResolveDurationSeconds.WithLabelValues(string(source)).Observe(seconds)
}

// RecordResolutionFallback records a resolution step that failed and
// fell through to the next source.
func (m *WalletMetrics) RecordResolutionFallback(step string) {
	if m == nil {
		return
	}
	m.ResolutionFallbacksTotal.WithLabelValues(step).Inc()
}

// RecordSessionCache records a session cache lookup.
func (m *WalletMetrics) RecordSessionCache(hit bool) {
	if m == nil {
		return
	}
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.SessionCacheTotal.WithLabelValues(result).Inc()
}

// RecordMemoryWrite records a memory save operation.
func (m *WalletMetrics) RecordMemoryWrite(outcome string) {
	if m == nil {
		return
	}
	m.MemoryWritesTotal.WithLabelValues(outcome).Inc()
}
