// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command wallet starts the AleutianVault personal data wallet HTTP
// server.
//
// This is the main entry point for the containerized wallet service.
// It reads configuration from environment variables and starts the
// server.
//
// # Environment Variables
//
//   - WALLET_PORT: HTTP server port (default: 12310)
//   - THRESHOLD_GATEWAY_URL: Threshold key-server gateway URL (required)
//   - LEDGER_SERVICE_URL: Pointer registry URL (optional; in-process when empty)
//   - WALLET_BLOB_PATH: Local Badger blob directory (default: ./data/wallet-blobs)
//   - WALLET_GCS_BUCKET: GCS bucket for blobs (optional; overrides Badger)
//   - WALLET_GCS_KEY_PATH: GCS service-account key file (optional)
//   - EXTRACTOR_BACKEND: Entity extraction - ollama, openai, heuristic, none (default: heuristic)
//   - EXTRACTOR_MODEL: Model name for LLM-backed extraction
//   - OLLAMA_SERVICE_URL: Ollama server URL for the ollama backend
//   - SESSION_TTL_MINUTES: Session lifetime in minutes (default: 30)
//   - ENCRYPT_THRESHOLD: t parameter for threshold encryption (default: 2)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - ENABLE_METRICS: Prometheus metrics endpoint (default: true)
//
// # Usage
//
//	# Build
//	go build -o wallet ./cmd/wallet
//
//	# Run
//	THRESHOLD_GATEWAY_URL=http://keyservers:9000 ./wallet
//
//	# Or via container
//	podman-compose up wallet
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianVault/services/wallet"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := wallet.Config{
		Port:             getEnvInt("WALLET_PORT", 12310),
		ThresholdURL:     os.Getenv("THRESHOLD_GATEWAY_URL"),
		LedgerURL:        os.Getenv("LEDGER_SERVICE_URL"),
		BlobStorePath:    getEnvString("WALLET_BLOB_PATH", "./data/wallet-blobs"),
		GCSBucket:        os.Getenv("WALLET_GCS_BUCKET"),
		GCSKeyPath:       os.Getenv("WALLET_GCS_KEY_PATH"),
		ExtractorBackend: getEnvString("EXTRACTOR_BACKEND", "heuristic"),
		ExtractorModel:   os.Getenv("EXTRACTOR_MODEL"),
		OllamaURL:        os.Getenv("OLLAMA_SERVICE_URL"),
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		EncryptThreshold: getEnvInt("ENCRYPT_THRESHOLD", 2),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
	}

	slog.Info("Starting wallet",
		"port", cfg.Port,
		"threshold_url", cfg.ThresholdURL,
		"ledger_url", cfg.LedgerURL,
		"extractor_backend", cfg.ExtractorBackend,
	)

	svc, err := wallet.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create wallet: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Wallet error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
