// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command walletctl is the operator CLI for a running AleutianVault
// wallet service.
//
// It drives the session handshake, checks service health, and inspects
// a local blob store directory for debugging.
package main

import (
	"log"
	"log/slog"

	"github.com/AleutianAI/AleutianVault/pkg/logging"
)

func main() {
	logger := logging.New(logging.Config{
		Service: "walletctl",
		LogDir:  "~/.aleutianvault/logs",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
