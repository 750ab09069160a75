// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL string // Wallet service base URL
	principal string // Principal address sent as X-Principal-Address

	rootCmd = &cobra.Command{
		Use:   "walletctl",
		Short: "A cli to operate and inspect an AleutianVault wallet service",
		Long: `Walletctl drives the session handshake against a running wallet
service and inspects local blob store contents for debugging.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		defaultServerURL(), "Wallet service base URL")
	rootCmd.PersistentFlags().StringVarP(&principal, "principal", "p", "",
		"Principal address (sent as X-Principal-Address)")

	sessionCmd.AddCommand(sessionChallengeCmd)
	sessionCmd.AddCommand(sessionSignCmd)

	blobCmd.AddCommand(blobHasCmd)
	blobCmd.AddCommand(blobGetCmd)
	blobCmd.AddCommand(blobPutCmd)

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(blobCmd)
}

// defaultServerURL prefers the env var so containerized operators do
// not have to repeat --server on every invocation.
func defaultServerURL() string {
	if url := os.Getenv("WALLET_SERVICE_URL"); url != "" {
		return url
	}
	return "http://localhost:12310"
}
