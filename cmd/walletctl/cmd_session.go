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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	sessionPackageID     string // Encryption package the session is bound to
	sessionSignature     string // Signature over the challenge, base64
	sessionSignatureFile string // File holding raw signature bytes
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive the wallet session handshake",
}

// sessionChallengeCmd requests the challenge for a principal/package
// pair. The caller signs the printed challenge bytes out of band, then
// attaches the signature with `session sign`.
//
// # Examples
//
//	walletctl session challenge -p 0xOWNER --package pkg-1
var sessionChallengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Request the session challenge for a principal and package",
	RunE:  runSessionChallenge,
}

// sessionSignCmd attaches a signature to the live challenge.
//
// # Examples
//
//	walletctl session sign -p 0xOWNER --package pkg-1 --signature <base64>
//	walletctl session sign -p 0xOWNER --package pkg-1 --signature-file sig.bin
var sessionSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Attach a signature to the live session challenge",
	RunE:  runSessionSign,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	sessionChallengeCmd.Flags().StringVar(&sessionPackageID, "package", "",
		"Encryption package id (required)")
	_ = sessionChallengeCmd.MarkFlagRequired("package")

	sessionSignCmd.Flags().StringVar(&sessionPackageID, "package", "",
		"Encryption package id (required)")
	sessionSignCmd.Flags().StringVar(&sessionSignature, "signature", "",
		"Base64 signature over the challenge")
	sessionSignCmd.Flags().StringVar(&sessionSignatureFile, "signature-file", "",
		"File holding raw signature bytes (alternative to --signature)")
	_ = sessionSignCmd.MarkFlagRequired("package")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runSessionChallenge(cmd *cobra.Command, args []string) error {
	body, err := postJSON("/v1/sessions/challenge", map[string]string{
		"package_id": sessionPackageID,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func runSessionSign(cmd *cobra.Command, args []string) error {
	signature := sessionSignature
	if signature == "" && sessionSignatureFile != "" {
		raw, err := os.ReadFile(sessionSignatureFile)
		if err != nil {
			return fmt.Errorf("failed to read signature file: %w", err)
		}
		signature = base64.StdEncoding.EncodeToString(raw)
	}
	if signature == "" {
		return fmt.Errorf("one of --signature or --signature-file is required")
	}

	body, err := postJSON("/v1/sessions/signature", map[string]string{
		"package_id": sessionPackageID,
		"signature":  signature,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

// postJSON posts a principal-scoped request to the wallet service and
// returns the response body on 2xx.
func postJSON(path string, payload any) ([]byte, error) {
	if principal == "" {
		return nil, fmt.Errorf("--principal is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal-Address", principal)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet unreachable at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("wallet returned status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
