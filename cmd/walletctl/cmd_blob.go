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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVault/services/wallet/blobstore"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	blobStorePath string // Local Badger directory
	blobOutPath   string // Output file for blob get
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// blobCmd inspects a local Badger blob store directory. The wallet
// service must not be running against the same directory (Badger takes
// an exclusive lock).
var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Inspect a local wallet blob store (service must be stopped)",
}

var blobHasCmd = &cobra.Command{
	Use:   "has <blob-id>",
	Short: "Check whether a blob id exists in the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobHas,
}

var blobGetCmd = &cobra.Command{
	Use:   "get <blob-id>",
	Short: "Fetch a blob by id (content is encrypted at rest)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobGet,
}

var blobPutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Store a file as a content-addressed blob and print its id",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobPut,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	blobCmd.PersistentFlags().StringVar(&blobStorePath, "path",
		"./data/wallet-blobs", "Badger blob store directory")
	blobGetCmd.Flags().StringVarP(&blobOutPath, "out", "o", "",
		"Write blob bytes to this file instead of stdout")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func openStore() (*blobstore.BadgerStore, error) {
	store, err := blobstore.NewBadgerStore(blobstore.DefaultBadgerConfig(blobStorePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store at %s: %w", blobStorePath, err)
	}
	return store, nil
}

func runBlobHas(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ok, err := store.Has(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("blob %s not found", args[0])
	}
	fmt.Printf("blob %s exists\n", args[0])
	return nil
}

func runBlobGet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	if blobOutPath != "" {
		if err := os.WriteFile(blobOutPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", blobOutPath, err)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), blobOutPath)
		return nil
	}

	_, err = os.Stdout.Write(data)
	return err
}

func runBlobPut(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Put(context.Background(), data)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
