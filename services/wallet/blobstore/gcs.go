// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore is a content-addressed store on a Google Cloud Storage
// bucket. Objects are named <prefix><blob-id>; the bucket is assumed
// to exist.
//
// # Thread Safety
//
// Safe for concurrent use; the GCS client handles its own pooling.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*GCSStore)(nil)

// GCSConfig configures the GCS blob store.
type GCSConfig struct {
	// BucketName is the target bucket. Required.
	BucketName string

	// ObjectPrefix is prepended to blob IDs, e.g. "blobs/".
	ObjectPrefix string

	// SAKeyPath is an optional service account key file. Empty uses
	// application default credentials.
	SAKeyPath string
}

// NewGCSStore creates a blob store over the configured bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.SAKeyPath != "" {
		if _, err := os.Stat(cfg.SAKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.SAKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.SAKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.BucketName,
		prefix: cfg.ObjectPrefix,
	}, nil
}

func (s *GCSStore) object(id string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + id)
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	id := ComputeID(data)
	obj := s.object(id)

	// Content addressing: if the object exists its bytes already match.
	if _, err := obj.Attrs(ctx); err == nil {
		return id, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("%w: write object %s: %v", ErrUnavailable, id, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: close writer for %s: %v", ErrUnavailable, id, err)
	}
	return id, nil
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, id string) ([]byte, error) {
	reader, err := s.object(id).NewReader(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %v", ErrUnavailable, id, err)
	}
	if err := verify(id, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Has implements Store.
func (s *GCSStore) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.object(id).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
