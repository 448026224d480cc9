// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gcs moves firmware artifacts between the local filesystem and
// Google Cloud Storage for the patch fetch and publish commands.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type Client struct {
	storageClient *storage.Client
	ProjectID     string
	BucketName    string
}

func NewClient(ctx context.Context, projectID, bucketName, saKeyPath string) (*Client, error) {
	if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		ProjectID:     projectID,
		BucketName:    bucketName,
	}, nil
}

// ParseURI splits a gs://bucket/object reference into its bucket and
// object parts. The object may contain slashes.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %s", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// uri must name a bucket and an object: %s", uri)
	}
	return bucket, object, nil
}

// FetchObject downloads a GCS object to localPath. A partial file is
// removed on failure.
func (c *Client) FetchObject(ctx context.Context, objectPath, localPath string) error {
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create the local file %s: %w", localPath, err)
	}
	defer out.Close()

	reader, err := c.storageClient.Bucket(c.BucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to open gs://%s/%s: %w", c.BucketName, objectPath, err)
	}
	defer reader.Close()

	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to copy gs://%s/%s to %s: %w", c.BucketName, objectPath, localPath, err)
	}
	return nil
}

// UploadFile pushes a local firmware artifact to the bucket. Cache headers
// are pinned so fleets never pull a stale artifact through an edge cache.
func (c *Client) UploadFile(ctx context.Context, localPath, gcsPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := c.storageClient.Bucket(c.BucketName).Object(gcsPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, gcsPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", gcsPath, err)
	}
	return nil
}
