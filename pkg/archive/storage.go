// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
)

var gcsURIPattern = regexp.MustCompile(`^gs://([^/]+)/(.+)$`)

// ObjectStore writes archived batches to Google Cloud Storage.
type ObjectStore struct {
	client *storage.Client
}

// NewObjectStore creates a cloud storage-backed ObjectStore.
func NewObjectStore(ctx context.Context) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud storage client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

// Close releases any resources held by the underlying client.
func (s *ObjectStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close cloud storage client: %w", err)
	}
	return nil
}

// WriteObject writes content to the gs://bucket/object descriptor.
func (s *ObjectStore) WriteObject(ctx context.Context, content io.Reader, objectDescriptor string) error {
	bucketName, objectName, err := parseGCSURI(objectDescriptor)
	if err != nil {
		return fmt.Errorf("parse gcs uri %q: %w", objectDescriptor, err)
	}

	w := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, content); err != nil {
		return fmt.Errorf("copy archived batch to %s: %w", objectDescriptor, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close archived object writer for %s: %w", objectDescriptor, err)
	}
	return nil
}

// parseGCSURI splits a gs://bucket/object/path uri into its bucket and
// object name.
func parseGCSURI(uri string) (bucket, object string, err error) {
	m := gcsURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return "", "", fmt.Errorf("invalid gcs uri: %q", uri)
	}
	return m[1], strings.TrimSuffix(m[2], "/"), nil
}
