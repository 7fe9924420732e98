// Package gcs wraps Google Cloud Storage for the two things FinEase needs from
// it: fetching uploaded statements by gs:// URI and keeping the durable
// session record as an object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/dvloznov/finease/internal/kv"
)

// ErrInvalidURI is returned for references that are not gs://bucket/object.
var ErrInvalidURI = errors.New("invalid GCS URI")

// Object is a downloaded object together with its declared content type.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fetcher downloads statement files referenced by gs:// URIs.
type Fetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) (*Object, error)
}

// Client is a thin, shared wrapper around a storage client.
type Client struct {
	client *storage.Client
}

// NewClient creates a storage client using Application Default Credentials
// unless options say otherwise (for example option.WithEndpoint for an emulator).
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close closes the underlying storage client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// FetchFromGCS downloads the object bytes and content type for the given GCS URI.
func (c *Client) FetchFromGCS(ctx context.Context, gcsURI string) (*Object, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := c.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}

	return &Object{
		Name:        ExtractFilenameFromGCSURI(gcsURI),
		ContentType: rc.Attrs.ContentType,
		Data:        data,
	}, nil
}

// ParseURI splits "gs://bucket/path/to/object" into bucket and object path.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, gcsURI)
	}

	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidURI, gcsURI)
	}

	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}

// ObjectStore is a kv.Store keeping each key as one object under a prefix.
type ObjectStore struct {
	client *Client
	bucket string
	prefix string
}

// NewObjectStore stores records as gs://bucket/prefix/<key>.json.
func NewObjectStore(client *Client, bucket, prefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectStore) objectName(key string) string {
	if s.prefix == "" {
		return key + ".json"
	}
	return s.prefix + "/" + key + ".json"
}

func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.client.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ObjectStore.Get: open %s: %w", s.objectName(key), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("ObjectStore.Get: read %s: %w", s.objectName(key), err)
	}
	return data, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, value []byte) error {
	w := s.client.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("ObjectStore.Put: write %s: %w", s.objectName(key), err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("ObjectStore.Put: finalize %s: %w", s.objectName(key), err)
	}
	return nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	err := s.client.client.Bucket(s.bucket).Object(s.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("ObjectStore.Delete: %s: %w", s.objectName(key), err)
	}
	return nil
}

var (
	_ Fetcher  = (*Client)(nil)
	_ kv.Store = (*ObjectStore)(nil)
)
