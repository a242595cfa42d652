package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/book-expert/speech-service/internal/fileutil"
)

// GCSStore keeps objects in a Google Cloud Storage bucket under an optional prefix.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore connects to GCS. An empty credentialsFile uses application default
// credentials.
func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStore, error) {
	var (
		client *storage.Client
		err    error
	)

	if credentialsFile != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	} else {
		client, err = storage.NewClient(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Download reads the object stored under key.
func (g *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	keyErr := validateKey(key)
	if keyErr != nil {
		return nil, keyErr
	}

	reader, err := g.client.Bucket(g.bucket).Object(objectName(g.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: '%s' in gs://%s", ErrObjectNotFound, key, g.bucket)
		}

		return nil, fmt.Errorf("failed to open object '%s' in gs://%s: %w", key, g.bucket, err)
	}

	data, readErr := io.ReadAll(reader)
	closeErr := reader.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload writes data under key. The object is only committed when the writer
// closes successfully.
func (g *GCSStore) Upload(ctx context.Context, key string, data []byte) error {
	keyErr := validateKey(key)
	if keyErr != nil {
		return keyErr
	}

	writer := g.client.Bucket(g.bucket).Object(objectName(g.prefix, key)).NewWriter(ctx)
	writer.ContentType = fileutil.ContentTypeForKey(key)

	_, copyErr := io.Copy(writer, bytes.NewReader(data))
	if copyErr != nil {
		_ = writer.Close()

		return fmt.Errorf("failed to upload object '%s' to gs://%s: %w", key, g.bucket, copyErr)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to finalize object '%s' in gs://%s: %w", key, g.bucket, closeErr)
	}

	return nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	err := g.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}

	return nil
}

func objectName(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}
