// Package objectstore provides the core.ObjectStore implementations that hold
// generated audio: NATS JetStream, a local directory, and Google Cloud Storage.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/speech-service/internal/fileutil"
)

var (
	// ErrObjectNotFound is returned by Download when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that are empty or would escape the store.
	ErrInvalidKey = errors.New("invalid object key")
)

const headerContentType = "Content-Type"

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates and initializes a new NatsObjectStore.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Generated speech audio for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	keyErr := validateKey(key)
	if keyErr != nil {
		return nil, keyErr
	}

	obj, err := n.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store, tagging it with the content
// type implied by the key's extension.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	keyErr := validateKey(key)
	if keyErr != nil {
		return keyErr
	}

	headers := nats.Header{}
	headers.Set(headerContentType, fileutil.ContentTypeForKey(key))

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     headers,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// validateKey rejects keys that are empty or contain path elements. Generated
// keys are flat file names such as "alloy-1a2b3c4d.mp3".
func validateKey(key string) error {
	if key == "" || key == "." || key != fileutil.SanitizeFilename(key) {
		return fmt.Errorf("%w: '%s'", ErrInvalidKey, key)
	}

	return nil
}
