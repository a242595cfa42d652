package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
)

// ErrJetStreamRequired is returned when the nats backend is selected without a
// JetStream context.
var ErrJetStreamRequired = errors.New("nats storage backend requires a JetStream context")

// Open builds the store selected by cfg.Storage.Backend. jetstreamContext is only
// used by the nats backend and may be nil otherwise. The returned closer releases
// backend resources and is never nil.
func Open(
	ctx context.Context,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
) (core.ObjectStore, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := NewLocalStore(cfg.Storage.OutputDir)
		if err != nil {
			return nil, nil, err
		}

		return store, nopCloser{}, nil
	case config.StorageNATS:
		if jetstreamContext == nil {
			return nil, nil, ErrJetStreamRequired
		}

		store, err := New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, nil, err
		}

		return store, nopCloser{}, nil
	case config.StorageGCS:
		store, err := NewGCSStore(ctx, cfg.Storage.GCSBucket, cfg.Storage.GCSPrefix, cfg.Storage.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}

		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("%w: '%s'", config.ErrUnknownStorage, cfg.Storage.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
