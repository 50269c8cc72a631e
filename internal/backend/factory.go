package backend

import (
	"context"
	"fmt"

	"expensesync/internal/amqp"
	"expensesync/internal/blob"
	"expensesync/internal/blob/gcs"
	"expensesync/internal/blob/memory"
	"expensesync/internal/feed"
	"expensesync/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger

	dialFeed func(url, exchange string, logger *log.Logger) (Feed, error)
	openGCS  func(ctx context.Context, bucket string, credentials []byte, logger *log.Logger) (blob.Store, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
		dialFeed: func(url, exchange string, logger *log.Logger) (Feed, error) {
			return amqp.NewClient(url, exchange, logger)
		},
		openGCS: func(ctx context.Context, bucket string, credentials []byte, logger *log.Logger) (blob.Store, error) {
			return gcs.New(ctx, bucket, credentials, logger)
		},
	}
}

// Create builds the change feed and the object store. A broker that cannot be
// reached degrades to the in-process feed: live views then only see inserts
// made by this process.
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}

	switch config.Blob {
	case GCSBlob:
		creds, err := gcs.LoadCredentials(config.GoogleServiceAccountJSON, config.GoogleServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load object store credentials: %w", err)
		}
		store, err := f.openGCS(ctx, config.BlobBucket, creds, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		res.Blobs = store
	default:
		store := memory.New(config.BlobBucket, config.PublicBaseURL)
		res.Blobs = store
		res.Assets = store
	}
	f.logger.Info("Initialized object store", "backend", config.Blob.String(), "bucket", config.BlobBucket)

	switch config.Feed {
	case AMQPFeed:
		client, err := f.dialFeed(config.AMQPURL, config.AMQPExchange, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing with in-process feed",
				log.FieldError, err,
				"exchange", config.AMQPExchange)
			res.Feed = feed.NewBroker()
		} else {
			f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange)
			res.Feed = client
		}
	default:
		res.Feed = feed.NewBroker()
		f.logger.Info("Initialized in-process feed")
	}

	res.Cleanup = res.Feed.Close
	return res, nil
}
