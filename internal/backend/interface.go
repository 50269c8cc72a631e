package backend

import (
	"context"
	"net/http"

	"expensesync/internal/blob"
	"expensesync/internal/feed"
)

// Feed is a change feed transport: both ends of it.
type Feed interface {
	feed.Publisher
	feed.Subscriber
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result holds the backends built from configuration.
type Result struct {
	Feed  Feed
	Blobs blob.Store

	// Assets serves stored images when the blob backend is in process.
	// Nil when the store hands out its own public URLs.
	Assets http.Handler

	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Feed FeedType
	Blob BlobType

	AMQPURL      string
	AMQPExchange string

	BlobBucket               string
	PublicBaseURL            string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// FeedType selects the change feed transport.
type FeedType string

const (
	MemoryFeed FeedType = "memory"
	AMQPFeed   FeedType = "amqp"
)

func (t FeedType) String() string { return string(t) }

func (t FeedType) IsValid() bool {
	switch t {
	case MemoryFeed, AMQPFeed:
		return true
	default:
		return false
	}
}

// BlobType selects the object store.
type BlobType string

const (
	MemoryBlob BlobType = "memory"
	GCSBlob    BlobType = "gcs"
)

func (t BlobType) String() string { return string(t) }

func (t BlobType) IsValid() bool {
	switch t {
	case MemoryBlob, GCSBlob:
		return true
	default:
		return false
	}
}
