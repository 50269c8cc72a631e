package backend

import (
	"fmt"

	"expensesync/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Feed: FeedType(appConfig.FeedBackend),
		Blob: BlobType(appConfig.BlobBackend),

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,

		BlobBucket:               appConfig.BlobBucket,
		PublicBaseURL:            appConfig.PublicBaseURL,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}
	return cfg, cfg.Validate()
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Feed.IsValid() {
		return fmt.Errorf("invalid feed backend: %s", c.Feed)
	}
	if !c.Blob.IsValid() {
		return fmt.Errorf("invalid blob backend: %s", c.Blob)
	}

	if c.Feed == AMQPFeed {
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP URL is required for amqp feed backend")
		}
		if c.AMQPExchange == "" {
			return fmt.Errorf("AMQP exchange is required for amqp feed backend")
		}
	}

	if c.BlobBucket == "" {
		return fmt.Errorf("blob bucket is required")
	}
	switch c.Blob {
	case GCSBlob:
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			return fmt.Errorf("either GoogleServiceAccountJSON or GoogleServiceAccountFile must be provided for gcs backend")
		}
	case MemoryBlob:
		if c.PublicBaseURL == "" {
			return fmt.Errorf("public base URL is required for memory blob backend")
		}
	}

	return nil
}
