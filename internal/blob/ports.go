// Package blob defines the object store ports used for receipt images.
// Backends live in the memory and gcs subpackages.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Object describes a stored blob.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	Created     time.Time
}

// Ports for object store adapters.
type (
	// Writer stores one object. A backend that refuses the content itself
	// returns *core.UploadRejectedError; anything else is a transport failure.
	Writer interface {
		Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	}

	// Locator turns a key into a URL readable without credentials.
	Locator interface {
		URL(key string) string
	}

	// Lister enumerates and removes objects. Used only by the orphan
	// reconciler.
	Lister interface {
		List(ctx context.Context, prefix string) ([]Object, error)
		Delete(ctx context.Context, key string) error
	}

	Store interface {
		Writer
		Locator
		Lister
	}
)
