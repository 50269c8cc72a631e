// Package gcs stores receipt images in a Google Cloud Storage bucket through
// the JSON API.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"expensesync/internal/blob"
	"expensesync/internal/core"
	"expensesync/internal/log"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gstorage "google.golang.org/api/storage/v1"
)

const publicHost = "https://storage.googleapis.com"

type Store struct {
	svc    *gstorage.Service
	bucket string
	logger *log.Logger
}

// New builds a store authenticated with a service account.
func New(ctx context.Context, bucket string, credentialsJSON []byte, logger *log.Logger) (*Store, error) {
	return NewWithOptions(ctx, bucket, logger,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(gstorage.DevstorageReadWriteScope))
}

// NewWithOptions builds a store from raw client options. Tests point it at a
// local endpoint.
func NewWithOptions(ctx context.Context, bucket string, logger *log.Logger, opts ...option.ClientOption) (*Store, error) {
	if logger == nil {
		logger = log.Discard()
	}
	svc, err := gstorage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}
	return &Store{
		svc:    svc,
		bucket: bucket,
		logger: logger.WithComponent(log.ComponentAssets),
	}, nil
}

// LoadCredentials resolves service account JSON from an inline value, a file,
// or GOOGLE_APPLICATION_CREDENTIALS, in that order.
func LoadCredentials(inlineJSON, file string) ([]byte, error) {
	inlineJSON = strings.TrimSpace(inlineJSON)
	file = strings.TrimSpace(file)
	if inlineJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inlineJSON != "":
		return []byte(inlineJSON), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (s *Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	obj := &gstorage.Object{
		Name:         key,
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000",
	}
	start := time.Now()
	_, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(body, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return classify(key, err)
	}
	s.logger.DebugContext(ctx, "Stored object",
		log.FieldAssetKey, key,
		"size", size,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

func (s *Store) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return publicHost + "/" + s.bucket + "/" + strings.Join(segments, "/")
}

func (s *Store) List(ctx context.Context, prefix string) ([]blob.Object, error) {
	var out []blob.Object
	err := s.svc.Objects.List(s.bucket).Prefix(prefix).Pages(ctx, func(page *gstorage.Objects) error {
		for _, o := range page.Items {
			created, _ := time.Parse(time.RFC3339, o.TimeCreated)
			out = append(out, blob.Object{
				Key:         o.Name,
				Size:        int64(o.Size),
				ContentType: o.ContentType,
				Created:     created,
			})
		}
		return nil
	})
	if err != nil {
		return nil, core.Remote("list objects", apiCode(err), err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.svc.Objects.Delete(s.bucket, key).Context(ctx).Do()
	if err == nil {
		return nil
	}
	if apiCode(err) == strconv.Itoa(http.StatusNotFound) {
		return blob.ErrNotFound
	}
	return core.Remote("delete object", apiCode(err), err)
}

// classify splits content refusals from transport failures.
func classify(key string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return core.Remote("put object", "", err)
	}
	switch gerr.Code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		reason := gerr.Message
		if reason == "" {
			reason = http.StatusText(gerr.Code)
		}
		return &core.UploadRejectedError{Key: key, Code: strconv.Itoa(gerr.Code), Reason: reason}
	default:
		return core.Remote("put object", strconv.Itoa(gerr.Code), err)
	}
}

func apiCode(err error) string {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return strconv.Itoa(gerr.Code)
	}
	return ""
}
