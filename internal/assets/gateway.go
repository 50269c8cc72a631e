package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"expensesync/internal/blob"
	"expensesync/internal/core"
	"expensesync/internal/log"
)

// DefaultMaxBytes is the largest receipt image accepted.
const DefaultMaxBytes = 5 << 20

// AttachmentPrefix holds images sent with comments. No expense points at
// them, so they are stored apart from receipts.
const AttachmentPrefix = "comments/"

// IsAttachment reports whether key was written by UploadAttachment. Receipt
// keys have a single '/', so a user whose id is "comments" does not match.
func IsAttachment(key string) bool {
	return strings.HasPrefix(key, AttachmentPrefix) && strings.Count(key, "/") == 2
}

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// Store is what the gateway needs from an object store backend.
type Store interface {
	blob.Writer
	blob.Locator
}

// File is an upload request. Size is advisory; the body is measured.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Asset is a stored receipt image.
type Asset struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type Gateway struct {
	store     Store
	sanitizer *Sanitizer
	maxBytes  int64
	now       func() time.Time
	logger    *log.Logger
}

func NewGateway(store Store, maxBytes int64, logger *log.Logger) *Gateway {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Gateway{
		store:     store,
		sanitizer: NewSanitizer(),
		maxBytes:  maxBytes,
		now:       time.Now,
		logger:    logger.WithComponent(log.ComponentAssets),
	}
}

// Upload validates f locally, writes it once under
// <userID>/<unixMillis>_<sanitizedName> and returns its public URL.
func (g *Gateway) Upload(ctx context.Context, userID string, f File) (Asset, error) {
	return g.put(ctx, "", userID, f)
}

// UploadAttachment stores a comment image under
// comments/<userID>/<unixMillis>_<sanitizedName>.
func (g *Gateway) UploadAttachment(ctx context.Context, userID string, f File) (Asset, error) {
	return g.put(ctx, AttachmentPrefix, userID, f)
}

func (g *Gateway) put(ctx context.Context, prefix, userID string, f File) (Asset, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.Contains(userID, "/") {
		return Asset{}, &core.ValidationError{Field: "user_id", Reason: "must be a non-empty id without '/'"}
	}

	contentType, err := NormalizeContentType(f.ContentType)
	if err != nil {
		return Asset{}, err
	}
	if f.Size > g.maxBytes {
		return Asset{}, g.tooLarge(f.Size)
	}
	if f.Body == nil {
		return Asset{}, &core.ValidationError{Field: "image", Reason: "is empty"}
	}

	data, err := io.ReadAll(io.LimitReader(f.Body, g.maxBytes+1))
	if err != nil {
		return Asset{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > g.maxBytes {
		return Asset{}, g.tooLarge(int64(len(data)))
	}
	if len(data) == 0 {
		return Asset{}, &core.ValidationError{Field: "image", Reason: "is empty"}
	}

	key := fmt.Sprintf("%s%s/%d_%s", prefix, userID, g.now().UnixMilli(), g.sanitizer.SanitizeName(f.Name))

	start := time.Now()
	if err := g.store.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		if core.IsUploadRejected(err) {
			g.logger.WarnContext(ctx, "Upload rejected by object store",
				log.FieldAssetKey, key,
				log.FieldErrorType, log.ErrorTypeUploadRejected,
				log.FieldError, err)
			return Asset{}, err
		}
		g.logger.ErrorContext(ctx, "Upload failed",
			log.FieldAssetKey, key,
			log.FieldErrorType, log.ErrorTypeRemote,
			log.FieldError, err)
		return Asset{}, core.Remote(log.OpUpload, "", err)
	}

	asset := Asset{
		Key:         key,
		URL:         g.store.URL(key),
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	g.logger.InfoContext(ctx, "Image uploaded",
		"attachment", prefix != "",
		log.FieldUserID, userID,
		log.FieldAssetKey, key,
		"size", asset.Size,
		log.FieldDuration, time.Since(start).Milliseconds())
	return asset, nil
}

func (g *Gateway) tooLarge(size int64) error {
	return &core.ValidationError{
		Field:  "image",
		Reason: fmt.Sprintf("is %d bytes, limit is %d", size, g.maxBytes),
	}
}

// NormalizeContentType strips parameters from ct and checks it is one of the
// accepted image types.
func NormalizeContentType(ct string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", &core.ValidationError{Field: "image", Reason: fmt.Sprintf("has invalid content type %q", ct)}
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := allowedContentTypes[mediaType]; !ok {
		return "", &core.ValidationError{Field: "image", Reason: fmt.Sprintf("content type %q is not allowed", mediaType)}
	}
	return mediaType, nil
}
