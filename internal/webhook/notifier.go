// Package webhook forwards receipt comments to an external automation
// endpoint as multipart form posts.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/core"
	"expensesync/internal/log"
)

// ErrDisabled is returned by Send when no endpoint is configured.
var ErrDisabled = errors.New("webhook disabled")

const maxResponseBytes = 1 << 20

// Submission is one form post. Image is optional.
type Submission struct {
	FirstName string
	LastName  string
	UserID    string
	ImageURL  string
	Comment   string
	Image     *assets.File
}

type Notifier struct {
	url    string
	client *http.Client
	logger *log.Logger
}

// NewNotifier returns a notifier posting to url. An empty url gives a
// notifier whose Send returns ErrDisabled.
func NewNotifier(url string, timeout time.Duration, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Discard()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.WithComponent(log.ComponentWebhook),
	}
}

func (n *Notifier) Enabled() bool { return n.url != "" }

// Send posts s once. A 2xx response with a JSON body is decoded and
// returned; any other status is a *core.RemoteQueryError carrying it.
// There is no retry.
func (n *Notifier) Send(ctx context.Context, s Submission) (map[string]any, error) {
	if !n.Enabled() {
		return nil, ErrDisabled
	}

	body, contentType, err := encode(s)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.ErrorContext(ctx, "Webhook request failed",
			log.FieldOperation, log.OpNotify,
			log.FieldUserID, s.UserID,
			log.FieldError, err)
		return nil, core.Remote(log.OpNotify, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, core.Remote(log.OpNotify, strconv.Itoa(resp.StatusCode), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.ErrorContext(ctx, "Webhook rejected submission",
			log.FieldOperation, log.OpNotify,
			log.FieldUserID, s.UserID,
			log.FieldStatusCode, resp.StatusCode)
		return nil, core.Remote(log.OpNotify, strconv.Itoa(resp.StatusCode),
			fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(raw)))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, core.Remote(log.OpNotify, strconv.Itoa(resp.StatusCode), fmt.Errorf("decode response: %w", err))
	}

	n.logger.InfoContext(ctx, "Webhook accepted submission",
		log.FieldOperation, log.OpNotify,
		log.FieldUserID, s.UserID,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())
	return out, nil
}

func encode(s Submission) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"firstName", s.FirstName},
		{"lastName", s.LastName},
		{"userId", s.UserID},
		{"imageUrl", s.ImageURL},
		{"comment", s.Comment},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	if s.Image != nil && s.Image.Body != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, s.Image.Name))
		ct := s.Image.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create image part: %w", err)
		}
		if _, err := io.Copy(part, s.Image.Body); err != nil {
			return nil, "", fmt.Errorf("write image part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
