package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"expensesync/internal/blob"
	"expensesync/internal/core"
)

type object struct {
	data        []byte
	contentType string
	created     time.Time
}

// Store keeps objects in process. It serves them over HTTP under
// /assets/<bucket>/<key> so the URLs it hands out resolve.
type Store struct {
	mu      sync.RWMutex
	bucket  string
	baseURL string
	objects map[string]object
	puts    int

	// MaxObjectBytes, when positive, makes Put reject larger bodies the
	// way a remote store with a size policy would.
	MaxObjectBytes int64

	now func() time.Time
}

func New(bucket, publicBaseURL string) *Store {
	return &Store{
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		objects: make(map[string]object),
		now:     time.Now,
	}
}

// Put stores body under key.
func (s *Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if s.MaxObjectBytes > 0 && int64(len(data)) > s.MaxObjectBytes {
		return &core.UploadRejectedError{
			Key:    key,
			Code:   strconv.Itoa(http.StatusRequestEntityTooLarge),
			Reason: fmt.Sprintf("object is %d bytes, limit %d", len(data), s.MaxObjectBytes),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType, created: s.now()}
	s.puts++
	return nil
}

// URL escapes each key segment. ServeHTTP matches on the decoded path, so
// the escaped form resolves back to key.
func (s *Store) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/assets/%s/%s", s.baseURL, s.bucket, strings.Join(segments, "/"))
}

func (s *Store) List(ctx context.Context, prefix string) ([]blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]blob.Object, 0, len(s.objects))
	for k, o := range s.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, blob.Object{
			Key:         k,
			Size:        int64(len(o.data)),
			ContentType: o.contentType,
			Created:     o.created,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return blob.ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// Get returns a copy of the stored bytes.
func (s *Store) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), o.data...), o.contentType, true
}

// Puts returns how many writes succeeded.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// ServeHTTP serves GET /assets/<bucket>/<key>.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	prefix := "/assets/" + s.bucket + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, prefix)

	s.mu.RLock()
	o, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", o.contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, key, o.created, bytes.NewReader(o.data))
}
