package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsMultipartForm(t *testing.T) {
	var got struct {
		fields      map[string]string
		image       string
		imageName   string
		contentType string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		f, h, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		got.image = string(data)
		got.imageName = h.Filename
		got.contentType = h.Header.Get("Content-Type")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"id":"run-1"}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, time.Second, nil)
	out, err := n.Send(context.Background(), Submission{
		FirstName: "Ada",
		LastName:  "Lovelace",
		UserID:    "u1",
		ImageURL:  "http://x/assets/b/u1/1_r.jpg",
		Comment:   "team lunch",
		Image:     &assets.File{Name: "r.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpegdata")},
	})
	require.NoError(t, err)

	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "run-1", out["id"])
	assert.Equal(t, map[string]string{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"userId":    "u1",
		"imageUrl":  "http://x/assets/b/u1/1_r.jpg",
		"comment":   "team lunch",
	}, got.fields)
	assert.Equal(t, "jpegdata", got.image)
	assert.Equal(t, "r.jpg", got.imageName)
	assert.Equal(t, "image/jpeg", got.contentType)
}

func TestSendWithoutImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("image")
		assert.ErrorIs(t, err, http.ErrMissingFile)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewNotifier(srv.URL, time.Second, nil).Send(context.Background(), Submission{UserID: "u1", Comment: "c"})
	require.NoError(t, err)
}

func TestSendNon2xxIsRemoteError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "workflow not active", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewNotifier(srv.URL, time.Second, nil).Send(context.Background(), Submission{UserID: "u1"})
	require.Error(t, err)

	var remote *core.RemoteQueryError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "404", remote.Code)
	assert.Contains(t, err.Error(), "workflow not active")
	assert.Equal(t, 1, calls, "no retry")
}

func TestSendNonJSONBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Workflow was started"))
	}))
	defer srv.Close()

	_, err := NewNotifier(srv.URL, time.Second, nil).Send(context.Background(), Submission{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, core.IsRemote(err))
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewNotifier(url, time.Second, nil).Send(context.Background(), Submission{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, core.IsRemote(err))
}

func TestDisabledNotifier(t *testing.T) {
	n := NewNotifier("", 0, nil)
	assert.False(t, n.Enabled())
	_, err := n.Send(context.Background(), Submission{})
	assert.True(t, errors.Is(err, ErrDisabled))
}
