package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/blob"
	"expensesync/internal/blob/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRefs struct {
	urls map[string]struct{}
	err  error
}

func (s staticRefs) ListImageURLs(context.Context) (map[string]struct{}, error) {
	return s.urls, s.err
}

func seedBlobs(t *testing.T, keys ...string) *memory.Store {
	t.Helper()
	store := memory.New("b", "http://x")
	for _, k := range keys {
		require.NoError(t, store.Put(context.Background(), k, "image/jpeg", strings.NewReader("x"), 1))
	}
	return store
}

func TestReconcilerReportsOnlyOldUnreferencedImages(t *testing.T) {
	store := seedBlobs(t, "u1/1_a.jpg", "u1/2_b.jpg", "u2/3_c.jpg")
	refs := staticRefs{urls: map[string]struct{}{store.URL("u1/1_a.jpg"): {}}}

	r := NewReconciler(store, refs, ReconcilerConfig{GracePeriod: time.Hour}, nil)

	// Everything is younger than the grace period.
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Referenced)
	assert.Zero(t, report.Orphans)

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Orphans)
	assert.Equal(t, []string{"u1/2_b.jpg", "u2/3_c.jpg"}, report.OrphanKeys)
	assert.Zero(t, report.Deleted)

	objs, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, objs, 3, "report-only mode deletes nothing")
}

func TestReconcilerDeletesWhenEnabled(t *testing.T) {
	store := seedBlobs(t, "u1/1_a.jpg", "u1/2_b.jpg")
	refs := staticRefs{urls: map[string]struct{}{store.URL("u1/1_a.jpg"): {}}}

	r := NewReconciler(store, refs, ReconcilerConfig{GracePeriod: time.Minute, Delete: true}, nil)
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	_, _, ok := store.Get("u1/2_b.jpg")
	assert.False(t, ok)
	_, _, ok = store.Get("u1/1_a.jpg")
	assert.True(t, ok)
}

func TestReconcilerKeepsCommentAttachments(t *testing.T) {
	store := seedBlobs(t, "u1/1_orphan.jpg", "comments/2_receipt.jpg")
	gateway := assets.NewGateway(store, 0, nil)
	attachment, err := gateway.UploadAttachment(context.Background(), "u1", assets.File{
		Name:        "screen.png",
		ContentType: "image/png",
		Body:        strings.NewReader("png"),
	})
	require.NoError(t, err)

	r := NewReconciler(store, staticRefs{urls: map[string]struct{}{}}, DefaultReconcilerConfig(), nil)
	r.config.Delete = true
	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Attachments)
	// "comments" is also a valid user id; its receipts are still checked.
	assert.Equal(t, []string{"comments/2_receipt.jpg", "u1/1_orphan.jpg"}, report.OrphanKeys)
	assert.Equal(t, 2, report.Deleted)

	_, _, ok := store.Get(attachment.Key)
	assert.True(t, ok, "comment attachment must survive a delete pass")
}

// undatedStore reports objects without a creation time.
type undatedStore struct{ *memory.Store }

func (s undatedStore) List(ctx context.Context, prefix string) ([]blob.Object, error) {
	objs, err := s.Store.List(ctx, prefix)
	for i := range objs {
		objs[i].Created = time.Time{}
	}
	return objs, err
}

func TestReconcilerSkipsUndatedObjects(t *testing.T) {
	store := undatedStore{seedBlobs(t, "u1/1_a.jpg")}
	r := NewReconciler(store, staticRefs{}, ReconcilerConfig{Delete: true}, nil)
	r.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Orphans)
}

func TestReconcilerReferenceFailure(t *testing.T) {
	store := seedBlobs(t, "u1/1_a.jpg")
	r := NewReconciler(store, staticRefs{err: errors.New("db closed")}, DefaultReconcilerConfig(), nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db closed")
}

func TestReconcilerStartStop(t *testing.T) {
	r := NewReconciler(seedBlobs(t), staticRefs{}, DefaultReconcilerConfig(), nil)
	ctx := context.Background()

	assert.False(t, r.IsRunning())
	require.NoError(t, r.Start(ctx))
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start(ctx), "second start")

	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.IsRunning())
	assert.NoError(t, r.Stop(ctx), "stop is idempotent")
}

func TestReconcilerInvalidSchedule(t *testing.T) {
	r := NewReconciler(seedBlobs(t), staticRefs{}, ReconcilerConfig{Schedule: "every tuesday"}, nil)
	assert.Error(t, r.Start(context.Background()))
	assert.False(t, r.IsRunning())
}

func TestDefaultReconcilerConfig(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	assert.Equal(t, "@hourly", cfg.Schedule)
	assert.Equal(t, 24*time.Hour, cfg.GracePeriod)
	assert.False(t, cfg.Delete)
}
