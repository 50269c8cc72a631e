package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"expensesync/internal/assets"
	"expensesync/internal/blob/memory"
	"expensesync/internal/core"
	"expensesync/internal/feed"
	"expensesync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpeg(name string) *assets.File {
	return &assets.File{Name: name, ContentType: "image/jpeg", Body: strings.NewReader("\xff\xd8\xff\xe0jpeg")}
}

func TestSubmitWithoutImage(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	broker := feed.NewBroker()
	defer broker.Close()
	sub, err := broker.Subscribe(context.Background(), "u1")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ledger := NewLedgerService(repo, broker, nil, nil)
	svc := NewExpenseService(ledger, nil, nil)

	in := sampleExpense("")
	res, err := svc.Submit(context.Background(), "u1", in, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Asset)
	assert.Nil(t, res.Expense.ImageURL)

	got, err := ledger.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Coop", got[0].Merchant)
	assert.Nil(t, got[0].ImageURL)

	stats := core.Aggregate(got)
	assert.True(t, core.MustParseAmount("12.50").Equal(stats.Total))

	e := <-sub.Events()
	assert.Equal(t, feed.OpInsert, e.Op)
}

func TestSubmitWithImageStoresURL(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	blobs := memory.New("expense-images", "http://localhost:8081")
	svc := NewExpenseService(NewLedgerService(repo, nil, nil, nil), assets.NewGateway(blobs, 0, nil), nil)

	res, err := svc.Submit(context.Background(), "u1", sampleExpense("u1"), jpeg("café.jpg"))
	require.NoError(t, err)
	require.NotNil(t, res.Asset)
	require.NotNil(t, res.Expense.ImageURL)
	assert.Equal(t, res.Asset.URL, *res.Expense.ImageURL)
	assert.True(t, strings.HasPrefix(res.Asset.Key, "u1/"))

	refs, err := repo.ListImageURLs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, refs, res.Asset.URL)
}

func TestSubmitValidatesBeforeUpload(t *testing.T) {
	blobs := memory.New("b", "http://x")
	store := newFakeStore()
	svc := NewExpenseService(NewLedgerService(store, nil, nil, nil), assets.NewGateway(blobs, 0, nil), nil)

	in := sampleExpense("u1")
	in.Merchant = "  "
	_, err := svc.Submit(context.Background(), "u1", in, jpeg("r.jpg"))
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, 0, blobs.Puts())
	assert.Empty(t, store.expenses)
}

func TestSubmitRejectsForeignUserID(t *testing.T) {
	svc := NewExpenseService(NewLedgerService(newFakeStore(), nil, nil, nil), nil, nil)

	_, err := svc.Submit(context.Background(), "u1", sampleExpense("u2"), nil)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestSubmitIgnoresCallerImageURL(t *testing.T) {
	store := newFakeStore()
	svc := NewExpenseService(NewLedgerService(store, nil, nil, nil), nil, nil)

	in := sampleExpense("u1")
	url := "http://elsewhere/img.jpg"
	in.ImageURL = &url
	res, err := svc.Submit(context.Background(), "u1", in, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Expense.ImageURL)
}

func TestSubmitImageWithoutUploader(t *testing.T) {
	svc := NewExpenseService(NewLedgerService(newFakeStore(), nil, nil, nil), nil, nil)

	_, err := svc.Submit(context.Background(), "u1", sampleExpense("u1"), jpeg("r.jpg"))
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestSubmitUploadFailureCreatesNothing(t *testing.T) {
	blobs := memory.New("b", "http://x")
	blobs.MaxObjectBytes = 1
	store := newFakeStore()
	svc := NewExpenseService(NewLedgerService(store, nil, nil, nil), assets.NewGateway(blobs, 0, nil), nil)

	_, err := svc.Submit(context.Background(), "u1", sampleExpense("u1"), jpeg("r.jpg"))
	require.Error(t, err)
	assert.True(t, core.IsUploadRejected(err))

	var partial *PartialSubmitError
	assert.False(t, errors.As(err, &partial))
	assert.Empty(t, store.expenses)
}

func TestSubmitCreateFailureAfterUploadIsPartial(t *testing.T) {
	blobs := memory.New("b", "http://x")
	store := newFakeStore()
	store.createErr = core.Remote("create", "", errors.New("disk I/O error"))
	svc := NewExpenseService(NewLedgerService(store, nil, nil, nil), assets.NewGateway(blobs, 0, nil), nil)

	_, err := svc.Submit(context.Background(), "u1", sampleExpense("u1"), jpeg("r.jpg"))
	require.Error(t, err)

	var partial *PartialSubmitError
	require.ErrorAs(t, err, &partial)
	assert.True(t, core.IsRemote(err))
	assert.Equal(t, 1, blobs.Puts())

	_, _, ok := blobs.Get(partial.Asset.Key)
	assert.True(t, ok, "uploaded image is still stored")
	assert.Contains(t, err.Error(), partial.Asset.Key)
}
