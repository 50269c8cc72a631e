package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"expensesync/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RepositoryTestSuite struct {
	suite.Suite
	repo *SQLiteRepository
	ctx  context.Context
}

func (s *RepositoryTestSuite) SetupTest() {
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(s.T(), err, "failed to create test database")
	s.repo = repo
	s.ctx = context.Background()
}

func (s *RepositoryTestSuite) TearDownTest() {
	if s.repo != nil {
		s.repo.Close()
	}
}

func (s *RepositoryTestSuite) seedUser(first, last, id string) {
	_, err := s.repo.db.Exec(`INSERT INTO users (firstname, lastname, user_id) VALUES (?, ?, ?)`, first, last, id)
	require.NoError(s.T(), err)
}

func strPtr(s string) *string { return &s }

func grocery(userID string, at time.Time) core.NewExpense {
	return core.NewExpense{
		UserID:       userID,
		Merchant:     "Grocery Store",
		PurchaseDate: at,
		Amount:       "42.50",
		Currency:     "USD",
		Category:     "Food",
		Status:       core.StatusCompleted,
	}
}

func (s *RepositoryTestSuite) TestCreateThenListRoundTrip() {
	rome := time.FixedZone("CET", 3600)
	in := grocery("u1", time.Date(2024, 1, 15, 11, 0, 0, 0, rome))
	in.ImageURL = strPtr("https://storage.googleapis.com/expense-images/u1/1_a.jpg")
	in.Comment = strPtr("weekly shop")

	created, err := s.repo.Create(s.ctx, in)
	require.NoError(s.T(), err)
	assert.NotZero(s.T(), created.ID)
	assert.False(s.T(), created.CreatedAt.IsZero())

	list, err := s.repo.ListByUser(s.ctx, "u1")
	require.NoError(s.T(), err)
	require.Len(s.T(), list, 1)

	got := list[0]
	assert.Equal(s.T(), created.ID, got.ID)
	assert.Equal(s.T(), "u1", got.UserID)
	assert.Equal(s.T(), "Grocery Store", got.Merchant)
	assert.Equal(s.T(), time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), got.PurchaseDate)
	assert.Equal(s.T(), "42.50", got.Amount)
	assert.Equal(s.T(), "USD", got.Currency)
	assert.Equal(s.T(), "Food", got.Category)
	assert.Equal(s.T(), core.StatusCompleted, got.Status)
	require.NotNil(s.T(), got.ImageURL)
	assert.Equal(s.T(), *in.ImageURL, *got.ImageURL)
	require.NotNil(s.T(), got.Comment)
	assert.Equal(s.T(), "weekly shop", *got.Comment)
}

func (s *RepositoryTestSuite) TestCreateWithoutImageKeepsNullURL() {
	created, err := s.repo.Create(s.ctx, grocery("u1", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))
	require.NoError(s.T(), err)
	assert.Nil(s.T(), created.ImageURL)
	assert.Nil(s.T(), created.Comment)
	assert.True(s.T(), created.AmountValue().Equal(core.MustParseAmount("42.50")))
}

func (s *RepositoryTestSuite) TestCreateRejectsInvalidInputBeforeInsert() {
	in := grocery("u1", time.Now())
	in.Merchant = "  "

	_, err := s.repo.Create(s.ctx, in)
	require.Error(s.T(), err)
	assert.True(s.T(), core.IsValidation(err))

	list, err := s.repo.ListByUser(s.ctx, "u1")
	require.NoError(s.T(), err)
	assert.Empty(s.T(), list)
}

func (s *RepositoryTestSuite) TestListByUserEmptyIsNotNil() {
	list, err := s.repo.ListByUser(s.ctx, "nobody")
	require.NoError(s.T(), err)
	assert.NotNil(s.T(), list)
	assert.Len(s.T(), list, 0)
}

func (s *RepositoryTestSuite) TestListByUserOrderingAndScope() {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{3 * time.Hour, 0, 48 * time.Hour, time.Minute, 3 * time.Hour}
	for _, off := range offsets {
		_, err := s.repo.Create(s.ctx, grocery("u1", base.Add(off)))
		require.NoError(s.T(), err)
	}
	_, err := s.repo.Create(s.ctx, grocery("u2", base.Add(time.Hour)))
	require.NoError(s.T(), err)

	list, err := s.repo.ListByUser(s.ctx, "u1")
	require.NoError(s.T(), err)
	require.Len(s.T(), list, len(offsets))

	for i := 1; i < len(list); i++ {
		assert.False(s.T(), list[i].PurchaseDate.After(list[i-1].PurchaseDate),
			"row %d is newer than row %d", i, i-1)
		assert.Equal(s.T(), "u1", list[i].UserID)
	}
	// Ties on purchase date fall back to insertion order, newest first.
	assert.Equal(s.T(), list[1].PurchaseDate, list[2].PurchaseDate)
	assert.Greater(s.T(), list[1].ID, list[2].ID)
}

func (s *RepositoryTestSuite) TestFindUser() {
	s.seedUser("Ada", "Lovelace", "u1")

	u, err := s.repo.FindUser(s.ctx, "Ada", "Lovelace", "u1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), core.User{FirstName: "Ada", LastName: "Lovelace", UserID: "u1"}, u)

	_, err = s.repo.FindUser(s.ctx, "Ada", "Byron", "u1")
	require.Error(s.T(), err)
	assert.True(s.T(), core.IsNotFound(err))
	assert.Equal(s.T(), core.MsgUserNotFound, err.Error())
}

func (s *RepositoryTestSuite) TestListImageURLs() {
	for _, url := range []string{"https://x/a.jpg", "https://x/b.jpg", "https://x/a.jpg"} {
		in := grocery("u1", time.Now())
		in.ImageURL = strPtr(url)
		_, err := s.repo.Create(s.ctx, in)
		require.NoError(s.T(), err)
	}
	_, err := s.repo.Create(s.ctx, grocery("u1", time.Now()))
	require.NoError(s.T(), err)

	urls, err := s.repo.ListImageURLs(s.ctx)
	require.NoError(s.T(), err)
	assert.Len(s.T(), urls, 2)
	assert.Contains(s.T(), urls, "https://x/a.jpg")
	assert.Contains(s.T(), urls, "https://x/b.jpg")
}

func (s *RepositoryTestSuite) TestClosedDatabaseIsRemoteError() {
	require.NoError(s.T(), s.repo.Close())

	_, err := s.repo.ListByUser(s.ctx, "u1")
	require.Error(s.T(), err)
	assert.True(s.T(), core.IsRemote(err))
	s.repo = nil
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func TestFileDatabaseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "expenses.db")

	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), grocery("u1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	// Reopening runs migrations again; they must be a no-op.
	repo, err = NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	list, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
