package core

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exp(amount, category, status string) Expense {
	return Expense{Amount: amount, Category: category, Status: status}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	assert.True(t, s.Total.IsZero())
	assert.NotNil(t, s.ByCategory)
	assert.NotNil(t, s.ByStatus)
	assert.Equal(t, 0, s.Count)
}

func TestAggregateSums(t *testing.T) {
	s := Aggregate([]Expense{
		exp("42.50", "Food", "Completed"),
		exp("10", "Food", "Pending"),
		exp("7.25", "Travel", "Completed"),
	})

	assert.True(t, s.Total.Equal(dec(t, "59.75")), "total=%s", s.Total)
	assert.True(t, s.ByCategory["Food"].Equal(dec(t, "52.50")))
	assert.True(t, s.ByCategory["Travel"].Equal(dec(t, "7.25")))
	assert.True(t, s.ByStatus["Completed"].Equal(dec(t, "49.75")))
	assert.True(t, s.ByStatus["Pending"].Equal(dec(t, "10")))
	assert.Equal(t, 3, s.Count)
}

func TestAggregateMalformedAmountContributesZero(t *testing.T) {
	s := Aggregate([]Expense{
		exp("12.00", "Food", "Completed"),
		exp("not-a-number", "Gadgets", "Refunded"),
		exp("", "Food", "Completed"),
		exp("3", "Food", "Completed"),
	})

	assert.True(t, s.Total.Equal(dec(t, "15")))
	assert.True(t, s.ByCategory["Food"].Equal(dec(t, "15")))
	// The malformed row still opens its buckets.
	gadgets, ok := s.ByCategory["Gadgets"]
	require.True(t, ok)
	assert.True(t, gadgets.IsZero())
	refunded, ok := s.ByStatus["Refunded"]
	require.True(t, ok)
	assert.True(t, refunded.IsZero())
	assert.Equal(t, 4, s.Count)
}

func TestAggregateOrderIndependent(t *testing.T) {
	base := []Expense{
		exp("0.1", "A", "Completed"),
		exp("0.2", "B", "Completed"),
		exp("0.3", "A", "Pending"),
		exp("1e-2", "C", "Pending"),
		exp("999999999.99", "B", "Completed"),
		exp("bad", "D", "Unknown"),
		exp("33.333", "A", "Completed"),
	}
	want := Aggregate(base)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		perm := make([]Expense, len(base))
		copy(perm, base)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		got := Aggregate(perm)
		require.True(t, want.Equal(got), "permutation %d changed the snapshot", i)
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	s := Aggregate([]Expense{exp("1", "Food", "Completed")})
	c := s.Clone()
	c.ByCategory["Food"] = dec(t, "100")
	assert.True(t, s.ByCategory["Food"].Equal(dec(t, "1")))
}

func TestSnapshotSortedBuckets(t *testing.T) {
	s := Aggregate([]Expense{
		exp("1", "Travel", "Pending"),
		exp("2", "Food", "Completed"),
	})
	cats := s.Categories()
	require.Len(t, cats, 2)
	assert.Equal(t, "Food", cats[0].Label)
	assert.Equal(t, "Travel", cats[1].Label)
	assert.Equal(t, "Completed", s.Statuses()[0].Label)
}
