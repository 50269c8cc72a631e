package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// StatisticsSnapshot is the derived view of a user's expense set. It is
// rebuilt from scratch on every fetch and never persisted.
type StatisticsSnapshot struct {
	Total      decimal.Decimal
	ByCategory map[string]decimal.Decimal
	ByStatus   map[string]decimal.Decimal
	Count      int
}

// LabelAmount is one bucket of a snapshot, used for ordered rendering.
type LabelAmount struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// EmptySnapshot returns a snapshot with zero total and empty buckets.
func EmptySnapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		Total:      decimal.Zero,
		ByCategory: map[string]decimal.Decimal{},
		ByStatus:   map[string]decimal.Decimal{},
	}
}

// Aggregate sums the expense set into a snapshot. An amount that does not
// parse contributes zero but still opens its category and status buckets,
// so one malformed row never hides the rest of the history. Decimal addition
// is exact, so the result does not depend on input order.
func Aggregate(expenses []Expense) StatisticsSnapshot {
	s := EmptySnapshot()
	for _, e := range expenses {
		amount := e.AmountValue()
		s.Total = s.Total.Add(amount)

		if _, ok := s.ByCategory[e.Category]; !ok {
			s.ByCategory[e.Category] = decimal.Zero
		}
		s.ByCategory[e.Category] = s.ByCategory[e.Category].Add(amount)

		if _, ok := s.ByStatus[e.Status]; !ok {
			s.ByStatus[e.Status] = decimal.Zero
		}
		s.ByStatus[e.Status] = s.ByStatus[e.Status].Add(amount)
	}
	s.Count = len(expenses)
	return s
}

// Equal reports whether two snapshots hold the same sums.
func (s StatisticsSnapshot) Equal(o StatisticsSnapshot) bool {
	if !s.Total.Equal(o.Total) || s.Count != o.Count {
		return false
	}
	return bucketsEqual(s.ByCategory, o.ByCategory) && bucketsEqual(s.ByStatus, o.ByStatus)
}

// Clone returns a deep copy; snapshots are handed to renderers that must not
// share maps with the controller.
func (s StatisticsSnapshot) Clone() StatisticsSnapshot {
	c := StatisticsSnapshot{
		Total:      s.Total,
		Count:      s.Count,
		ByCategory: make(map[string]decimal.Decimal, len(s.ByCategory)),
		ByStatus:   make(map[string]decimal.Decimal, len(s.ByStatus)),
	}
	for k, v := range s.ByCategory {
		c.ByCategory[k] = v
	}
	for k, v := range s.ByStatus {
		c.ByStatus[k] = v
	}
	return c
}

// Categories returns the category buckets sorted by label.
func (s StatisticsSnapshot) Categories() []LabelAmount {
	return sortedBuckets(s.ByCategory)
}

// Statuses returns the status buckets sorted by label.
func (s StatisticsSnapshot) Statuses() []LabelAmount {
	return sortedBuckets(s.ByStatus)
}

func sortedBuckets(m map[string]decimal.Decimal) []LabelAmount {
	out := make([]LabelAmount, 0, len(m))
	for k, v := range m {
		out = append(out, LabelAmount{Label: k, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func bucketsEqual(a, b map[string]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}
