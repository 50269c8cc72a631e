package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"expensesync/internal/cache"
	"expensesync/internal/core"
	"expensesync/internal/feed"
	"expensesync/internal/log"

	"golang.org/x/sync/singleflight"
)

const listTimeout = 30 * time.Second

// LedgerStore is the persistence the ledger service needs.
type LedgerStore interface {
	ListByUser(ctx context.Context, userID string) ([]core.Expense, error)
	Create(ctx context.Context, in core.NewExpense) (core.Expense, error)
	FindUser(ctx context.Context, firstName, lastName, userID string) (core.User, error)
}

// LedgerService fronts the ledger store: it publishes a change event after
// every durable write, shares concurrent reads of the same user, and caches
// identity lookups.
type LedgerService struct {
	store     LedgerStore
	publisher feed.Publisher
	users     cache.Cache[core.User]
	logger    *log.Logger

	group singleflight.Group
	genMu sync.Mutex
	gen   map[string]uint64
}

func NewLedgerService(store LedgerStore, publisher feed.Publisher, users cache.Cache[core.User], logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerService{
		store:     store,
		publisher: publisher,
		users:     users,
		logger:    logger.WithComponent(log.ComponentLedger),
		gen:       make(map[string]uint64),
	}
}

// Create validates in, inserts it, then announces the change. A failed
// announcement is logged only: the row is already durable.
func (s *LedgerService) Create(ctx context.Context, in core.NewExpense) (core.Expense, error) {
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}

	e, err := s.store.Create(ctx, in)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create expense",
			log.NewFields().WithOperation(log.OpCreate).WithUser(in.UserID).WithError(err).ToSlice()...)
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	s.Invalidate(e.UserID)

	s.logger.InfoContext(ctx, "Expense created",
		log.NewFields().WithOperation(log.OpCreate).WithUser(e.UserID).
			WithExpense(e.ID, e.Amount, e.Category, e.Status).ToSlice()...)

	if err := s.publish(ctx, feed.NewEvent(e.UserID, feed.OpInsert)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish change event",
			log.FieldUserID, e.UserID,
			log.FieldExpenseID, e.ID,
			log.FieldError, err)
	}
	return e, nil
}

func (s *LedgerService) publish(ctx context.Context, e feed.Event) error {
	if s.publisher == nil {
		s.logger.WarnContext(ctx, "Change feed not available, skipping event")
		return nil
	}
	return s.publisher.Publish(ctx, e)
}

// ListByUser returns the user's expenses, newest first. Concurrent callers
// for the same user share one query unless a write landed since it started.
// Each caller gets its own slice.
func (s *LedgerService) ListByUser(ctx context.Context, userID string) ([]core.Expense, error) {
	key := fmt.Sprintf("%s#%d", userID, s.generation(userID))

	ch := s.group.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()
		return s.store.ListByUser(qctx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]core.Expense)
		out := make([]core.Expense, len(shared))
		copy(out, shared)
		return out, nil
	}
}

// Invalidate makes later reads for userID start a fresh query instead of
// joining one that may predate a write.
func (s *LedgerService) Invalidate(userID string) {
	s.genMu.Lock()
	s.gen[userID]++
	s.genMu.Unlock()
}

func (s *LedgerService) generation(userID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen[userID]
}

// Identify looks a user up by the full identity triple. Hits are cached;
// misses are not, since users are seeded out of band.
func (s *LedgerService) Identify(ctx context.Context, firstName, lastName, userID string) (core.User, error) {
	key := firstName + "\x00" + lastName + "\x00" + userID
	if s.users != nil {
		if u, ok := s.users.Get(key); ok {
			return u, nil
		}
	}

	u, err := s.store.FindUser(ctx, firstName, lastName, userID)
	if err != nil {
		if core.IsNotFound(err) {
			s.logger.InfoContext(ctx, "User not found",
				log.FieldOperation, log.OpIdentify,
				log.FieldUserID, userID)
		}
		return core.User{}, err
	}

	if s.users != nil {
		s.users.Set(key, u)
	}
	return u, nil
}
