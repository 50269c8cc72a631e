// Package history drives one live expense history view: fetch, aggregate,
// publish, and refetch whenever the change feed reports a write.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"expensesync/internal/core"
	"expensesync/internal/feed"
	"expensesync/internal/log"
)

var ErrClosed = errors.New("history controller closed")

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fetcher loads a user's expenses, newest first.
type Fetcher interface {
	ListByUser(ctx context.Context, userID string) ([]core.Expense, error)
}

// invalidator is implemented by fetchers that share reads and need to know
// when a write landed elsewhere.
type invalidator interface {
	Invalidate(userID string)
}

// View is what the controller renders.
type View struct {
	UserID     string
	State      State
	Expenses   []core.Expense
	Statistics core.StatisticsSnapshot

	// Err is the last fetch failure. Expenses and Statistics still hold the
	// last good data.
	Err string
	// FeedErr is set when the change feed subscription could not be made or
	// ended while bound.
	FeedErr string

	Seq       uint64
	UpdatedAt time.Time
}

func (v View) clone() View {
	v.Expenses = append([]core.Expense(nil), v.Expenses...)
	v.Statistics = v.Statistics.Clone()
	return v
}

// Controller owns one binding at a time. All methods are safe for
// concurrent use.
type Controller struct {
	fetcher    Fetcher
	subscriber feed.Subscriber
	logger     *log.Logger
	now        func() time.Time

	mu          sync.Mutex
	closed      bool
	binding     uint64
	userID      string
	ctx         context.Context
	cancel      context.CancelFunc
	sub         feed.Subscription
	inFlight    bool
	dirty       bool
	lastCounter uint64
	view        View

	renders chan View
	wg      sync.WaitGroup
}

func NewController(fetcher Fetcher, subscriber feed.Subscriber, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Discard()
	}
	return &Controller{
		fetcher:    fetcher,
		subscriber: subscriber,
		logger:     logger.WithComponent(log.ComponentHistory),
		now:        time.Now,
		view:       View{State: StateIdle, Statistics: core.EmptySnapshot()},
		renders:    make(chan View, 1),
	}
}

// Bind switches the controller to userID. The previous subscription is
// released before the new one is made, the previous user's data is dropped,
// and a fetch starts. A subscription failure is reported in View.FeedErr
// and does not stop the fetch.
func (c *Controller) Bind(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev, prevCancel := c.sub, c.cancel

	c.binding++
	binding := c.binding
	c.userID = userID
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	bctx := c.ctx
	c.sub = nil
	c.inFlight, c.dirty = false, false
	c.view = View{UserID: userID, State: StateIdle, Statistics: core.EmptySnapshot(), UpdatedAt: c.now()}
	c.render()
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	c.unsubscribe(prev)

	sub, err := c.subscriber.Subscribe(bctx, userID)
	c.mu.Lock()
	switch {
	case binding != c.binding:
		// Rebound or closed while subscribing.
		c.mu.Unlock()
		if err == nil {
			c.unsubscribe(sub)
		}
		return nil
	case err != nil:
		c.view.FeedErr = err.Error()
		c.logger.WarnContext(ctx, "Change feed subscription failed",
			log.FieldOperation, log.OpSubscribe,
			log.FieldUserID, userID,
			log.FieldError, err)
	default:
		c.sub = sub
		c.wg.Add(1)
		go c.relay(bctx, binding, userID, sub)
	}
	c.mu.Unlock()

	c.trigger(binding)
	return nil
}

// RefreshRequested fetches when counter is larger than any value seen
// before.
func (c *Controller) RefreshRequested(counter uint64) {
	c.mu.Lock()
	if counter <= c.lastCounter {
		c.mu.Unlock()
		return
	}
	c.lastCounter = counter
	binding := c.binding
	c.mu.Unlock()
	c.trigger(binding)
}

// Refresh forces a fetch regardless of state. During a fetch it schedules
// one more after it.
func (c *Controller) Refresh() {
	c.mu.Lock()
	binding := c.binding
	c.mu.Unlock()
	c.trigger(binding)
}

// View returns a copy of the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.clone()
}

// Renders delivers views as they change. Only the latest undelivered view
// is kept. The channel is closed by Close.
func (c *Controller) Renders() <-chan View {
	return c.renders
}

// Close releases the subscription, abandons any in-flight fetch and waits
// for the controller's goroutines. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.binding++
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.unsubscribe(sub)
	c.wg.Wait()
	close(c.renders)
	return nil
}

func (c *Controller) relay(ctx context.Context, binding uint64, userID string, sub feed.Subscription) {
	defer c.wg.Done()
	inv, _ := c.fetcher.(invalidator)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				c.feedLost(binding, userID)
				return
			}
			if inv != nil {
				inv.Invalidate(userID)
			}
			c.trigger(binding)
		}
	}
}

// ErrFeedClosed is reported in View.FeedErr when the change feed ends while
// the view is still bound. The view keeps its data but no longer updates by
// itself.
var ErrFeedClosed = errors.New("change feed closed; live updates stopped")

func (c *Controller) feedLost(binding uint64, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || binding != c.binding {
		return
	}
	c.sub = nil
	c.view.FeedErr = ErrFeedClosed.Error()
	c.view.UpdatedAt = c.now()
	c.logger.Warn("Change feed ended while bound",
		log.FieldOperation, log.OpSubscribe,
		log.FieldUserID, userID,
		log.FieldError, ErrFeedClosed)
	c.render()
}

// trigger starts a fetch for binding, or marks the running one dirty so it
// is followed by exactly one more.
func (c *Controller) trigger(binding uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || binding != c.binding || c.userID == "" {
		return
	}
	if c.inFlight {
		c.dirty = true
		return
	}
	c.inFlight = true
	c.startLoading()

	c.wg.Add(1)
	go c.fetchLoop(c.ctx, binding, c.userID)
}

// startLoading must be called with mu held.
func (c *Controller) startLoading() {
	c.view.State = StateLoading
	c.view.Seq++
	c.view.UpdatedAt = c.now()
	c.logger.Debug("Fetching history",
		log.FieldUserID, c.userID,
		log.FieldSeq, c.view.Seq)
	c.render()
}

func (c *Controller) fetchLoop(ctx context.Context, binding uint64, userID string) {
	defer c.wg.Done()
	for {
		start := time.Now()
		expenses, err := c.fetcher.ListByUser(ctx, userID)

		c.mu.Lock()
		if binding != c.binding {
			c.mu.Unlock()
			return
		}
		c.apply(ctx, expenses, err, time.Since(start))
		if !c.dirty {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		c.dirty = false
		c.startLoading()
		c.mu.Unlock()
	}
}

// apply must be called with mu held.
func (c *Controller) apply(ctx context.Context, expenses []core.Expense, err error, took time.Duration) {
	c.view.UpdatedAt = c.now()
	if err != nil {
		c.view.State = StateFailed
		c.view.Err = err.Error()
		c.logger.WarnContext(ctx, "History fetch failed",
			log.FieldOperation, log.OpFetch,
			log.FieldUserID, c.userID,
			log.FieldState, c.view.State.String(),
			log.FieldSeq, c.view.Seq,
			log.FieldError, err)
	} else {
		c.view.State = StateReady
		c.view.Err = ""
		c.view.Expenses = expenses
		c.view.Statistics = core.Aggregate(expenses)
		c.logger.DebugContext(ctx, "History fetched",
			log.FieldOperation, log.OpFetch,
			log.FieldUserID, c.userID,
			log.FieldSeq, c.view.Seq,
			"count", len(expenses),
			log.FieldDuration, took.Milliseconds())
	}
	c.render()
}

// render must be called with mu held.
func (c *Controller) render() {
	v := c.view.clone()
	select {
	case c.renders <- v:
		return
	default:
	}
	select {
	case <-c.renders:
	default:
	}
	select {
	case c.renders <- v:
	default:
	}
}

func (c *Controller) unsubscribe(sub feed.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		c.logger.Warn("Failed to release change feed subscription",
			log.FieldOperation, log.OpUnsubscribe,
			log.FieldError, err)
	}
}
