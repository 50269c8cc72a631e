package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"expensesync/internal/core"
	"expensesync/internal/feed"
	"expensesync/internal/log"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states for the publish path.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures     = 5
	openTimeout     = 30 * time.Second
	maxDialAttempts = 5
	publishTimeout  = 5 * time.Second
	relayBuffer     = 16
)

// Client publishes feed events to a direct exchange keyed by channel name and
// opens one exclusive queue per subscription. A dropped connection is redialed
// in the background and subscriptions resume on the new one.
type Client struct {
	url          string
	exchangeName string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	done      chan struct{}
	closeOnce sync.Once

	// connect dials once and attaches the connection; wait is the delay
	// before reconnect attempt n.
	connect func() (<-chan *amqp091.Error, error)
	wait    func(attempt int) time.Duration

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

func NewClient(url, exchangeName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		logger:       logger.WithComponent(log.ComponentAMQP),
		done:         make(chan struct{}),
		wait:         exponentialBackoff,
	}
	client.connect = func() (<-chan *amqp091.Error, error) {
		conn, err := amqp091.Dial(client.url)
		if err != nil {
			return nil, err
		}
		return client.attach(conn)
	}

	conn, err := client.dial()
	if err != nil {
		return nil, err
	}
	closed, err := client.attach(conn)
	if err != nil {
		return nil, err
	}
	go client.watch(closed)

	return client, nil
}

// dial retries only while the broker is still coming up.
func (c *Client) dial() (*amqp091.Connection, error) {
	var lastErr error
	for attempt := 0; attempt < maxDialAttempts; attempt++ {
		conn, err := amqp091.Dial(c.url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !isConnectionError(err) {
			break
		}
		wait := exponentialBackoff(attempt)
		c.logger.Warn("AMQP dial failed, retrying",
			"attempt", attempt+1,
			"wait", wait,
			log.FieldError, err)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("dial AMQP: %w", lastErr)
}

// attach opens the publish channel on conn, declares the exchange and makes
// conn the current connection.
func (c *Client) attach(conn *amqp091.Connection) (<-chan *amqp091.Error, error) {
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(channel, c.exchangeName); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup exchange: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return closed, nil
}

func declareExchange(channel *amqp091.Channel, name string) error {
	return channel.ExchangeDeclare(
		name,     // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

// watch redials whenever the current connection closes, until Close.
func (c *Client) watch(closed <-chan *amqp091.Error) {
	for {
		var reason *amqp091.Error
		select {
		case <-c.done:
			return
		case reason = <-closed:
		}
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		c.conn, c.channel = nil, nil
		c.mu.Unlock()
		if reason != nil {
			c.logger.Warn("AMQP connection lost, reconnecting", log.FieldError, reason)
		} else {
			c.logger.Warn("AMQP connection closed, reconnecting")
		}

		next, ok := c.reconnect()
		if !ok {
			return
		}
		closed = next
	}
}

func (c *Client) reconnect() (<-chan *amqp091.Error, bool) {
	for attempt := 0; ; attempt++ {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(c.wait(attempt)):
		}

		closed, err := c.connect()
		if err != nil {
			c.logger.Warn("AMQP reconnect failed",
				"attempt", attempt+1,
				log.FieldError, err)
			continue
		}
		select {
		case <-c.done:
			_ = c.closeConn()
			return nil, false
		default:
		}
		c.recordSuccess()
		c.logger.Info("AMQP connection restored", "attempts", attempt+1)
		return closed, true
	}
}

// Publish sends e to the exchange under the user's channel name.
func (c *Client) Publish(ctx context.Context, e feed.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return core.Remote(log.OpPublish, "", errors.New("circuit breaker is open"))
	}

	body, err := NewChangeMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.Lock()
	channel := c.channel
	if channel == nil {
		c.mu.Unlock()
		return core.Remote(log.OpPublish, "", errors.New("publish channel not open"))
	}
	err = channel.PublishWithContext(
		ctx,
		c.exchangeName,             // exchange
		feed.ChannelName(e.UserID), // routing key
		false,                      // mandatory
		false,                      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			MessageId:    e.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	c.mu.Unlock()

	if err != nil {
		if isConnectionError(err) {
			c.recordFailure()
		}
		return core.Remote(log.OpPublish, errorCode(err), fmt.Errorf("publish message: %w", err))
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published change event",
		log.FieldChannel, feed.ChannelName(e.UserID),
		"op", e.Op,
		"exchange", c.exchangeName)
	return nil
}

// Subscribe binds a fresh exclusive, auto-delete queue to the user's channel
// and relays its deliveries. When the connection drops the subscription
// rebinds once the client has reconnected and then emits one event so the
// consumer refetches what it missed. Events closes on Unsubscribe or Close.
func (c *Client) Subscribe(ctx context.Context, userID string) (feed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	routingKey := feed.ChannelName(userID)
	ch, deliveries, err := c.consume(routingKey)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		userID:  userID,
		channel: ch,
		events:  make(chan feed.Event, relayBuffer),
		done:    make(chan struct{}),
		stop:    c.done,
		wait:    c.wait,
		logger:  c.logger.With(log.FieldChannel, routingKey),
		open: func() (io.Closer, <-chan amqp091.Delivery, error) {
			ch, deliveries, err := c.consume(routingKey)
			if err != nil {
				return nil, nil, err
			}
			return ch, deliveries, nil
		},
	}
	go sub.relay(deliveries)

	sub.logger.Info("Subscribed to change feed")
	return sub, nil
}

// consume opens a channel with a server-named queue bound to routingKey.
func (c *Client) consume(routingKey string) (*amqp091.Channel, <-chan amqp091.Delivery, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return nil, nil, core.Remote(log.OpSubscribe, "", errors.New("connection closed"))
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, core.Remote(log.OpSubscribe, errorCode(err), fmt.Errorf("open channel: %w", err))
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, nil, core.Remote(log.OpSubscribe, errorCode(err), fmt.Errorf("declare queue: %w", err))
	}

	if err := ch.QueueBind(q.Name, routingKey, c.exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, nil, core.Remote(log.OpSubscribe, errorCode(err), fmt.Errorf("bind queue: %w", err))
	}

	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, core.Remote(log.OpSubscribe, errorCode(err), fmt.Errorf("start consuming: %w", err))
	}
	return ch, deliveries, nil
}

// Close stops reconnecting and closes the connection. Open subscriptions end.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
	})
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.mu.Lock()
	conn, channel := c.conn, c.channel
	c.conn, c.channel = nil, nil
	c.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	return nil
}

type subscription struct {
	userID string
	events chan feed.Event
	done   chan struct{}
	once   sync.Once
	logger *log.Logger

	// open rebinds after a drop; nil means a drop ends the stream. stop is
	// closed when the client shuts down.
	open func() (io.Closer, <-chan amqp091.Delivery, error)
	stop <-chan struct{}
	wait func(attempt int) time.Duration

	mu      sync.Mutex
	channel io.Closer
}

func (s *subscription) Events() <-chan feed.Event { return s.events }

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		ch := s.channel
		s.channel = nil
		s.mu.Unlock()
		if ch != nil {
			err = ch.Close()
			if errors.Is(err, amqp091.ErrClosed) {
				err = nil
			}
		}
		s.logger.Info("Unsubscribed from change feed")
	})
	return err
}

func (s *subscription) relay(deliveries <-chan amqp091.Delivery) {
	defer close(s.events)
	for {
		if !s.pump(deliveries) {
			return
		}
		if s.open == nil {
			return
		}
		var ok bool
		if deliveries, ok = s.resume(); !ok {
			return
		}
		s.forward(feed.NewEvent(s.userID, feed.OpUpdate))
	}
}

// pump forwards deliveries until they stop. It reports false when the
// subscription was released and true when the deliveries channel closed.
func (s *subscription) pump(deliveries <-chan amqp091.Delivery) bool {
	for {
		select {
		case <-s.done:
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			msg, err := ChangeMessageFromJSON(d.Body)
			if err != nil {
				s.logger.Warn("Dropping malformed change message", log.FieldError, err)
				continue
			}
			s.forward(msg.Event())
		}
	}
}

func (s *subscription) forward(e feed.Event) {
	select {
	case s.events <- e:
	default:
		// A pending event already asks for a refetch.
	}
}

// resume rebinds with backoff until it succeeds, the subscription is
// released or the client closes.
func (s *subscription) resume() (<-chan amqp091.Delivery, bool) {
	s.logger.Warn("Change feed dropped, resubscribing")
	for attempt := 0; ; attempt++ {
		select {
		case <-s.done:
			return nil, false
		case <-s.stop:
			return nil, false
		case <-time.After(s.wait(attempt)):
		}

		ch, deliveries, err := s.open()
		if err != nil {
			s.logger.Debug("Resubscribe failed",
				"attempt", attempt+1,
				log.FieldError, err)
			continue
		}

		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			_ = ch.Close()
			return nil, false
		default:
		}
		s.channel = ch
		s.mu.Unlock()

		s.logger.Info("Change feed resubscribed", "attempts", attempt+1)
		return deliveries, true
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", atomic.LoadInt64(&c.failureCount))
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	const maxBackoff = 30 * time.Second
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "use of closed network connection", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func errorCode(err error) string {
	var ae *amqp091.Error
	if errors.As(err, &ae) {
		return strconv.Itoa(ae.Code)
	}
	return ""
}
