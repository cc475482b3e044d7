package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"splitter/internal/log"
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	baseBackoff    = time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
	prefetchCount  = 10
)

var (
	ErrClientClosed = errors.New("amqp client closed")
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	errNotConnected = errors.New("amqp channel not connected")
)

// Config names the broker and the topology the client declares
type Config struct {
	URL              string
	Exchange         string
	RequestQueue     string
	ResultRoutingKey string
}

// Client is a reconnecting AMQP client. Publishing is guarded by a circuit
// breaker; consuming reconnects with exponential backoff until the context ends.
type Client struct {
	url              string
	exchangeName     string
	queueName        string
	resultRoutingKey string
	logger           *log.Logger

	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closed  atomic.Bool

	// breaker guards publishing
	breaker *gobreaker.CircuitBreaker
}

// SplitRequestHandler processes one consumed split request
type SplitRequestHandler func(ctx context.Context, msg *SplitRequestMessage) error

func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	c := &Client{
		url:              cfg.URL,
		exchangeName:     cfg.Exchange,
		queueName:        cfg.RequestQueue,
		resultRoutingKey: cfg.ResultRoutingKey,
		logger:           logger.WithComponent(log.ComponentAMQP),
	}
	c.breaker = c.newBreaker(openTimeout)
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// newBreaker opens after maxFailures consecutive publish failures and lets a
// single trial publish through once timeout has elapsed. A cancelled context
// is not a broker failure.
func (c *Client) newBreaker(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-publish",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log().Warn("AMQP circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func (c *Client) log() *log.Logger {
	if c.logger == nil {
		c.logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentAMQP)
	}
	return c.logger
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName, c.resultRoutingKey); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchange, requestQueue, resultKey string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Request and result queues are both bound with their own name as routing key.
	for _, queue := range []string{requestQueue, resultKey} {
		if _, err := ch.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return ch.Qos(prefetchCount, 0, false)
}

// reconnect dials again until it succeeds, the context ends or the client is closed
func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if c.closed.Load() {
			return ErrClientClosed
		}
		err := c.connect()
		if err == nil {
			c.log().InfoContext(ctx, "Reconnected to AMQP broker", "attempt", attempt+1)
			return nil
		}

		wait := exponentialBackoff(attempt)
		c.log().WarnContext(ctx, "AMQP reconnect failed",
			log.FieldError, err,
			"attempt", attempt+1,
			"retry_in", wait.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// dropConnection closes the current connection so the next operation reconnects
func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// PublishSplitResult publishes a result to the result routing key
func (c *Client) PublishSplitResult(ctx context.Context, msg *SplitResultMessage) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w, refusing to publish result %s", ErrCircuitOpen, msg.RequestID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.publish(ctx, c.resultRoutingKey, msg.RequestID, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w, refusing to publish result %s", ErrCircuitOpen, msg.RequestID)
	}
	if err != nil {
		return err
	}

	c.log().DebugContext(ctx, "Published split result",
		log.FieldMessageID, msg.RequestID,
		log.FieldExpenseID, msg.ExpenseID,
		"exchange", c.exchangeName,
		"routing_key", c.resultRoutingKey)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	ch := c.currentChannel()
	if ch == nil {
		if err := c.reconnect(ctx); err != nil {
			return fmt.Errorf("reconnect before publish: %w", err)
		}
		ch = c.currentChannel()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		if isConnectionError(err) || errors.Is(err, amqp091.ErrClosed) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// ConsumeSplitRequests consumes split requests until ctx is cancelled,
// reconnecting whenever the delivery channel closes.
//
// Malformed messages are rejected without requeue. A handler error requeues
// the message once; a redelivered message that fails again is dropped.
func (c *Client) ConsumeSplitRequests(ctx context.Context, handler SplitRequestHandler) error {
	for {
		err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.closed.Load() {
			return ErrClientClosed
		}

		c.log().WarnContext(ctx, "Consumer interrupted, reconnecting",
			log.FieldError, err,
			log.FieldOperation, log.OpConsume)
		c.dropConnection()
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) consume(ctx context.Context, handler SplitRequestHandler) error {
	ch := c.currentChannel()
	if ch == nil {
		return errNotConnected
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.log().InfoContext(ctx, "Started consuming split requests", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.log().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler SplitRequestHandler) {
	msg, err := SplitRequestMessageFromJSON(delivery.Body)
	if err != nil {
		c.log().ErrorContext(ctx, "Failed to unmarshal message",
			log.FieldError, err,
			log.FieldOperation, log.OpParse,
			log.FieldMessageID, delivery.MessageId)
		_ = delivery.Nack(false, false) // reject and don't requeue
		return
	}

	logger := c.log().With(log.FieldMessageID, msg.RequestID, log.FieldExpenseID, msg.ExpenseID)
	mctx := log.NewContext(ctx, logger)

	if err := handler(mctx, msg); err != nil {
		requeue := !delivery.Redelivered
		logger.ErrorContext(mctx, "Failed to handle message",
			log.FieldError, err,
			"requeue", requeue)
		_ = delivery.Nack(false, requeue)
		return
	}

	_ = delivery.Ack(false)
	logger.DebugContext(mctx, "Processed split request")
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at 30s
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// isConnectionError reports whether err looks like a broken broker connection
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Ready reports whether the client currently holds an open channel
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel != nil && c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
