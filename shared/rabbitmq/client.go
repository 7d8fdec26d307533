package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPublishRetries = 3
	defaultRetryDelay     = 100 * time.Millisecond
	defaultBackoffMult    = 2.0
	defaultDialTimeout    = 30 * time.Second
)

// ErrNotConnected is returned by publishes while the connection is down
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string // optional; when set, declared and bound with BindingKey
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	BindingKey         string // e.g. simulation.#
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	AppID              string // stamped on every message
}

// Client publishes to a single exchange. A closed channel marks the client
// disconnected; the next publish reconnects.
type Client struct {
	config *Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
}

// NewClient connects with up to RetryAttempts dials, declares the topology and
// enables publisher confirms
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	if err := client.connect(context.Background(), config.RetryAttempts); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// uri builds the AMQP URI with credentials escaped
func (c *Client) uri() string {
	vhost := c.config.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.config.Host,
		Port:     c.config.Port,
		Username: c.config.User,
		Password: c.config.Password,
		Vhost:    vhost,
	}.String()
}

// connect dials up to attempts times, giving up as soon as ctx is done.
// Callers hold c.mu.
func (c *Client) connect(ctx context.Context, attempts int) error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
		Dial:      c.dialer(ctx),
	}

	if attempts <= 0 {
		attempts = 1
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.uri(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			select {
			case <-time.After(c.config.RetryInterval):
			case <-ctx.Done():
				return fmt.Errorf("connect canceled: %w", ctx.Err())
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	closed := channel.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch(closed)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// dialer opens the TCP connection under ctx. The deadline also bounds the
// AMQP handshake; amqp091 clears it once the connection is open.
func (c *Client) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	timeout := c.config.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	return func(network, addr string) (net.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}

		deadline, _ := dialCtx.Deadline()
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// watch marks the client disconnected when the broker closes the channel
func (c *Client) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok {
		return
	}

	c.logger.Warn("RabbitMQ channel closed",
		slog.String("reason", amqpErr.Reason),
		slog.Int("code", amqpErr.Code),
	)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// setup declares the exchange and, if configured, the bound queue
func (c *Client) setup(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.QueueName == "" {
		return nil
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.BindingKey,   // binding key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil && !c.conn.IsClosed()
}

// PublishWithRetry publishes a persistent message and waits for the broker
// confirm, retrying with exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	policy := c.retryPolicy()

	var lastErr error
	for attempt := 0; attempt <= policy.retries; attempt++ {
		err := c.publish(ctx, routingKey, body, contentType)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Published message to RabbitMQ after retry",
					slog.String("routing_key", routingKey),
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		lastErr = err

		if attempt < policy.retries {
			delay := policy.delay(attempt)
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
				slog.String("routing_key", routingKey),
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("publish canceled: %w", ctx.Err())
			}
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", policy.retries+1, lastErr)
}

// publish sends one message. After a lost channel it makes a single dial
// under ctx; PublishWithRetry's backoff paces further attempts.
func (c *Client) publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	c.mu.Lock()
	if !c.connected {
		if err := c.connect(ctx, 1); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}
	channel := c.channel
	c.mu.Unlock()

	confirm, err := channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		routingKey,            // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			AppId:        c.config.AppID,
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message for %s", routingKey)
	}

	return nil
}

type retryPolicy struct {
	retries int
	base    time.Duration
	mult    float64
}

func (c *Client) retryPolicy() retryPolicy {
	p := retryPolicy{
		retries: c.config.PublishRetries,
		base:    c.config.PublishRetryDelay,
		mult:    c.config.PublishBackoffMult,
	}
	if p.retries <= 0 {
		p.retries = defaultPublishRetries
	}
	if p.base <= 0 {
		p.base = defaultRetryDelay
	}
	if p.mult <= 0 {
		p.mult = defaultBackoffMult
	}
	return p
}

// delay is base * mult^attempt
func (p retryPolicy) delay(attempt int) time.Duration {
	return time.Duration(float64(p.base) * math.Pow(p.mult, float64(attempt)))
}
