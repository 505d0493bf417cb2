package rabbit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	defaultConnectAttempts = 10
	defaultBackoffBase     = time.Second
	defaultBackoffCap      = 10 * time.Second
)

// ConnState identifies the connection lifecycle phase
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Channel is the subset of the AMQP channel API the gateway uses.
// *amqp091.Channel satisfies it; tests substitute fakes.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
}

// ChannelProvider yields a live broker channel, reconnecting as needed
type ChannelProvider interface {
	Channel() (Channel, error)
}

// Dialer opens an AMQP connection; injectable for tests
type Dialer func(url string) (*amqp.Connection, error)

// Conn owns the broker connection lifecycle as an explicit state machine:
// Disconnected -> Connecting -> Connected. Reconnection runs inside a single
// critical section, so concurrent publishers racing a reconnect either reuse
// the channel the winner opened or wait their turn; none of them is ever
// handed a half-closed channel.
type Conn struct {
	url             string
	dialer          Dialer
	connectAttempts int
	backoffBase     time.Duration
	backoffCap      time.Duration
	log             zerolog.Logger

	mu      sync.Mutex
	state   ConnState
	conn    *amqp.Connection
	channel *amqp.Channel
}

// ConnOption configures a Conn
type ConnOption func(*Conn)

// WithDialer overrides how the AMQP connection is opened
func WithDialer(dialer Dialer) ConnOption {
	return func(c *Conn) {
		c.dialer = dialer
	}
}

// WithConnectAttempts bounds the connect retry budget
func WithConnectAttempts(attempts int) ConnOption {
	return func(c *Conn) {
		if attempts > 0 {
			c.connectAttempts = attempts
		}
	}
}

// WithConnectBackoff sets the exponential backoff base and cap for connects
func WithConnectBackoff(base, cap time.Duration) ConnOption {
	return func(c *Conn) {
		if base > 0 {
			c.backoffBase = base
		}
		if cap > 0 {
			c.backoffCap = cap
		}
	}
}

// WithConnLogger sets the connection logger
func WithConnLogger(log zerolog.Logger) ConnOption {
	return func(c *Conn) {
		c.log = log
	}
}

// NewConn creates a connection manager in the Disconnected state. No network
// activity happens until the first Channel call.
func NewConn(url string, opts ...ConnOption) *Conn {
	c := &Conn{
		url:             url,
		dialer:          amqp.Dial,
		connectAttempts: defaultConnectAttempts,
		backoffBase:     defaultBackoffBase,
		backoffCap:      defaultBackoffCap,
		log:             zerolog.Nop(),
		state:           Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Channel returns the shared broker channel, establishing or re-establishing
// the connection when necessary.
func (c *Conn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Connected && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}

	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// connectLocked dials the broker with bounded exponential backoff.
// Callers must hold c.mu.
func (c *Conn) connectLocked() error {
	c.teardownLocked()
	c.state = Connecting

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffCap
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		conn, err := c.dialer(c.url)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("broker connect failed")
			return err
		}
		channel, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("broker channel open failed")
			return err
		}
		c.conn = conn
		c.channel = channel
		return nil
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(c.connectAttempts-1))); err != nil {
		c.state = Disconnected
		return errors.Wrapf(err, "failed to connect to broker after %d attempts", c.connectAttempts)
	}

	c.state = Connected
	c.log.Info().Str("state", c.state.String()).Msg("connected to broker")
	return nil
}

// teardownLocked drops any half-closed connection. Callers must hold c.mu.
func (c *Conn) teardownLocked() {
	if c.channel != nil && !c.channel.IsClosed() {
		_ = c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.channel = nil
	c.conn = nil
	c.state = Disconnected
}

// State returns the current lifecycle phase
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close shuts the connection down
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}
