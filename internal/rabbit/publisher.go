package rabbit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/notifyhub/gateway/internal/domain"
)

const (
	defaultPublishAttempts = 5
	publishTimeout         = 5 * time.Second
)

// Message is a fully-serialized wire message. The body must already be
// wire-safe JSON; the publisher performs no domain encoding.
type Message struct {
	Body          []byte
	CorrelationID string
	Headers       map[string]interface{}
}

// Publisher publishes messages to the direct exchange, marked persistent so
// they survive a broker restart. Transient failures are retried with bounded
// exponential backoff; a successful return means the broker acknowledged
// receipt, not that a consumer processed the message.
type Publisher struct {
	provider ChannelProvider
	attempts int
	base     time.Duration
	cap      time.Duration
	log      zerolog.Logger
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPublishAttempts bounds the per-publish retry budget
func WithPublishAttempts(attempts int) PublisherOption {
	return func(p *Publisher) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithPublishBackoff sets the exponential backoff base and cap
func WithPublishBackoff(base, cap time.Duration) PublisherOption {
	return func(p *Publisher) {
		if base > 0 {
			p.base = base
		}
		if cap > 0 {
			p.cap = cap
		}
	}
}

// WithPublisherLogger sets the publisher logger
func WithPublisherLogger(log zerolog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.log = log
	}
}

// NewPublisher creates a publisher on top of the given channel provider
func NewPublisher(provider ChannelProvider, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		provider: provider,
		attempts: defaultPublishAttempts,
		base:     defaultBackoffBase,
		cap:      defaultBackoffCap,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers the message to the direct exchange with the given routing
// key. After the retry budget is exhausted the failure surfaces once as
// ErrPublish.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg Message) error {
	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationID,
		Headers:       amqp.Table(msg.Headers),
		Body:          msg.Body,
	}

	attempt := 0
	op := func() error {
		attempt++
		ch, err := p.provider.Channel()
		if err != nil {
			p.log.Warn().Err(err).Int("attempt", attempt).Str("routing_key", routingKey).Msg("publish: no channel")
			return err
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := ch.PublishWithContext(pubCtx, ExchangeDirect, routingKey, false, false, publishing); err != nil {
			p.log.Warn().Err(err).Int("attempt", attempt).Str("routing_key", routingKey).Msg("publish failed")
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.base
	bo.MaxInterval = p.cap
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.attempts-1)), ctx))
	if err != nil {
		return errors.Wrapf(domain.ErrPublish, "publish to %q: %s", routingKey, err)
	}
	return nil
}
