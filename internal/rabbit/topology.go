package rabbit

import (
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/notifyhub/gateway/internal/domain"
)

// Broker topology names. Messages route through the direct exchange; broker
// dead-lettering moves undeliverable messages to the fanout failed exchange
// and from there into the failed queue.
const (
	ExchangeDirect = "notifications.direct"
	ExchangeFailed = "notifications.failed"

	QueueEmail  = "email.queue"
	QueuePush   = "push.queue"
	QueueFailed = "notification.failed"

	RoutingKeyEmail = "email"
	RoutingKeyPush  = "push"
)

// DeclareTopology idempotently establishes the exchange/queue/binding graph.
// Redeclaring with identical arguments is a no-op on the broker side. A
// pre-existing entity with conflicting arguments surfaces as
// ErrTopologyConflict; any other failure (typically an unreachable broker)
// is returned as-is so the caller can continue in degraded mode.
func DeclareTopology(provider ChannelProvider) error {
	ch, err := provider.Channel()
	if err != nil {
		return errors.Wrap(err, "topology setup: broker unreachable")
	}

	if err := ch.ExchangeDeclare(ExchangeDirect, "direct", true, false, false, false, nil); err != nil {
		return declareError(err, "exchange "+ExchangeDirect)
	}
	if err := ch.ExchangeDeclare(ExchangeFailed, "fanout", true, false, false, false, nil); err != nil {
		return declareError(err, "exchange "+ExchangeFailed)
	}

	dlxArgs := amqp.Table{"x-dead-letter-exchange": ExchangeFailed}
	if _, err := ch.QueueDeclare(QueueEmail, true, false, false, false, dlxArgs); err != nil {
		return declareError(err, "queue "+QueueEmail)
	}
	if _, err := ch.QueueDeclare(QueuePush, true, false, false, false, dlxArgs); err != nil {
		return declareError(err, "queue "+QueuePush)
	}
	if _, err := ch.QueueDeclare(QueueFailed, true, false, false, false, nil); err != nil {
		return declareError(err, "queue "+QueueFailed)
	}

	if err := ch.QueueBind(QueueEmail, RoutingKeyEmail, ExchangeDirect, false, nil); err != nil {
		return declareError(err, "binding "+QueueEmail)
	}
	if err := ch.QueueBind(QueuePush, RoutingKeyPush, ExchangeDirect, false, nil); err != nil {
		return declareError(err, "binding "+QueuePush)
	}
	// fanout ignores the routing key
	if err := ch.QueueBind(QueueFailed, "", ExchangeFailed, false, nil); err != nil {
		return declareError(err, "binding "+QueueFailed)
	}

	return nil
}

// declareError maps the broker's precondition-failed reply, which signals an
// entity redeclared with different arguments, to ErrTopologyConflict.
func declareError(err error, entity string) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return errors.Wrapf(domain.ErrTopologyConflict, "%s: %s", entity, amqpErr.Reason)
	}
	return errors.Wrapf(err, "failed to declare %s", entity)
}
