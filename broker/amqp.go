package broker

import (
	"encoding/json"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var _ Notifier = &AMQPNotifier{}

const (
	notificationExchange string = "billing_notification"
	alertExchange               = "billing_alert"

	routingKeyConfirmation string = "email.confirmation"
	routingKeyTrial               = "email.trial"
	routingKeyStalled             = "activation.stalled"
)

// AMQPNotifier publishes notification and alert events via RabbitMQ
type AMQPNotifier struct {
	logger     *zap.Logger
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPNotifier returns a Notifier over RabbitMQ
func NewAMQPNotifier(logger *zap.Logger, amqpURI string) (*AMQPNotifier, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	notifier := &AMQPNotifier{
		logger:     logger,
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := notifier.setupExchange(notificationExchange); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for notifications")
	}
	if err := notifier.setupExchange(alertExchange); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for alerts")
	}

	return notifier, nil
}

func (a *AMQPNotifier) setupExchange(name string) error {
	return a.channel.ExchangeDeclare(
		name,     // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPNotifier) Close() {
	a.channel.Close()
	a.connection.Close()
}

func (a *AMQPNotifier) publishViaRoutingKey(exchange, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode event into bytes")
	}
	return a.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// NotifyPaymentConfirmed will publish a confirmation email event for the external mailer
func (a *AMQPNotifier) NotifyPaymentConfirmed(n PaymentConfirmedNotice) error {
	if err := a.publishViaRoutingKey(notificationExchange, routingKeyConfirmation, n); err != nil {
		return extErrors.Wrap(err, "Cannot publish payment confirmed notice")
	}
	return nil
}

// NotifyTrialStarted will publish a trial instructions email event for the external mailer
func (a *AMQPNotifier) NotifyTrialStarted(n TrialStartedNotice) error {
	if err := a.publishViaRoutingKey(notificationExchange, routingKeyTrial, n); err != nil {
		return extErrors.Wrap(err, "Cannot publish trial started notice")
	}
	return nil
}

// AlertActivationStalled will publish an alert for a completed payment whose activation lagged
func (a *AMQPNotifier) AlertActivationStalled(alert ActivationAlert) error {
	if err := a.publishViaRoutingKey(alertExchange, routingKeyStalled, alert); err != nil {
		return extErrors.Wrap(err, "Cannot publish activation stalled alert")
	}
	return nil
}
