package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/metrics"
)

// AMQPPublisher publishes events as persistent JSON messages to a topic exchange.
type AMQPPublisher struct {
	cfg     config.AMQP
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher creates a publisher. Call Connect before publishing.
func NewAMQPPublisher(cfg config.AMQP, log logrus.FieldLogger, m *metrics.Metrics) *AMQPPublisher {
	return &AMQPPublisher{cfg: cfg, log: log, metrics: m}
}

// Connect dials the broker and declares the exchange, retrying with
// exponential backoff until ctx is done.
func (p *AMQPPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.RetryNotify(p.connectLocked, b, func(err error, wait time.Duration) {
		p.log.WithError(err).WithField("retry_in", wait).Warn("AMQP connection failed, retrying")
	})
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring exchange %s: %w", p.cfg.Exchange, err)
	}

	p.conn, p.channel = conn, ch
	p.log.WithField("exchange", p.cfg.Exchange).Info("Connected to AMQP broker")
	return nil
}

// Publish sends one event. A broken channel is dropped so the next publish
// reconnects.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		if err := p.connectLocked(); err != nil {
			p.metrics.PublishError("amqp")
			return err
		}
	}

	err = p.channel.Publish(
		p.cfg.Exchange,
		p.routingKey(e),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Type:         e.Type,
			Timestamp:    e.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		p.metrics.PublishError("amqp")
		p.closeLocked()
		return fmt.Errorf("publishing %s: %w", e.Type, err)
	}

	p.log.WithFields(logrus.Fields{
		"event_id": e.ID,
		"type":     e.Type,
	}).Debug("Published event to AMQP")
	return nil
}

// routingKey uses the configured key for global updates and the event type
// for everything else.
func (p *AMQPPublisher) routingKey(e Event) string {
	if e.Type == TypeGlobalUpdated && p.cfg.RoutingKey != "" {
		return p.cfg.RoutingKey
	}
	return e.Type
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() error {
	var err error
	if p.channel != nil {
		err = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}
