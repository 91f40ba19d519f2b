package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPConfig locates the exchange notifications are published to.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPDispatcher publishes notifications as JSON to a durable topic
// exchange. Routing keys are "notification.<template>" so mail, chat and
// audit consumers can bind to what they need.
type AMQPDispatcher struct {
	cfg AMQPConfig
	log zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPDispatcher(cfg AMQPConfig, log zerolog.Logger) (*AMQPDispatcher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "balance.notifications"
	}
	d := &AMQPDispatcher{cfg: cfg, log: log}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *AMQPDispatcher) connect() error {
	conn, err := amqp.Dial(d.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		d.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	d.conn = conn
	d.channel = ch
	d.log.Info().Str("exchange", d.cfg.Exchange).Msg("connected to RabbitMQ")
	return nil
}

// RoutingKey is the key a notification is published under.
func RoutingKey(n Notification) string {
	return "notification." + string(n.Template)
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.channel == nil || d.channel.IsClosed() {
		if d.conn != nil {
			d.conn.Close()
		}
		if err := d.connect(); err != nil {
			return err
		}
	}

	err = d.channel.PublishWithContext(ctx,
		d.cfg.Exchange,
		RoutingKey(n),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    n.ID,
			Timestamp:    n.CreatedAt,
			Type:         string(n.Template),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (d *AMQPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != nil {
		d.channel.Close()
		d.channel = nil
	}
	if d.conn != nil {
		err := d.conn.Close()
		d.conn = nil
		return err
	}
	return nil
}
