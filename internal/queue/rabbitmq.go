package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialTimeout      = 15 * time.Second
	heartbeat        = 10 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQ owns a single broker connection and redials it lazily. The
// exchanges and queues are declared once per connection.
type RabbitMQ struct {
	url            string
	connectionName string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

// NewRabbitMQ dials the broker. connectionName shows up in the management UI.
func NewRabbitMQ(url string, connectionName string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, connectionName: connectionName}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping opens and closes a channel without waiting out a broker outage.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := r.tryChannel()
	if err != nil {
		return err
	}
	return ch.Close()
}

// channel opens a channel on a live connection, redialing with backoff
// until ctx ends.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	wait := reconnectBackoff
	for {
		ch, err := r.tryChannel()
		if err == nil {
			return ch, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq unavailable: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (r *RabbitMQ) tryChannel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.DialConfig(r.url, r.dialConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
		}
		r.conn = conn
		r.declared = false
	}

	ch, err := r.conn.Channel()
	if err != nil {
		_ = r.conn.Close()
		r.conn = nil
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if !r.declared {
		if err := declareTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		r.declared = true
	}

	return ch, nil
}

func (r *RabbitMQ) dialConfig() amqp.Config {
	props := amqp.NewConnectionProperties()
	if r.connectionName != "" {
		props.SetClientConnectionName(r.connectionName)
	}
	return amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// declareTopology sets up, per notification type, a durable work queue bound
// to the send exchange whose rejects dead-letter into a matching DLQ.
func declareTopology(ch *amqp.Channel) error {
	for _, exchange := range []string{sendExchangeName, dlxExchangeName} {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
		}
	}

	for _, notificationType := range domain.NotificationTypes() {
		routingKey := RoutingKey(notificationType)

		dlq := DLQName(notificationType)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, routingKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
		}

		work := QueueName(notificationType)
		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": routingKey,
		}
		if _, err := ch.QueueDeclare(work, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", work, err)
		}
		if err := ch.QueueBind(work, routingKey, sendExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", work, err)
		}
	}

	return nil
}
