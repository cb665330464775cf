package queue

import (
	"context"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
)

const (
	sendExchangeName = "otp-dispatch.send"
	dlxExchangeName  = "otp-dispatch.dlx"
	queuePrefix      = "notifications."
)

// Publisher hands send requests to the broker. The message type picks the
// work queue.
type Publisher interface {
	Publish(ctx context.Context, msg SendRequestMessage) error
	Close() error
}

// MessageHandler processes one decoded send request. A nil return acks the
// delivery.
type MessageHandler func(ctx context.Context, msg SendRequestMessage) error

// Consumer feeds deliveries from one queue into a handler until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// RoutingKey is the lower-cased type, shared by the send and dead-letter
// exchanges.
func RoutingKey(notificationType domain.NotificationType) string {
	return strings.ToLower(notificationType.String())
}

// QueueName returns the work queue for a type, e.g. notifications.email.
func QueueName(notificationType domain.NotificationType) string {
	return queuePrefix + RoutingKey(notificationType)
}

// DLQName returns the dead-letter queue for a type, e.g. dlq.notifications.email.
func DLQName(notificationType domain.NotificationType) string {
	return "dlq." + QueueName(notificationType)
}

func WorkQueueNames() []string {
	return mapTypes(QueueName)
}

func DLQNames() []string {
	return mapTypes(DLQName)
}

func mapTypes(name func(domain.NotificationType) string) []string {
	types := domain.NotificationTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, name(t))
	}
	return names
}
