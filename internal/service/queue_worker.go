package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"github.com/kursadbilgin/otp-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// QueueWorker drains the per-type send queues into the dispatcher.
type QueueWorker struct {
	sender      Sender
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewQueueWorker(sender Sender, consumer queue.Consumer, concurrency int, logger *zap.Logger) (*QueueWorker, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueWorker{
		sender:      sender,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *QueueWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes every type queue until ctx is cancelled. Each queue gets at
// least one consumer; extra concurrency is spread round-robin.
func (w *QueueWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	workers := max(w.concurrency, len(queueNames))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage hands one request to the dispatcher. Delivery outcomes are
// already stored on the notification record, so they ack the message; only
// infrastructure errors are returned for redelivery.
func (w *QueueWorker) processMessage(ctx context.Context, msg queue.SendRequestMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("requestId", msg.RequestID),
		zap.String("type", msg.Type.String()),
	)

	typeName := msg.Type.String()
	w.metrics.IncWorkerInFlight(typeName)
	defer w.metrics.DecWorkerInFlight(typeName)

	notification, err := w.sender.Send(ctx, msg.ToSendRequest())
	switch {
	case err == nil:
		logger.Debug("queued request dispatched",
			zap.String("notificationId", notification.ID),
			zap.String("status", notification.Status.String()),
		)
		return nil
	case errors.Is(err, domain.ErrDeliveryFailed), errors.Is(err, domain.ErrNoProvider):
		logger.Warn("queued request delivery failed", zap.Error(err))
		return nil
	case errors.Is(err, domain.ErrValidation):
		logger.Warn("queued request rejected", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("failed to dispatch queued request: %w", err)
	}
}
