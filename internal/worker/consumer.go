package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/index-queue/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer subscribes to the wakeup exchange
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	consumerTag := w.workerID

	deliveries, err := w.subscriber.Subscribe(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to wakeups: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("worker_id", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher fans each wakeup out to every pool goroutine.
// Wakeups are hints: a goroutine that already has one pending drops the
// next, and a closed delivery channel leaves the pool polling.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-w.stopChan:
			return

		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, falling back to polling")
				return
			}

			wakeup, err := notify.Decode(delivery.Body)
			if err != nil {
				w.logger.Warn("Ignoring malformed wakeup",
					slog.String("body", string(delivery.Body)),
					slog.Any("error", err),
				)
				continue
			}

			w.logger.Debug("Wakeup received",
				slog.String("event", wakeup.Event),
				slog.Time("at", wakeup.At),
			)

			w.wakeAll()
		}
	}
}

func (w *Worker) wakeAll() {
	for _, ch := range w.wakeChans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
