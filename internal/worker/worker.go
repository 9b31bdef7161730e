package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/index-queue/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Subscriber delivers wakeup messages published by producers
type Subscriber interface {
	Subscribe(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Queue           *queue.Service
	Subscriber      Subscriber // nil disables wakeups; goroutines only poll
	WorkerID        string
	Concurrency     int
	BatchSize       int
	PollInterval    time.Duration
	StaleThreshold  time.Duration
	DeliveryTimeout time.Duration
}

// Worker drains the document queue into the search index
type Worker struct {
	logger          *slog.Logger
	queue           *queue.Service
	subscriber      Subscriber
	workerID        string
	concurrency     int
	batchSize       int
	pollInterval    time.Duration
	staleThreshold  time.Duration
	deliveryTimeout time.Duration

	wakeChans []chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	wakeChans := make([]chan struct{}, concurrency)
	for i := range wakeChans {
		wakeChans[i] = make(chan struct{}, 1)
	}

	return &Worker{
		logger:          logger,
		queue:           cfg.Queue,
		subscriber:      cfg.Subscriber,
		workerID:        cfg.WorkerID,
		concurrency:     concurrency,
		batchSize:       cfg.BatchSize,
		pollInterval:    cfg.PollInterval,
		staleThreshold:  cfg.StaleThreshold,
		deliveryTimeout: cfg.DeliveryTimeout,
		wakeChans:       wakeChans,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start runs the worker pool and blocks until ctx is canceled or Stop is
// called.
func (w *Worker) Start(ctx context.Context) error {
	defer close(w.done)

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("batch_size", w.batchSize),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("stale_threshold", w.staleThreshold),
	)

	var deliveries <-chan amqp.Delivery
	if w.subscriber != nil {
		d, err := w.setupConsumer()
		if err != nil {
			return err
		}
		deliveries = d
	}

	g, gctx := errgroup.WithContext(ctx)

	w.spawnWorkerPool(gctx, g)

	g.Go(func() error {
		w.refreshStats(gctx)
		return nil
	})

	if deliveries != nil {
		g.Go(func() error {
			w.startMessageDispatcher(gctx, deliveries)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool failed: %w", err)
	}

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop signals every goroutine to finish its current batch and waits for
// Start to return.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	<-w.done
}

// goroutineName labels goroutine n in logs. Claims are always made under
// the shared worker id so any later run can reap them.
func (w *Worker) goroutineName(n int) string {
	return fmt.Sprintf("%s-%d", w.workerID, n)
}

// refreshStats keeps the queue depth gauges current
func (w *Worker) refreshStats(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.queue.Stats(ctx); err != nil && ctx.Err() == nil {
			w.logger.Debug("Failed to refresh queue stats", slog.Any("error", err))
		}

		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
