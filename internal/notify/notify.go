package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// EventDocumentsEnqueued tells workers there is new work
	EventDocumentsEnqueued = "documents_enqueued"

	contentType = "application/json"
)

// Wakeup is the message published to idle workers
type Wakeup struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Publisher is the subset of the RabbitMQ client used for wakeups
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Notifier publishes wakeups, coalescing calls that arrive within
// minInterval of the last published one.
type Notifier struct {
	publisher   Publisher
	minInterval time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewNotifier creates a wakeup notifier
func NewNotifier(publisher Publisher, minInterval time.Duration) *Notifier {
	return &Notifier{
		publisher:   publisher,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Notify publishes a wakeup unless one went out less than minInterval ago
func (n *Notifier) Notify(ctx context.Context) error {
	now := n.now()

	n.mu.Lock()
	if !n.last.IsZero() && now.Sub(n.last) < n.minInterval {
		n.mu.Unlock()
		return nil
	}
	n.last = now
	n.mu.Unlock()

	body, err := json.Marshal(Wakeup{Event: EventDocumentsEnqueued, At: now.UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal wakeup: %w", err)
	}

	if err := n.publisher.Publish(ctx, body, contentType); err != nil {
		n.mu.Lock()
		n.last = time.Time{}
		n.mu.Unlock()
		return fmt.Errorf("failed to publish wakeup: %w", err)
	}

	return nil
}

// Decode parses a wakeup message body
func Decode(body []byte) (Wakeup, error) {
	var w Wakeup
	if err := json.Unmarshal(body, &w); err != nil {
		return Wakeup{}, fmt.Errorf("failed to decode wakeup: %w", err)
	}
	return w, nil
}
