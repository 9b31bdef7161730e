package queue

import "errors"

var (
	// ErrConfiguration is returned when required setup values are missing
	ErrConfiguration = errors.New("configuration error")

	// ErrStorage wraps failures reported by the queue store
	ErrStorage = errors.New("storage error")

	// ErrDelivery is returned when the search index rejects a batch
	ErrDelivery = errors.New("delivery error")

	// ErrInvalidArgument is returned for unusable call arguments
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidEntry is returned when an entry cannot be enqueued
	ErrInvalidEntry = errors.New("invalid entry")
)
