// Package queue holds jobs waiting for a runner worker.
package queue

import "context"

// Queue defines the interface for job queues.
type Queue interface {
	// Push adds an item to the queue
	Push(item *Item) error

	// Pop removes and returns the next item from the queue
	Pop() (*Item, error)

	// PopWait blocks until an item is available, the queue is closed or
	// ctx is done
	PopWait(ctx context.Context) (*Item, error)

	// Len returns the number of items in the queue
	Len() int

	// Remove drops a queued job
	Remove(jobID string) bool

	// Close closes the queue and wakes all waiters
	Close() error

	// Contains checks if a job is already queued
	Contains(jobID string) bool
}
