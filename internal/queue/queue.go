// Package queue is the task hand-off boundary between the dispatch
// orchestrator and the background delivery worker. The transport is
// pluggable: an AMQP broker for multi-process deployments, an in-process
// channel when no broker is configured. Retry-with-backoff beyond a single
// redelivery belongs to the broker, not to this package.
package queue

import "context"

// DeliveryTask names the push records one background delivery run resolves.
type DeliveryTask struct {
	Alias   string   `json:"alias"`
	MsgUIDs []string `json:"msgUids"`
}

// Handler processes one task. A non-nil error requests redelivery, which the
// transport honors at most once; delivery failures themselves are persisted
// per record by the handler, so a poisoned task is dropped, not looped.
type Handler func(ctx context.Context, task DeliveryTask) error

type Queue interface {
	Publish(ctx context.Context, task DeliveryTask) error

	// Consume blocks, feeding tasks to handler until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error

	Close() error
}
