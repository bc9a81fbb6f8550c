package broker

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrAccessRefused: the credentials may not inspect the queue. For a
	// read-only consumer this means "present".
	ErrAccessRefused = errors.New("broker: access refused")
	ErrQueueNotFound = errors.New("broker: queue not found")
	ErrNotConnected  = errors.New("broker: not connected")
)

// Delivery is one message pulled from the queue.
type Delivery struct {
	Tag         uint64
	Body        []byte
	Redelivered bool
}

type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

type Channel interface {
	Qos(prefetch int) error
	// QueueDeclarePassive checks the queue exists without creating it.
	QueueDeclarePassive(name string) error
	// Consume starts a manual-ack consumer. The returned channel is closed
	// when the channel or connection goes away.
	Consume(queue, consumer string) (<-chan Delivery, error)
	Ack(tag uint64) error
	IsClosed() bool
	Close() error
}
