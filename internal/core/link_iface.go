package core

import (
	"time"

	"github.com/dkeye/voicerelay/internal/domain"
)

// Frame is an encoded outbound message.
type Frame []byte

// Link abstracts one client control connection.
// Owned by the adapter; sessions only hold a reference for event delivery.
type Link interface {
	ID() domain.LinkID
	// Send queues f without blocking. It fails with domain.ErrLinkUnreachable
	// once the underlying transport is closed.
	Send(f Frame) error
	// Open reports whether the underlying transport is still usable.
	Open() bool
	// Terminate closes the transport immediately. Safe to call repeatedly.
	Terminate(reason string)

	// Ping sends a liveness probe.
	Ping() error
	// MarkProbed clears the alive flag and returns its previous value.
	MarkProbed() bool
	// Ack records a probe acknowledgment.
	Ack()
	LastPongAt() time.Time
}
