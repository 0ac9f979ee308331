package broker

import (
	"sync/atomic"

	"fpgalab/cmd/internal/proto"
)

// Handle queue sizes. Queues are bounded so a slow or wedged session can
// never stall the broker loop; a full queue is treated like a dead peer.
const (
	defaultBoardQueueSize = 64
	defaultUserQueueSize  = 64
)

var nextHandleID atomic.Uint64

// BoardDelivery is one outbound item for a board session: a relayed command
// or a raw bitstream payload. Exactly one field is set.
type BoardDelivery struct {
	Command   *proto.BoardCommand
	Bitstream []byte
}

// BoardHandle is the broker's revocable reference to a live board session.
//
// Identity for pool/binding purposes is the connection (the handle id), not
// the declared BoardInfo: two devices may report identical descriptors.
// Liveness is the session's done channel; the session closes it on teardown
// and the broker discovers it on the next reconcile tick.
type BoardHandle struct {
	id   uint64
	info proto.BoardInfo
	send chan BoardDelivery
	done <-chan struct{}
}

// NewBoardHandle builds a handle around a session's done channel.
// queueSize <= 0 selects the default.
func NewBoardHandle(info proto.BoardInfo, queueSize int, done <-chan struct{}) *BoardHandle {
	if queueSize <= 0 {
		queueSize = defaultBoardQueueSize
	}
	return &BoardHandle{
		id:   nextHandleID.Add(1),
		info: info,
		send: make(chan BoardDelivery, queueSize),
		done: done,
	}
}

// Info returns the device identity declared at authentication time.
func (h *BoardHandle) Info() proto.BoardInfo { return h.info }

// Deliveries is consumed by the owning session's writer goroutine.
func (h *BoardHandle) Deliveries() <-chan BoardDelivery { return h.send }

// Alive reports whether the owning session is still running.
func (h *BoardHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// UserHandle is the broker's revocable reference to a live user session.
// Binding equality is by user name: a later connection under the same name
// supersedes the earlier one.
type UserHandle struct {
	name string
	send chan proto.UserEvent
	done <-chan struct{}
}

// NewUserHandle builds a handle around a session's done channel.
func NewUserHandle(name string, queueSize int, done <-chan struct{}) *UserHandle {
	if queueSize <= 0 {
		queueSize = defaultUserQueueSize
	}
	return &UserHandle{
		name: name,
		send: make(chan proto.UserEvent, queueSize),
		done: done,
	}
}

// Name returns the authenticated user name this handle binds under.
func (h *UserHandle) Name() string { return h.name }

// Events is consumed by the owning session's writer goroutine.
func (h *UserHandle) Events() <-chan proto.UserEvent { return h.send }

// Alive reports whether the owning session is still running.
func (h *UserHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Notify lets the owning session enqueue a locally generated event onto its
// own sink, e.g. an immediate ProgramBitstreamFinish(false) when a job
// lookup fails before the broker is ever involved. Same non-blocking
// contract as broker-side sends.
func (h *UserHandle) Notify(ev proto.UserEvent) bool { return trySendUser(h, ev) }

// trySendBoard enqueues a delivery without ever blocking. A full queue or a
// dead session counts as failure; the caller treats both like a dead peer.
func trySendBoard(h *BoardHandle, d BoardDelivery) bool {
	if h == nil || !h.Alive() {
		return false
	}
	select {
	case h.send <- d:
		return true
	default:
		return false
	}
}

// trySendUser enqueues an event without ever blocking.
func trySendUser(h *UserHandle, ev proto.UserEvent) bool {
	if h == nil || !h.Alive() {
		return false
	}
	select {
	case h.send <- ev:
		return true
	default:
		return false
	}
}
