// Package hub implements the walkie presence and relay hub: the connection
// registry, fan-out, point-to-point signaling, the recording-state tracker and
// the per-connection session state machine.
package hub

import "errors"

var (
	// ErrConnClosed is returned by Conn.Send after the connection was closed.
	ErrConnClosed = errors.New("hub: connection closed")
	// ErrSendBufferFull is returned by Conn.Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("hub: send buffer full")
)

// Conn is an outbound handle to one client connection.
//
// Send must not block: it enqueues msg for a single writer goroutine so that
// per-connection order is preserved, and fails with ErrSendBufferFull or
// ErrConnClosed instead of waiting. Close is idempotent.
type Conn interface {
	Send(msg []byte) error
	Close() error
	Closed() bool
}
