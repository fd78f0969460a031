package core

import "context"

// Frame is a raw text payload.
type Frame []byte

// CloseCode values match RFC 6455 so adapters can pass them through.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseProtocolError   CloseCode = 1002
	ClosePolicyViolation CloseCode = 1008
	CloseInternalError   CloseCode = 1011
	// CloseTryAgainLater is sent when admission control throttles a peer.
	CloseTryAgainLater CloseCode = 1013
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking.
	TrySend(Frame) error
	Close()
}

// Peer is a live duplex connection handed to the router.
type Peer interface {
	SignalConnection
	// Receive blocks until the next inbound frame, ctx is done or the
	// transport fails.
	Receive(ctx context.Context) (Frame, error)
	// CloseWith sends a close frame with code and reason, then closes.
	// Calling it more than once is a no-op.
	CloseWith(code CloseCode, reason string)
}
