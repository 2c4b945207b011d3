package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw encoded signaling message.
type Frame []byte

//go:generate mockgen -source=signal_iface.go -destination=mocks/signal_mock.go -package=mocks

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks: a full buffer yields ErrBackpressure.
	TrySend(Frame) error
	Close()
}
