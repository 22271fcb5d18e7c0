package transport

import "context"

// Handle is the per-connection transport collaborator. Accept completes the
// handshake and is the only call allowed to block on the client. Connected
// reports whether the underlying channel is still usable; an error means the
// probe itself failed.
type Handle interface {
	Accept(ctx context.Context) error
	Connected(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
	Send(message []byte)
	Close(reason error)
}

var _ Handle = (*Connection)(nil)
