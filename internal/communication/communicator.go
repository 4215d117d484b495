package communication

import "context"

// ControllerConn is the controller's end of the isolation boundary.
type ControllerConn interface {
	SendRequest(ctx context.Context, req Request) error
	ReceiveReply(ctx context.Context) (Reply, error)
	Close() error
}

// WorkerConn is the execution context's end of the isolation boundary.
// Both ends fail with ErrTransportClosed once the other side is gone.
type WorkerConn interface {
	ReceiveRequest(ctx context.Context) (Request, error)
	SendReply(ctx context.Context, reply Reply) error
	Close() error
}
