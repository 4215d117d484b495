package communication

import "context"

// SessionHandler serves one controller connection until it closes.
type SessionHandler func(ctx context.Context, conn WorkerConn) error
